package htmldom

import (
	"context"
	"testing"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

const formHTML = `<html><body>
<form>
  <div data-key="nom"><label>Nom</label><input id="nom" name="nom" value="Dupont"></div>
  <div data-key="accord"><input type="checkbox" id="accord"></div>
  <div data-key="civ">
    <input type="radio" name="civ" value="M" checked>
    <input type="radio" name="civ" value="MME">
  </div>
  <select id="pays" name="pays">
    <option value="">--</option>
    <option value="FR" selected>France</option>
    <optgroup label="x" disabled><option value="BE">Belgique</option></optgroup>
  </select>
  <textarea id="note">old</textarea>
  <section id="more" hidden><input id="deep" name="deep"></section>
  <div style="display: none"><input id="styled"></div>
  <input type="hidden" id="tech" name="tech">
</form>
</body></html>`

func mustDoc(t *testing.T) *Document {
	t.Helper()
	d, err := ParseString(formHTML)
	require.NoError(t, err)
	return d
}

func queryOne(t *testing.T, d *Document, xpath string) dom.Element {
	t.Helper()
	els, err := d.Query(context.Background(), xpath)
	require.NoError(t, err)
	require.Len(t, els, 1, "xpath %s", xpath)
	return els[0]
}

func TestSnapshotState(t *testing.T) {
	d := mustDoc(t)

	nom := queryOne(t, d, "//*[@id='nom']")
	assert.Equal(t, dom.KindText, nom.Kind())
	assert.Equal(t, "Dupont", nom.Value())
	assert.True(t, nom.Visible())
	assert.Equal(t, `//*[@id='nom']`, nom.Handle())

	pays := queryOne(t, d, "//select")
	assert.Equal(t, "FR", pays.Value())
	opts := pays.Options()
	require.Len(t, opts, 3)
	assert.Equal(t, "France", opts[1].Text)
	assert.True(t, opts[2].Disabled, "options of a disabled optgroup are disabled")

	assert.Equal(t, "old", queryOne(t, d, "//textarea").Value())
	assert.True(t, queryOne(t, d, "//input[@value='M']").Checked())
}

func TestSelectWithoutSelectedAttribute(t *testing.T) {
	d, err := ParseString(`<html><body>
<select id="single"><option value="X" disabled>x</option><option value="A">a</option><option value="B">b</option></select>
<select id="multi" multiple><option value="A">a</option><option value="B">b</option></select>
<select id="off"><option value="X" disabled>x</option></select>
</body></html>`)
	require.NoError(t, err)

	single := queryOne(t, d, "//*[@id='single']")
	assert.Equal(t, "A", single.Value(), "the first enabled option is shown")
	opts := single.Options()
	require.Len(t, opts, 3)
	assert.False(t, opts[0].Selected)
	assert.True(t, opts[1].Selected)
	assert.False(t, opts[2].Selected)

	multi := queryOne(t, d, "//*[@id='multi']")
	assert.Empty(t, multi.Value(), "a multiple list starts empty")
	for _, o := range multi.Options() {
		assert.False(t, o.Selected)
	}

	assert.Empty(t, queryOne(t, d, "//*[@id='off']").Value())
}

func TestVisibility(t *testing.T) {
	d := mustDoc(t)
	assert.False(t, queryOne(t, d, "//*[@id='deep']").Visible(), "hidden ancestor")
	assert.False(t, queryOne(t, d, "//*[@id='styled']").Visible(), "display:none ancestor")
	assert.False(t, queryOne(t, d, "//*[@id='tech']").Visible(), "hidden input")
}

func TestActionsWriteThroughAndRecordEvents(t *testing.T) {
	d := mustDoc(t)
	ctx := context.Background()

	nom := queryOne(t, d, "//*[@id='nom']")
	require.NoError(t, nom.SetValue(ctx, "Martin"))
	assert.Equal(t, "Martin", nom.Value(), "handle observes its own write")
	assert.Equal(t, "Martin", queryOne(t, d, "//*[@id='nom']").Value(), "fresh lookup observes the write")

	box := queryOne(t, d, "//*[@id='accord']")
	require.NoError(t, box.Click(ctx))
	assert.True(t, box.Checked())

	mme := queryOne(t, d, "//input[@value='MME']")
	require.NoError(t, mme.Click(ctx))
	assert.False(t, queryOne(t, d, "//input[@value='M']").Checked(), "radio group is exclusive")

	pays := queryOne(t, d, "//select")
	require.NoError(t, pays.SelectOption(ctx, 0))
	assert.Equal(t, "", pays.Value())
	assert.Error(t, pays.SelectOption(ctx, 9))

	note := queryOne(t, d, "//textarea")
	require.NoError(t, note.TypeText(ctx, "ab"))
	assert.Equal(t, "ab", note.Value())

	var types []string
	for _, ev := range d.Events() {
		if ev.Handle == `//*[@id='nom']` {
			types = append(types, ev.Type)
		}
	}
	assert.Equal(t, []string{"input", "change", "blur"}, types)
	assert.Contains(t, d.Render(), `value="Martin"`)
}

func TestBehaviorRevealsSection(t *testing.T) {
	d := mustDoc(t)
	d.On(func(root, target *html.Node, ev string) {
		if ev == "change" && Attr(target, "id") == "accord" {
			Show(htmlquery.FindOne(root, "//*[@id='more']"))
		}
	})

	require.NoError(t, queryOne(t, d, "//*[@id='accord']").Click(context.Background()))
	assert.True(t, queryOne(t, d, "//*[@id='deep']").Visible())
}

func TestObserveCoalescesAndCloses(t *testing.T) {
	d := mustDoc(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := d.Observe(ctx)
	require.NoError(t, err)

	d.Mutate(func(root *html.Node) { Hide(htmlquery.FindOne(root, "//form")) })
	d.Mutate(func(root *html.Node) { Show(htmlquery.FindOne(root, "//form")) })

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a mutation notification")
	}
	select {
	case <-ch:
		t.Fatal("two mutations should coalesce into one pending notification")
	default:
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
}

func TestDetachedElement(t *testing.T) {
	d := mustDoc(t)
	nom := queryOne(t, d, "//*[@id='nom']")
	d.Mutate(func(root *html.Node) {
		n := htmlquery.FindOne(root, "//*[@data-key='nom']")
		n.Parent.RemoveChild(n)
	})
	assert.ErrorIs(t, nom.SetValue(context.Background(), "x"), dom.ErrDetached)
}
