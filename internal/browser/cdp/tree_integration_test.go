package cdp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

const formPage = `<!DOCTYPE html>
<html><body>
	<form>
		<div data-key="nom"><input id="nom" type="text" /></div>
		<input id="hidden" type="text" style="display:none" />
		<select id="pays">
			<option value="">--</option>
			<option value="fr">France</option>
			<option value="be" disabled>Belgique</option>
		</select>
		<input id="accord" type="checkbox" />
		<input id="ville" type="text" />
		<div id="echo"></div>
		<button id="add" type="button" onclick="document.body.appendChild(document.createElement('p'))">add</button>
	</form>
	<script>
		document.getElementById('nom').addEventListener('input', (e) => {
			document.getElementById('echo').textContent = e.target.value;
		});
		document.getElementById('ville').addEventListener('keyup', (e) => {
			document.getElementById('echo').textContent = 'typed:' + e.target.value;
		});
	</script>
</body></html>`

func chromeAvailable() bool {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

// setupBrowser launches headless Chrome on a page served by httptest.
func setupBrowser(t *testing.T) (*Browser, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	if !chromeAvailable() {
		t.Skip("no Chrome binary found in PATH")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, formPage)
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	b, err := Launch(ctx, Config{Headless: true, DisableGPU: true, NavigationTimeout: 20 * time.Second}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, b.Navigate(ctx, server.URL))
	return b, ctx
}

func one(t *testing.T, ctx context.Context, tree dom.Tree, xpath string) dom.Element {
	t.Helper()
	els, err := tree.Query(ctx, xpath)
	require.NoError(t, err)
	require.Len(t, els, 1, xpath)
	return els[0]
}

func TestLiveTreeQueriesAndActions(t *testing.T) {
	b, ctx := setupBrowser(t)
	tree := b.Tree()

	container := one(t, ctx, tree, "//*[@data-key='nom']")
	inner, err := tree.QueryWithin(ctx, container, dom.FillableXPath)
	require.NoError(t, err)
	require.Len(t, inner, 1)
	nom := inner[0]
	assert.Equal(t, dom.KindText, nom.Kind())
	assert.True(t, nom.Visible())

	assert.False(t, one(t, ctx, tree, "//input[@id='hidden']").Visible())

	require.NoError(t, nom.SetValue(ctx, "Dupont"))
	assert.Equal(t, "Dupont", nom.Value())
	assert.Equal(t, "Dupont", one(t, ctx, tree, "//div[@id='echo']").Text())

	pays := one(t, ctx, tree, "//select[@id='pays']")
	require.Len(t, pays.Options(), 3)
	assert.True(t, pays.Options()[2].Disabled)
	require.NoError(t, pays.SelectOption(ctx, 1))
	assert.Equal(t, "fr", pays.Value())

	accord := one(t, ctx, tree, "//input[@id='accord']")
	assert.False(t, accord.Checked())
	require.NoError(t, accord.Click(ctx))
	assert.True(t, accord.Checked())

	ville := one(t, ctx, tree, "//input[@id='ville']")
	require.NoError(t, ville.TypeText(ctx, "Lyon"))
	assert.Equal(t, "Lyon", ville.Value())
	assert.Equal(t, "typed:Lyon", one(t, ctx, tree, "//div[@id='echo']").Text())
}

func TestLiveTreeObserveAndDetach(t *testing.T) {
	b, ctx := setupBrowser(t)
	tree := b.Tree()

	obsCtx, cancelObs := context.WithCancel(ctx)
	changes, err := tree.Observe(obsCtx)
	require.NoError(t, err)

	require.NoError(t, one(t, ctx, tree, "//button[@id='add']").Click(ctx))
	select {
	case _, ok := <-changes:
		require.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("no mutation notification after appending a node")
	}

	cancelObs()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-changes:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	echo := one(t, ctx, tree, "//div[@id='echo']")
	require.NoError(t, b.tree.run(ctx, chromedp.Evaluate("document.getElementById('echo').remove()", nil)))

	err = echo.Focus(ctx)
	assert.True(t, errors.Is(err, dom.ErrDetached), "got %v", err)

	html, err := b.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, `id="nom"`)
	assert.NotContains(t, html, `id="echo"`)
}

func TestLiveTreeForgetsDetachedElements(t *testing.T) {
	b, ctx := setupBrowser(t)
	tree := b.Tree()

	opts, err := tree.Query(ctx, "//select[@id='pays']/option")
	require.NoError(t, err)
	require.Len(t, opts, 3)

	require.NoError(t, b.tree.run(ctx, chromedp.Evaluate("document.getElementById('pays').remove()", nil)))
	var size int
	require.NoError(t, b.tree.call(ctx, &size, "size"))
	assert.Equal(t, 3, size, "entries stay until the next query")

	one(t, ctx, tree, "//div[@id='echo']")
	require.NoError(t, b.tree.call(ctx, &size, "size"))
	assert.Equal(t, 1, size, "a query drops the detached options")

	assert.ErrorIs(t, opts[1].Focus(ctx), dom.ErrDetached)
}
