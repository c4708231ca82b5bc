package strategy

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/formpilot/internal/browser/htmldom"
)

const (
	pivotKey = "addr_communeActuelleAdresseManuelle_nomLong"
	gateKey  = "addr_utiliserAdresseManuelle"
	inputKey = "addr_communeActuelleAdresseManuelle"
)

const addressPage = `<html><body>
<div data-key="addr_utiliserAdresseManuelle"><input type="checkbox" id="gate"></div>
<section id="manual" hidden>
  <div data-key="addr_communeActuelleAdresseManuelle"><input id="commune"></div>
</section>
<div id="panel" hidden>
  <mat-option id="o1">80100 ABBEVILLE</mat-option>
  <mat-option id="o2">80000 AMIENS</mat-option>
</div>
</body></html>`

func addressData() Data {
	return Data{
		gateKey:  true,
		pivotKey: "AMIENS",
		"addr_communeActuelleAdresseManuelle_codePostal": "80000",
		"addr_communeActuelleAdresseManuelle_nom":        "AMIENS",
	}
}

// angularAddress simulates the widget: the gate reveals the input, typing opens the list.
// When acceptClick is false a suggestion click clears the input instead of filling it.
func angularAddress(acceptClick bool) htmldom.Behavior {
	return func(root, target *html.Node, ev string) {
		id := htmldom.Attr(target, "id")
		switch {
		case ev == "change" && id == "gate":
			htmldom.Show(htmlquery.FindOne(root, "//*[@id='manual']"))
		case ev == "input" && id == "commune" && strings.Contains(htmldom.Attr(target, "value"), "80000 AMIENS"):
			htmldom.Show(htmlquery.FindOne(root, "//*[@id='panel']"))
		case ev == "click" && target.Data == "mat-option":
			commune := htmlquery.FindOne(root, "//*[@id='commune']")
			if acceptClick {
				htmldom.SetAttr(commune, "value", htmlquery.InnerText(target))
			} else {
				htmldom.SetAttr(commune, "value", "")
			}
			htmldom.Hide(htmlquery.FindOne(root, "//*[@id='panel']"))
		}
	}
}

func newAddress(t *testing.T, opts CompositeOptions) *Composite {
	t.Helper()
	specs := BuiltinComposites()
	require.Len(t, specs, 1)
	c, err := NewComposite(specs[0], opts)
	require.NoError(t, err)
	return c
}

func TestCompositeGatingReportsInProgress(t *testing.T) {
	env := newTestEnv(t, addressPage)
	c := newAddress(t, DefaultCompositeOptions())

	out, err := c.Execute(context.Background(), env, nil, "AMIENS", pivotKey, addressData())
	require.NoError(t, err)
	assert.Equal(t, InProgress, out, "toggling the gate needs another pass, it is not a fill")
	assert.True(t, env.mustLocate(t, gateKey).Checked())
	assert.Equal(t, PhaseGating, env.Composite(pivotKey).Phase)
}

func TestCompositeFullProtocol(t *testing.T) {
	env := newTestEnv(t, addressPage)
	env.doc.On(angularAddress(true))
	env.On("Sleep", time.Second).Return(nil).Once()
	env.On("Sleep", 100*time.Millisecond).Return(nil).Once()

	c := newAddress(t, DefaultCompositeOptions())
	ctx := context.Background()
	step := func() Outcome {
		out, err := c.Execute(ctx, env, nil, "AMIENS", pivotKey, addressData())
		require.NoError(t, err)
		return out
	}

	assert.Equal(t, InProgress, step(), "gate")
	assert.Equal(t, InProgress, step(), "typing")
	assert.Equal(t, "80000 AMIENS", env.mustLocate(t, inputKey).Value())
	assert.Equal(t, PhaseTyping, env.Composite(pivotKey).Phase)

	assert.Equal(t, Filled, step(), "suggestion picked")
	assert.Equal(t, "80000 AMIENS", env.mustLocate(t, inputKey).Value())
	assert.Equal(t, PhaseDone, env.Composite(pivotKey).Phase)

	before := len(env.doc.Events())
	assert.Equal(t, AlreadySatisfied, step())
	assert.Len(t, env.doc.Events(), before)
	env.AssertExpectations(t)

	var clicked []string
	for _, ev := range env.doc.Events() {
		if ev.Type == "click" && ev.Handle != `//*[@id='gate']` {
			clicked = append(clicked, ev.Handle)
		}
	}
	require.Len(t, clicked, 1)
	assert.Equal(t, `//*[@id='o2']`, clicked[0], "the option carrying the postal code wins over the first one")
}

func TestCompositeForcesValueWhenClickDoesNotStick(t *testing.T) {
	env := newTestEnv(t, addressPage)
	env.doc.On(angularAddress(false))
	env.On("Sleep", time.Second).Return(nil)
	env.On("Sleep", 100*time.Millisecond).Return(nil)
	c := newAddress(t, DefaultCompositeOptions())

	var out Outcome
	for i := 0; i < 3; i++ {
		var err error
		out, err = c.Execute(context.Background(), env, nil, "AMIENS", pivotKey, addressData())
		require.NoError(t, err)
	}
	assert.Equal(t, Filled, out)
	assert.Equal(t, "80000 AMIENS", env.mustLocate(t, inputKey).Value())
}

func TestCompositeNudgesAreBounded(t *testing.T) {
	page := strings.Replace(addressPage, `<section id="manual" hidden>`, `<section id="manual">`, 1)
	page = strings.Replace(page, `<input id="commune">`, `<input id="commune" value="80000 AMIENS">`, 1)
	page = strings.Replace(page, `<input type="checkbox" id="gate">`, `<input type="checkbox" id="gate" checked>`, 1)
	env := newTestEnv(t, page)
	c := newAddress(t, CompositeOptions{MaxNudges: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		out, err := c.Execute(ctx, env, nil, "AMIENS", pivotKey, addressData())
		require.NoError(t, err)
		assert.Equal(t, InProgress, out)
		assert.Equal(t, PhaseAwaiting, env.Composite(pivotKey).Phase)
	}
	out, err := c.Execute(ctx, env, nil, "AMIENS", pivotKey, addressData())
	assert.Equal(t, Failed, out)
	assert.ErrorIs(t, err, ErrNoSuggestions)

	out, err = c.Execute(ctx, env, nil, "AMIENS", pivotKey, addressData())
	require.NoError(t, err)
	assert.Equal(t, InProgress, out, "the nudge budget restarts after a failure")
}

func TestCompositeNotYetPresent(t *testing.T) {
	page := strings.Replace(addressPage, `<input type="checkbox" id="gate">`, `<input type="checkbox" id="gate" checked>`, 1)
	env := newTestEnv(t, page)
	c := newAddress(t, DefaultCompositeOptions())

	out, err := c.Execute(context.Background(), env, nil, "AMIENS", pivotKey, addressData())
	require.NoError(t, err)
	assert.Equal(t, NotYetPresent, out, "input still inside a hidden section")
}

func TestCompositeTypesPivotWhenPartsMissing(t *testing.T) {
	page := strings.Replace(addressPage, `<section id="manual" hidden>`, `<section id="manual">`, 1)
	env := newTestEnv(t, page)
	c := newAddress(t, DefaultCompositeOptions())

	data := Data{gateKey: true, pivotKey: "AMIENS"}
	require.NoError(t, env.mustLocate(t, gateKey).Click(context.Background()))
	out, err := c.Execute(context.Background(), env, nil, "AMIENS", pivotKey, data)
	require.NoError(t, err)
	assert.Equal(t, InProgress, out)
	assert.Equal(t, "AMIENS", env.mustLocate(t, inputKey).Value())
}

func TestCompositeKeys(t *testing.T) {
	c := newAddress(t, DefaultCompositeOptions())

	assert.True(t, c.Matches(pivotKey, nil, nil))
	assert.False(t, c.Matches(inputKey, nil, nil))

	ignored := c.IgnoredKeys(pivotKey)
	assert.Contains(t, ignored, "addr_communeActuelleAdresseManuelle_codePostal")
	assert.Contains(t, ignored, "addr_communeActuelleAdresseManuelle_nom")
	assert.Contains(t, ignored, "addr_communeActuelleAdresseManuelle_typeProtection")
	assert.Len(t, ignored, 7)

	covers := c.Covers(pivotKey)
	assert.Contains(t, covers, pivotKey)
	assert.Contains(t, covers, inputKey)
	assert.Contains(t, covers, gateKey)
}

func TestCompositeRejectsBadExpression(t *testing.T) {
	spec := BuiltinComposites()[0]
	spec.ActiveWhen = "gate +"
	_, err := NewComposite(spec, DefaultCompositeOptions())
	assert.Error(t, err)

	spec.ActiveWhen = `prefix == "addr"`
	c, err := NewComposite(spec, DefaultCompositeOptions())
	require.NoError(t, err)
	assert.True(t, c.Active(pivotKey, Data{}), "expressions may ignore the gate")
	assert.False(t, c.Active("other"+spec.PivotSuffix, Data{}))
}

func TestCompositeGateFailureIsLoggedOnce(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	opts := DefaultCompositeOptions()
	opts.Logger = zap.New(core)

	spec := BuiltinComposites()[0]
	spec.ActiveWhen = "gate > 1"
	c, err := NewComposite(spec, opts)
	require.NoError(t, err)

	data := Data{gateKey: "yes"}
	assert.False(t, c.Active(pivotKey, data), "a gate that cannot be evaluated keeps the composite inactive")
	assert.False(t, c.Active(pivotKey, data))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, spec.Kind, fields["kind"])
	assert.Equal(t, "gate > 1", fields["active_when"])
	assert.Contains(t, fields, "error")

	t.Run("NilLoggerIsSilent", func(t *testing.T) {
		c, err := NewComposite(spec, DefaultCompositeOptions())
		require.NoError(t, err)
		assert.False(t, c.Active(pivotKey, data))
	})
}
