package normalize

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/formpilot/internal/fill/strategy"
	"github.com/xkilldash9x/formpilot/internal/scenario"
)

func registry(t *testing.T) *strategy.Registry {
	t.Helper()
	reg, err := strategy.DefaultRegistry(strategy.BuiltinComposites(), strategy.DefaultCompositeOptions())
	require.NoError(t, err)
	return reg
}

func parse(t *testing.T, doc string) *scenario.Record {
	t.Helper()
	rec, err := scenario.Parse([]byte(doc), scenario.DefaultOptions())
	require.NoError(t, err)
	return rec
}

func TestLabelWinsOverValue(t *testing.T) {
	res, err := Normalize(parse(t, `{"x_libelle": "Paris", "x_valeur": "75056"}`), registry(t), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []scenario.Field{{Key: "x", Value: "Paris"}}, res.Fields)
	assert.Equal(t, []Drop{{Key: "x_valeur", Reason: DropSuperseded}}, res.Dropped)
}

func TestLabelWinsRegardlessOfOrder(t *testing.T) {
	res, err := Normalize(parse(t, `{"x_valeur": "75056", "x": "raw", "x_libelle": "Paris", "y_valeur": "1"}`), nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []scenario.Field{{Key: "x", Value: "Paris"}, {Key: "y_valeur", Value: "1"}}, res.Fields)
}

func TestEmptyLabelSupersedesNothing(t *testing.T) {
	res, err := Normalize(parse(t, `{"x_libelle": "", "x_valeur": "75056", "y_label": null, "y": "raw"}`), nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []scenario.Field{{Key: "x_valeur", Value: "75056"}, {Key: "y", Value: "raw"}}, res.Fields)
	assert.Equal(t, []Drop{{Key: "x_libelle", Reason: DropEmpty}, {Key: "y_label", Reason: DropEmpty}}, res.Dropped)
}

func TestBooleanCoercion(t *testing.T) {
	res, err := Normalize(parse(t, `{"flag": "true", "off": "false", "word": "True", "n": 3, "one": "1", "t": "t"}`), registry(t), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []scenario.Field{
		{Key: "flag", Value: true},
		{Key: "off", Value: false},
		{Key: "word", Value: "True"},
		{Key: "n", Value: float64(3)},
		{Key: "one", Value: "1"},
		{Key: "t", Value: "t"},
	}, res.Fields, "only the exact words true and false become booleans")
}

func TestDropsEmptyAndIgnored(t *testing.T) {
	doc := `{"donnees": {
		"a": "",
		"b": null,
		"addr_utiliserAdresseManuelle": "true",
		"addr_communeActuelleAdresseManuelle_nomLong": "AMIENS",
		"addr_communeActuelleAdresseManuelle_codePostal": "80000",
		"addr_communeActuelleAdresseManuelle_nom": "AMIENS",
		"addr_communeActuelleAdresseManuelle_codeInsee": "80021",
		"c": " "
	}}`
	res, err := Normalize(parse(t, doc), registry(t), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"addr_utiliserAdresseManuelle",
		"addr_communeActuelleAdresseManuelle_nomLong",
		"c",
	}, res.Keys())
	assert.Equal(t, "80000", res.Context["addr_communeActuelleAdresseManuelle_codePostal"], "dropped keys stay readable")
	assert.Equal(t, true, res.Context["addr_utiliserAdresseManuelle"])
}

func TestInactiveCompositeKeepsSubFields(t *testing.T) {
	doc := `{
		"addr_utiliserAdresseManuelle": false,
		"addr_communeActuelleAdresseManuelle_nomLong": "AMIENS",
		"addr_communeActuelleAdresseManuelle_codePostal": "80000"
	}`
	res, err := Normalize(parse(t, doc), registry(t), DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, res.Fields, 3)
}

func TestIdempotent(t *testing.T) {
	doc := `{"codeDemarche": "PVPP", "donnees": {
		"z_libelle": "Lyon", "z_valeur": "69123", "flag": "false", "empty": "",
		"addr_utiliserAdresseManuelle": true,
		"addr_communeActuelleAdresseManuelle_nomLong": "AMIENS",
		"addr_communeActuelleAdresseManuelle_id": "x"
	}}`
	rec := parse(t, doc)
	reg := registry(t)

	first, err := Normalize(rec, reg, DefaultOptions())
	require.NoError(t, err)
	second, err := Normalize(rec, reg, DefaultOptions())
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Normalize is not idempotent (-first +second):\n%s", diff)
	}
}

func TestRejectsNonPrimitive(t *testing.T) {
	rec := scenario.NewRecord("", scenario.Field{Key: "a", Value: map[string]any{"b": 1}})
	_, err := Normalize(rec, nil, DefaultOptions())
	assert.ErrorIs(t, err, scenario.ErrMalformed)

	_, err = Normalize(nil, nil, DefaultOptions())
	assert.ErrorIs(t, err, scenario.ErrMalformed)
}
