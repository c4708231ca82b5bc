package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
	"github.com/xkilldash9x/formpilot/internal/browser/htmldom"
	"github.com/xkilldash9x/formpilot/internal/fill/locator"
)

// testEnv locates through the real locator and records pauses through the mock.
type testEnv struct {
	mock.Mock
	doc    *htmldom.Document
	loc    *locator.Locator
	log    *zap.Logger
	states map[string]*CompositeState
}

func newTestEnv(t *testing.T, page string) *testEnv {
	t.Helper()
	doc, err := htmldom.ParseString(page)
	require.NoError(t, err)
	return &testEnv{
		doc:    doc,
		loc:    locator.New(doc, ""),
		log:    zaptest.NewLogger(t),
		states: make(map[string]*CompositeState),
	}
}

func (e *testEnv) Locate(ctx context.Context, key string) (dom.Element, bool, error) {
	return e.loc.Locate(ctx, key)
}

func (e *testEnv) Tree() dom.Tree { return e.doc }

func (e *testEnv) Sleep(_ context.Context, d time.Duration) error {
	args := e.Called(d)
	return args.Error(0)
}

func (e *testEnv) Logger() *zap.Logger { return e.log }

func (e *testEnv) Composite(key string) *CompositeState {
	st, ok := e.states[key]
	if !ok {
		st = &CompositeState{}
		e.states[key] = st
	}
	return st
}

func (e *testEnv) mustLocate(t *testing.T, key string) dom.Element {
	t.Helper()
	el, found, err := e.Locate(context.Background(), key)
	require.NoError(t, err)
	require.True(t, found, "key %s", key)
	return el
}
