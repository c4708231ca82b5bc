// internal/browser/cdp/tree.go
package cdp

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:embed agent.js
var agentSource string

// bindingName is the page binding the mutation observer reports through.
const bindingName = "__formpilotChanged"

// defaultCallTimeout bounds a single round trip to the page.
const defaultCallTimeout = 10 * time.Second

// Tree is a dom.Tree backed by a live Chrome tab. Queries and actions run inside the page
// through an injected agent that keeps a registry of the nodes it handed out.
type Tree struct {
	tab         context.Context
	logger      *zap.Logger
	callTimeout time.Duration

	observeOnce sync.Once
	observeErr  error
}

var _ dom.Tree = (*Tree)(nil)

// NewTree wraps a chromedp tab context.
func NewTree(tab context.Context, logger *zap.Logger) *Tree {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tree{
		tab:         tab,
		logger:      logger.Named("cdp_tree"),
		callTimeout: defaultCallTimeout,
	}
}

// snapshot is the element state the agent serializes for each node.
type snapshot struct {
	ID      string            `json:"id"`
	Tag     string            `json:"tag"`
	Attrs   map[string]string `json:"attrs"`
	Value   string            `json:"value"`
	Checked bool              `json:"checked"`
	Visible bool              `json:"visible"`
	Text    string            `json:"text"`
	Options []dom.Option      `json:"options"`
}

type queryResult struct {
	Detached bool       `json:"detached"`
	Elements []snapshot `json:"elements"`
}

type actResult struct {
	Detached bool      `json:"detached"`
	Error    string    `json:"error"`
	Element  *snapshot `json:"element"`
}

// run executes actions against the tab, bounded by both ctx and the call timeout.
func (t *Tree) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(t.tab, ctx)
	defer cancel()
	if t.callTimeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, t.callTimeout)
		defer cancelTimeout()
	}
	return chromedp.Run(runCtx, actions...)
}

// call invokes a method of the page agent, installing the agent first when the current
// document does not have it yet, and decodes the JSON result into out.
func (t *Tree) call(ctx context.Context, out any, method string, args ...any) error {
	expr, err := agentCall(method, args...)
	if err != nil {
		return err
	}
	if out == nil {
		if err := t.run(ctx, chromedp.Evaluate(expr, nil)); err != nil {
			return fmt.Errorf("agent %s: %w", method, err)
		}
		return nil
	}
	var raw []byte
	if err := t.run(ctx, chromedp.Evaluate(expr, &raw)); err != nil {
		return fmt.Errorf("agent %s: %w", method, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding agent %s result: %w", method, err)
	}
	return nil
}

// agentCall builds the expression invoking method with JSON encoded arguments.
func agentCall(method string, args ...any) (string, error) {
	encoded := make([]byte, 0, 64)
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("encoding argument %d of %s: %w", i, method, err)
		}
		if i > 0 {
			encoded = append(encoded, ',')
		}
		encoded = append(encoded, b...)
	}
	return fmt.Sprintf("(window.__formpilot || %s).%s(%s)", agentSource, method, encoded), nil
}

// Query evaluates xpath against the document.
func (t *Tree) Query(ctx context.Context, xpath string) ([]dom.Element, error) {
	return t.query(ctx, xpath, nil)
}

// QueryWithin evaluates a relative xpath with scope as the context node.
func (t *Tree) QueryWithin(ctx context.Context, scope dom.Element, xpath string) ([]dom.Element, error) {
	if scope == nil {
		return t.Query(ctx, xpath)
	}
	el, ok := scope.(*element)
	if !ok || el.tree != t {
		return nil, fmt.Errorf("scope %q does not belong to this tree", scope.Handle())
	}
	return t.query(ctx, xpath, el.s.ID)
}

func (t *Tree) query(ctx context.Context, xpath string, scopeID any) ([]dom.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var res queryResult
	if err := t.call(ctx, &res, "query", xpath, scopeID); err != nil {
		return nil, fmt.Errorf("query %q: %w", xpath, err)
	}
	if res.Detached {
		return nil, dom.ErrDetached
	}
	out := make([]dom.Element, 0, len(res.Elements))
	for _, s := range res.Elements {
		out = append(out, t.wrap(s))
	}
	return out, nil
}

// Observe installs a MutationObserver on the document body. The observer is also registered
// for documents loaded later in the tab, so navigations keep notifying the same channel.
func (t *Tree) Observe(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	listenCtx, cancel := CombineContext(t.tab, ctx)

	var mu sync.Mutex
	closed := false
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		if ev, ok := ev.(*runtime.EventBindingCalled); ok && ev.Name == bindingName {
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return
			}
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	})

	if err := t.installObserver(ctx); err != nil {
		cancel()
		return nil, err
	}

	go func() {
		<-listenCtx.Done()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()

		// The tab may outlive the subscription; stop the page from reporting into the void.
		cleanupCtx, cancelCleanup := context.WithTimeout(Detach(ctx), 2*time.Second)
		defer cancelCleanup()
		if err := t.call(cleanupCtx, nil, "unobserve"); err != nil {
			t.logger.Debug("Could not disconnect mutation observer.", zap.Error(err))
		}
	}()

	return ch, nil
}

func (t *Tree) installObserver(ctx context.Context) error {
	t.observeOnce.Do(func() {
		persistent := fmt.Sprintf(
			"document.addEventListener('DOMContentLoaded', () => %s.observe(%q));",
			agentSource, bindingName,
		)
		t.observeErr = t.run(ctx,
			runtime.AddBinding(bindingName),
			chromedp.ActionFunc(func(c context.Context) error {
				_, err := page.AddScriptToEvaluateOnNewDocument(persistent).Do(c)
				return err
			}),
		)
	})
	if t.observeErr != nil {
		return fmt.Errorf("installing mutation binding: %w", t.observeErr)
	}

	var ok bool
	if err := t.call(ctx, &ok, "observe", bindingName); err != nil {
		return fmt.Errorf("starting mutation observer: %w", err)
	}
	if !ok {
		return fmt.Errorf("mutation observer did not start: binding %s missing in page", bindingName)
	}
	t.logger.Debug("Mutation observer attached.")
	return nil
}
