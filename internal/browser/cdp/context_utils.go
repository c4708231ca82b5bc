// internal/browser/cdp/context_utils.go
package cdp

import (
	"context"
	"time"
)

// CombineContext creates a new context derived from ctx1 (the tab context) that is canceled
// when either ctx1 or ctx2 (the operational context) is canceled. It inherits values from
// ctx1, which is where chromedp keeps the connection to the target.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}

// valueOnlyContext keeps the values of its parent but drops its deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }

func (valueOnlyContext) Done() <-chan struct{} { return nil }

func (valueOnlyContext) Err() error { return nil }

// Detach returns a context that carries the CDP target of ctx but outlives its cancellation.
// Cleanup calls that must reach the page after a run ended go through it.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
