// Package cancel implements the cancellable-call mechanism: a way to stop a
// long-running synchronous computation from elsewhere and have the call site
// observe a sentinel failure, without unwinding partial work unsafely.
//
// The firmware this is modelled on restores a saved stack pointer from
// interrupt context to force an immediate return from the call site. Go has
// no equivalent of that trick (there is no supported way to force one
// goroutine to return from another), so fn must cooperate: it receives a
// context.Context and is expected to check ctx.Err() at its own safe yield
// points, returning -1 itself once cancelled. This is the one behavioural
// deviation from the original mechanism; see DESIGN.md.
package cancel

import (
	"context"
	"sync"
)

// Cancelled is the sentinel value returned by Call when fn is interrupted.
const Cancelled = -1

// Token is single-shot per Call: a new Call resets it.
type Token struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	active bool
}

// Cancel interrupts the in-flight Call associated with this token, if any.
// Safe to call from another goroutine (the interrupt-context equivalent).
// Idempotent.
func (tok *Token) Cancel() {
	tok.mu.Lock()
	defer tok.mu.Unlock()
	if tok.active && tok.cancel != nil {
		tok.cancel()
	}
}

// Call runs fn with a context that is cancelled when tok.Cancel() is called.
// Only one Call may be active on a given token at a time.
func Call(tok *Token, fn func(ctx context.Context) int) int {
	tok.mu.Lock()
	if tok.active {
		tok.mu.Unlock()
		panic("cancel: token already has an active call")
	}
	ctx, cancelFn := context.WithCancel(context.Background())
	tok.cancel = cancelFn
	tok.active = true
	tok.mu.Unlock()

	result := fn(ctx)

	tok.mu.Lock()
	tok.active = false
	tok.cancel = nil
	tok.mu.Unlock()
	cancelFn()

	return result
}
