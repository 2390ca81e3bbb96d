package interceptors

import "context"

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	// ThreadContextKey is the key for storing the interception thread state
	ThreadContextKey contextKey = "mmate:orb:interceptor:thread"
)

// frameKey carries the out-call a context was derived from
type frameKey struct{}

// WithThread attaches per-thread interception state to the context
func WithThread(ctx context.Context, t *Thread) context.Context {
	ctx = context.WithValue(ctx, ThreadContextKey, t)
	return context.WithValue(ctx, frameKey{}, (*callFrame)(nil))
}

// ThreadFrom retrieves the per-thread interception state from the context
func ThreadFrom(ctx context.Context) (*Thread, bool) {
	if ctx == nil {
		return nil, false
	}
	t, ok := ctx.Value(ThreadContextKey).(*Thread)
	return t, ok && t != nil
}

// EnsureThread returns a context carrying thread state, creating it if missing
func EnsureThread(ctx context.Context) (context.Context, *Thread) {
	t, exists := ThreadFrom(ctx)
	if !exists {
		t = NewThread()
		ctx = WithThread(ctx, t)
	}
	return ctx, t
}

// Fork returns a context carrying a new Thread whose thread-scope slots start as
// a copy of the ones visible through ctx. Call it on the goroutine that owns
// ctx before handing the result to another goroutine.
func Fork(ctx context.Context) context.Context {
	var scope *SlotTable
	disabled := 0
	if t, ok := ThreadFrom(ctx); ok {
		scope = t.slots.peek()
		disabled = t.disabled
	}
	return WithThread(ctx, fork(scope, disabled))
}

// Claim binds an out-call to the Thread carried by ctx, creating one if
// missing. The Thread is reused when ctx was derived from the innermost call
// running on it, which covers sequential calls from a servant and nested calls
// from interceptors. A ctx whose Thread is held by another call, such as one
// shared by goroutines a servant started, is moved to a fork of the caller's
// thread scope. release must run when the out-call returns.
func Claim(ctx context.Context) (context.Context, func()) {
	t, ok := ThreadFrom(ctx)
	if !ok {
		ctx, t = EnsureThread(ctx)
	}
	parent, _ := ctx.Value(frameKey{}).(*callFrame)

	f, ok := t.claim(parent)
	if !ok {
		scope, disabled, found := t.siblingScope(parent)
		if !found {
			scope = t.slots.peek()
		}
		t = fork(scope, disabled)
		ctx = WithThread(ctx, t)
		f, _ = t.claim(nil)
	}
	return context.WithValue(ctx, frameKey{}, f), func() { t.release(f) }
}
