package interceptors

import "sync"

// Thread is the interception state owned by one call chain: the client and server
// request context stacks, the interception disable counter and the slot table
// stack. Nested out-calls made from interceptors or servants reuse the Thread
// carried by their context. Out-calls claim the Thread with Claim, so a context
// shared by several goroutines gets one fork per concurrent call.
type Thread struct {
	client   []*ClientRequestContext
	server   []*ServerRequestContext
	disabled int
	slots    slotTableStack

	mu  sync.Mutex
	top *callFrame
}

// callFrame is one out-call holding a Thread. scope and disabled are the
// caller's thread-scope table and disable count when the call claimed it.
type callFrame struct {
	parent   *callFrame
	scope    *SlotTable
	disabled int
}

// NewThread creates empty per-thread state
func NewThread() *Thread {
	return &Thread{}
}

func (t *Thread) pushClient(c *ClientRequestContext) {
	t.client = append(t.client, c)
}

func (t *Thread) peekClient() *ClientRequestContext {
	if len(t.client) == 0 {
		return nil
	}
	return t.client[len(t.client)-1]
}

func (t *Thread) popClient() {
	if len(t.client) > 0 {
		t.client[len(t.client)-1] = nil
		t.client = t.client[:len(t.client)-1]
	}
}

func (t *Thread) pushServer(c *ServerRequestContext) {
	t.server = append(t.server, c)
}

func (t *Thread) peekServer() *ServerRequestContext {
	if len(t.server) == 0 {
		return nil
	}
	return t.server[len(t.server)-1]
}

func (t *Thread) popServer() {
	if len(t.server) > 0 {
		t.server[len(t.server)-1] = nil
		t.server = t.server[:len(t.server)-1]
	}
}

// ClientDepth returns the number of client request contexts on the stack
func (t *Thread) ClientDepth() int {
	return len(t.client)
}

// ServerDepth returns the number of server request contexts on the stack
func (t *Thread) ServerDepth() int {
	return len(t.server)
}

// Disabled reports whether client interception is turned off for this thread
func (t *Thread) Disabled() bool {
	return t.disabled > 0
}

// claim makes f the innermost call on t when parent is the current innermost
// call. It reports false when another call holds the thread.
func (t *Thread) claim(parent *callFrame) (*callFrame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.top != parent {
		return nil, false
	}
	f := &callFrame{parent: parent, scope: t.slots.peek(), disabled: t.disabled}
	t.top = f
	return f, true
}

func (t *Thread) release(f *callFrame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.top == f {
		t.top = f.parent
	}
}

// siblingScope finds the caller state recorded by the call that holds t on
// behalf of parent. It reports false when parent no longer runs on t.
func (t *Thread) siblingScope(parent *callFrame) (*SlotTable, int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for f := t.top; f != nil; f = f.parent {
		if f.parent == parent {
			return f.scope, f.disabled, true
		}
	}
	return nil, 0, false
}

// fork creates a Thread whose thread scope starts as a copy of scope
func fork(scope *SlotTable, disabled int) *Thread {
	t := NewThread()
	if scope != nil {
		t.slots.push(scope.clone())
	}
	t.disabled = disabled
	return t
}
