package interceptors

import (
	"context"
	"sync"
)

// SlotTable holds the slot values of one scope. Unset slots read as nil.
type SlotTable struct {
	slots []any
}

func newSlotTable(n int) *SlotTable {
	return &SlotTable{slots: make([]any, n)}
}

// Get returns the value of a slot
func (t *SlotTable) Get(id int) (any, error) {
	if id < 0 || id >= len(t.slots) {
		return nil, &InvalidSlotError{ID: id, Count: len(t.slots)}
	}
	return t.slots[id], nil
}

// Set stores a value in a slot
func (t *SlotTable) Set(id int, value any) error {
	if id < 0 || id >= len(t.slots) {
		return &InvalidSlotError{ID: id, Count: len(t.slots)}
	}
	t.slots[id] = value
	return nil
}

// Len returns the number of slots
func (t *SlotTable) Len() int {
	return len(t.slots)
}

func (t *SlotTable) clone() *SlotTable {
	c := &SlotTable{slots: make([]any, len(t.slots))}
	copy(c.slots, t.slots)
	return c
}

// slotTableStack is the per-thread nesting of slot tables. The top is the
// thread-scope table that Current reads and writes. Forks read the top from
// other goroutines, so the stack itself is locked.
type slotTableStack struct {
	mu     sync.Mutex
	tables []*SlotTable
}

func (s *slotTableStack) current(n int) *SlotTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tables) == 0 {
		s.tables = append(s.tables, newSlotTable(n))
	}
	return s.tables[len(s.tables)-1]
}

// peek returns the top table, or nil when none was created yet
func (s *slotTableStack) peek() *SlotTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tables) == 0 {
		return nil
	}
	return s.tables[len(s.tables)-1]
}

func (s *slotTableStack) push(t *SlotTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = append(s.tables, t)
}

func (s *slotTableStack) pushFresh(n int) {
	s.push(newSlotTable(n))
}

func (s *slotTableStack) pop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tables) > 0 {
		s.tables[len(s.tables)-1] = nil
		s.tables = s.tables[:len(s.tables)-1]
	}
}

func (s *slotTableStack) depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables)
}

// Current gives code running on a thread access to its thread-scope slots.
// Inside an interception point that is a fresh table private to the pass; in a
// servant it is the request-scope table of the request being served.
type Current struct {
	h *Handler
}

// GetSlot returns a slot of the thread-scope table
func (c *Current) GetSlot(ctx context.Context, id int) (any, error) {
	t, ok := ThreadFrom(ctx)
	if !ok {
		return nil, internalErr("current get slot", "no thread in context")
	}
	return t.slots.current(c.h.slotCount).Get(id)
}

// SetSlot stores a value in a slot of the thread-scope table
func (c *Current) SetSlot(ctx context.Context, id int, value any) error {
	t, ok := ThreadFrom(ctx)
	if !ok {
		return internalErr("current set slot", "no thread in context")
	}
	return t.slots.current(c.h.slotCount).Set(id, value)
}
