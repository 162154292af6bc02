package core

import (
	"fmt"
	"sync"
)

// CallBudget enforces a maximum number of model calls per streaming session,
// guarding against runaway tool loops.
type CallBudget struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewCallBudget creates a budget allowing max calls. max == 0 means unlimited.
func NewCallBudget(max int) *CallBudget {
	return &CallBudget{max: max}
}

// Increment consumes one call and returns an error once the budget is exceeded.
func (b *CallBudget) Increment() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.count++
	if b.max > 0 && b.count > b.max {
		return fmt.Errorf("exceeded max model calls: %d", b.max)
	}

	return nil
}

// Count returns the number of calls consumed so far.
func (b *CallBudget) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}
