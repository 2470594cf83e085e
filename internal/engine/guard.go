package engine

import (
	"sync"
	"sync/atomic"
)

// Guard is the non-reentrant critical section scoped to one engine
// operation.
//
// In boot mode every Do call is mutually exclusive. If the guard was
// created with lockOnlyAtBootTime, EnterLateMode turns Do into a plain
// call: after the runtime transition only one logical thread of control
// exists, so exclusion is skipped.
type Guard struct {
	mu                 sync.Mutex
	late               atomic.Bool
	lockOnlyAtBootTime bool
}

// NewGuard creates a guard in boot mode.
func NewGuard(lockOnlyAtBootTime bool) *Guard {
	return &Guard{lockOnlyAtBootTime: lockOnlyAtBootTime}
}

// Do runs fn inside the critical section. The section is released on
// every exit path, panics included.
func (g *Guard) Do(fn func() error) error {
	if g.excluding() {
		g.mu.Lock()
		defer g.mu.Unlock()
	}
	return fn()
}

// EnterLateMode records the runtime transition. It is one-way.
func (g *Guard) EnterLateMode() {
	g.late.Store(true)
}

// Late reports whether the runtime transition happened.
func (g *Guard) Late() bool {
	return g.late.Load()
}

func (g *Guard) excluding() bool {
	return !(g.lockOnlyAtBootTime && g.late.Load())
}
