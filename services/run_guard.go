// services/run_guard.go
package services

import "sync/atomic"

// RunGuard serializes batch runs. The in-process implementation only guards
// overlapping ticks within one instance; a horizontally scaled deployment
// needs a leased-lock implementation behind this same interface.
type RunGuard interface {
	// TryAcquire returns false when a run is already in progress.
	TryAcquire() bool
	Release()
}

// ProcessRunGuard is the single-instance guard.
type ProcessRunGuard struct {
	running atomic.Bool
}

func NewProcessRunGuard() *ProcessRunGuard {
	return &ProcessRunGuard{}
}

func (g *ProcessRunGuard) TryAcquire() bool {
	return g.running.CompareAndSwap(false, true)
}

func (g *ProcessRunGuard) Release() {
	g.running.Store(false)
}
