package stage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrReentrantGuard is the programming-error case: an actor tried to
// acquire the guard while already holding it.
var ErrReentrantGuard = errors.New("mode guard: re-entrant acquisition")

// ModeGuard serializes complete positioning-mode sequences. Whoever holds
// it may switch the firmware to relative mode, issue moves, and must switch
// back to absolute before releasing. Interleaving two actors' mode switches
// would silently corrupt every subsequent delta, so every motion source
// funnels through here.
//
// Acquisition is not FIFO; sessions are short and bounded, so starvation is
// acceptable. Nesting is not supported and fails loudly instead of
// deadlocking.
type ModeGuard struct {
	mu     sync.Mutex
	holder string
	sem    chan struct{}
}

func NewModeGuard() *ModeGuard {
	return &ModeGuard{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the guard is free or ctx is done. The actor name
// identifies the caller for re-entrancy detection and must be unique per
// worker.
func (g *ModeGuard) Acquire(ctx context.Context, actor string) error {
	g.mu.Lock()
	if g.holder != "" && g.holder == actor {
		g.mu.Unlock()
		return fmt.Errorf("%w by %q", ErrReentrantGuard, actor)
	}
	g.mu.Unlock()

	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	g.mu.Lock()
	g.holder = actor
	g.mu.Unlock()
	return nil
}

// Release frees the guard. Releasing without holding it is the same class
// of bug as re-entrant acquisition and is reported, not absorbed.
func (g *ModeGuard) Release(actor string) error {
	g.mu.Lock()
	if g.holder != actor {
		held := g.holder
		g.mu.Unlock()
		return fmt.Errorf("mode guard: release by %q but held by %q", actor, held)
	}
	g.holder = ""
	g.mu.Unlock()

	<-g.sem
	return nil
}

// Holder returns the current holder's actor name, or "".
func (g *ModeGuard) Holder() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder
}
