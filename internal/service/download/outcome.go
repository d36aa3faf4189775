package download

import (
	"sync"

	"github.com/vertextoedge/rangefetch/internal/domain"
)

// resultCell is a single-assignment completion primitive. The trigger paths
// that can end a download (natural completion, stream error, write error,
// cancellation, timeout) all race to resolve it; the first wins and later
// resolutions are no-ops, so exactly one outcome is ever produced.
type resultCell struct {
	mu       sync.Mutex
	resolved bool
	err      error
	done     chan struct{}
}

func newResultCell() *resultCell {
	return &resultCell{done: make(chan struct{})}
}

// resolve records the outcome if the cell is still unresolved. Returns true
// for the winning caller.
func (c *resultCell) resolve(err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved {
		return false
	}
	c.resolved = true
	c.err = err
	close(c.done)
	return true
}

// wait blocks until the cell is resolved and returns the winning outcome.
func (c *resultCell) wait() error {
	<-c.done
	return c.err
}

// guard wraps a progress callback so it only fires while the cell is
// unresolved. The callback runs under the resolution lock, so an in-flight
// call finishes before any resolution completes and no call starts after
// one has: callbacks stay inside the Download invocation window.
func (c *resultCell) guard(fn domain.ProgressFunc) domain.ProgressFunc {
	if fn == nil {
		return nil
	}
	return func(received, total int64) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.resolved {
			fn(received, total)
		}
	}
}
