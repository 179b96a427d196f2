// Package admission gates checks by category so shared upstream services see
// a bounded number of concurrent requests.
package admission

import (
	"sync"

	"github.com/datadavev/mnstatus/internal/checker"
)

// Controller tracks in-flight checks per category against a ceiling.
// A category without a ceiling is never limited.
type Controller struct {
	mu       sync.Mutex
	limits   map[checker.Category]int
	inFlight map[checker.Category]int
	changed  chan struct{}
}

// New creates a Controller with the given per-category ceilings.
func New(limits map[checker.Category]int) *Controller {
	l := make(map[checker.Category]int, len(limits))
	for c, n := range limits {
		l[c] = n
	}
	return &Controller{limits: l, inFlight: make(map[checker.Category]int)}
}

// TryAdmit records one more in-flight check for c if that stays within the
// ceiling. It never blocks.
func (a *Controller) TryAdmit(c checker.Category) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if limit, ok := a.limits[c]; ok && a.inFlight[c] >= limit {
		return false
	}
	a.inFlight[c]++
	return true
}

// Release ends one in-flight check for c. Releasing an idle category is a
// no-op.
func (a *Controller) Release(c checker.Category) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inFlight[c] > 0 {
		a.inFlight[c]--
		if a.changed != nil {
			close(a.changed)
			a.changed = nil
		}
	}
}

// Changed returns a channel that is closed by the next Release that frees
// capacity.
func (a *Controller) Changed() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.changed == nil {
		a.changed = make(chan struct{})
	}
	return a.changed
}

// InFlight returns the current in-flight count for c.
func (a *Controller) InFlight(c checker.Category) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight[c]
}

// Limit returns the ceiling for c and whether one is set.
func (a *Controller) Limit(c checker.Category) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.limits[c]
	return n, ok
}
