package assetdb

import (
	"sync"
	"time"
)

// cooldownGate rate-limits repair-style actions. Allow reports whether
// the action may run now and starts the cooldown window when it does.
// One gate tracks an independent window per key, so a column repair on
// one table does not starve a table repair elsewhere.
type cooldownGate struct {
	mu       sync.Mutex
	window   time.Duration
	now      func() time.Time
	lastFire map[string]time.Time
}

func newCooldownGate(window time.Duration) *cooldownGate {
	return &cooldownGate{
		window:   window,
		now:      time.Now,
		lastFire: make(map[string]time.Time),
	}
}

// Allow reports whether key's action may fire now. The first call for a
// key always fires; later calls fire only after the window has passed.
func (g *cooldownGate) Allow(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if last, ok := g.lastFire[key]; ok && now.Sub(last) < g.window {
		return false
	}
	g.lastFire[key] = now
	return true
}

// Remaining returns how much of key's cooldown window is left
func (g *cooldownGate) Remaining(key string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	last, ok := g.lastFire[key]
	if !ok {
		return 0
	}
	left := g.window - g.now().Sub(last)
	if left < 0 {
		return 0
	}
	return left
}

// Clear forgets key's window so the next Allow fires immediately
func (g *cooldownGate) Clear(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.lastFire, key)
}
