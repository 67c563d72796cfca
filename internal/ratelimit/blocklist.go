package ratelimit

import (
	"sync"
	"time"

	"github.com/CloudReel/sentinel/internal/clock"
)

// Blocklist holds identifiers (IPs, user ids) denied outright, typically
// placed there by incident response. Entries expire lazily.
type Blocklist struct {
	mu      sync.RWMutex
	clock   clock.Clock
	entries map[string]time.Time
}

// NewBlocklist creates an empty blocklist.
func NewBlocklist(clk clock.Clock) *Blocklist {
	if clk == nil {
		clk = clock.Real()
	}
	return &Blocklist{clock: clk, entries: make(map[string]time.Time)}
}

// Block denies the identifier for the given duration. A zero duration
// blocks until explicitly unblocked.
func (b *Blocklist) Block(identifier string, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d == 0 {
		// Far-future expiry stands in for "indefinite".
		b.entries[identifier] = b.clock.Now().AddDate(100, 0, 0)
		return
	}
	b.entries[identifier] = b.clock.Now().Add(d)
}

// Unblock removes the identifier.
func (b *Blocklist) Unblock(identifier string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, identifier)
}

// Blocked reports whether the identifier is currently denied.
func (b *Blocklist) Blocked(identifier string) bool {
	b.mu.RLock()
	until, ok := b.entries[identifier]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	if b.clock.Now().After(until) {
		b.mu.Lock()
		delete(b.entries, identifier)
		b.mu.Unlock()
		return false
	}
	return true
}
