package revocation

import (
	"sync"
	"time"
)

// Registry is the shared record of access-token IDs (jti) invalidated before
// their natural expiry. It is constructed once in main and injected into every
// component that verifies tokens; there is deliberately no package-level
// instance. Lookups are O(1) map reads and never perform I/O.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]time.Time

	stop chan struct{}
	done chan struct{}
}

// NewRegistry creates a registry whose background sweep prunes entries past
// their natural expiry every sweepInterval.
func NewRegistry(sweepInterval time.Duration) *Registry {
	r := &Registry{
		entries: make(map[string]time.Time),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.sweep(sweepInterval)
	return r
}

// Add revokes jti until expiresAt. After that point the token is expired
// anyway, so the entry can be dropped to bound memory.
func (r *Registry) Add(jti string, expiresAt time.Time) {
	if jti == "" {
		return
	}
	r.mu.Lock()
	r.entries[jti] = expiresAt
	r.mu.Unlock()
}

// IsRevoked reports whether jti has been revoked and is still within its
// natural lifetime.
func (r *Registry) IsRevoked(jti string) bool {
	r.mu.RLock()
	expiresAt, ok := r.entries[jti]
	r.mu.RUnlock()
	return ok && time.Now().Before(expiresAt)
}

// Len returns the current entry count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close stops the background sweep.
func (r *Registry) Close() {
	close(r.stop)
	<-r.done
}

func (r *Registry) sweep(interval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			now := time.Now()
			r.mu.Lock()
			for jti, expiresAt := range r.entries {
				if now.After(expiresAt) {
					delete(r.entries, jti)
				}
			}
			r.mu.Unlock()
		}
	}
}
