package resilience

import (
	"sync"
	"time"
)

// BreakerSet maintains an independent circuit breaker per key, so one
// misbehaving endpoint cannot trip the circuit for unrelated ones.
// Breakers are created lazily on first use and never evicted; the key
// space is bounded by the number of configured endpoints.
type BreakerSet struct {
	mu          sync.Mutex
	breakers    map[string]*Breaker
	maxFailures int
	timeout     time.Duration
}

// NewBreakerSet creates a BreakerSet whose per-key breakers open after
// maxFailures consecutive failures for the given timeout.
func NewBreakerSet(maxFailures int, timeout time.Duration) *BreakerSet {
	return &BreakerSet{
		breakers:    make(map[string]*Breaker),
		maxFailures: maxFailures,
		timeout:     timeout,
	}
}

// Get returns the breaker for key, creating it if needed.
func (s *BreakerSet) Get(key string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[key]
	if !ok {
		b = NewBreaker(s.maxFailures, s.timeout)
		s.breakers[key] = b
	}
	return b
}

// Execute runs fn through the breaker for key.
func (s *BreakerSet) Execute(key string, fn func() error) error {
	return s.Get(key).Execute(fn)
}
