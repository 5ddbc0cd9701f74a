package rate

import (
	"context"
	"sync"
	"time"
)

// Config defines rate limiting parameters for a relayer route.
type Config struct {
	RequestsPerSecond int
	Burst             int
	// Cooldown is how long a limiter refuses tokens after the relayer
	// answers 429. Zero disables the penalty.
	Cooldown time.Duration
}

// Limiter implements a token bucket rate limiter with a 429 cooldown.
type Limiter struct {
	mu           sync.Mutex
	tokens       float64
	last         time.Time
	rate         float64
	burst        float64
	cooldown     time.Duration
	blockedUntil time.Time
}

// New creates a new limiter.
func New(cfg Config) *Limiter {
	return &Limiter{
		tokens:   float64(cfg.Burst),
		last:     time.Now(),
		rate:     float64(cfg.RequestsPerSecond),
		burst:    float64(cfg.Burst),
		cooldown: cfg.Cooldown,
	}
}

func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Before(l.blockedUntil) {
		return false
	}

	elapsed := now.Sub(l.last).Seconds()
	l.last = now

	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}

	if l.tokens >= 1 {
		l.tokens -= 1
		return true
	}
	return false
}

// Penalize blocks the limiter for its cooldown and drains the bucket.
func (l *Limiter) Penalize() {
	if l.cooldown <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blockedUntil = time.Now().Add(l.cooldown)
	l.tokens = 0
}

// BlockedUntil returns the end of the current cooldown, or the zero time.
func (l *Limiter) BlockedUntil() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockedUntil
}

// Wait blocks until a token becomes available or context is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.Allow() {
			return nil
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Manager holds one limiter per key (typically api key + route).
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults Config
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
	}
}

func (m *Manager) GetLimiter(key string) *Limiter {
	m.mu.RLock()
	if lim, ok := m.limiters[key]; ok {
		m.mu.RUnlock()
		return lim
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[key]; ok {
		return lim
	}
	lim := New(m.defaults)
	m.limiters[key] = lim
	return lim
}

// Wait ensures rate limit compliance for a given key.
func (m *Manager) Wait(ctx context.Context, key string) error {
	return m.GetLimiter(key).Wait(ctx)
}

// Penalize applies the cooldown to the limiter for key.
func (m *Manager) Penalize(key string) {
	m.GetLimiter(key).Penalize()
}
