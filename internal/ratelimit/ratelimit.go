package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a token bucket.
type Limiter struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func NewLimiter(rate float64, burst int) *Limiter {
	return newLimiter(rate, burst, time.Now)
}

func newLimiter(rate float64, burst int, now func() time.Time) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: now(),
		now:        now,
	}
}

func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}

	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true
	}
	return false
}

// Registry hands out one limiter per participant, so reconnecting does not refill the bucket.
type Registry struct {
	limiters        map[string]*entry
	rate            float64
	burst           int
	idleTTL         time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
	mu              sync.Mutex
	stop            chan struct{}
	stopOnce        sync.Once
}

type entry struct {
	limiter  *Limiter
	refs     int
	lastUsed time.Time
}

func NewRegistry(rate float64, burst int) *Registry {
	r := newRegistry(rate, burst, time.Now)
	go r.cleanup()
	return r
}

func newRegistry(rate float64, burst int, now func() time.Time) *Registry {
	return &Registry{
		limiters:        make(map[string]*entry),
		rate:            rate,
		burst:           burst,
		idleTTL:         10 * time.Minute,
		cleanupInterval: time.Minute,
		now:             now,
		stop:            make(chan struct{}),
	}
}

// Acquire returns the participant's limiter; pair it with Release.
func (r *Registry) Acquire(participantID string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.limiters[participantID]
	if !ok {
		e = &entry{limiter: newLimiter(r.rate, r.burst, r.now)}
		r.limiters[participantID] = e
	}
	e.refs++
	e.lastUsed = r.now()
	return e.limiter
}

func (r *Registry) Release(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.limiters[participantID]; ok {
		if e.refs > 0 {
			e.refs--
		}
		e.lastUsed = r.now()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}

func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Registry) cleanup() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

// Drops released limiters that have been idle past the TTL
func (r *Registry) evictIdle() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	evicted := 0
	for id, e := range r.limiters {
		if e.refs == 0 && now.Sub(e.lastUsed) > r.idleTTL {
			delete(r.limiters, id)
			evicted++
		}
	}
	return evicted
}
