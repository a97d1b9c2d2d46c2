package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a token bucket refilled at rate tokens per second up to burst.
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

func (l *Limiter) idleSince(t time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastUpdate.Before(t)
}

// KeyedLimiters holds one Limiter per key (a remote address for upgrades).
// Limiters idle for longer than the cleanup interval are evicted.
type KeyedLimiters struct {
	limiters        map[string]*Limiter
	rate            float64
	burst           int
	mu              sync.RWMutex
	cleanupInterval time.Duration
	now             func() time.Time
	stop            chan struct{}
	stopOnce        sync.Once
}

func NewKeyedLimiters(rate float64, burst int) *KeyedLimiters {
	kl := &KeyedLimiters{
		limiters:        make(map[string]*Limiter),
		rate:            rate,
		burst:           burst,
		cleanupInterval: 5 * time.Minute,
		now:             time.Now,
		stop:            make(chan struct{}),
	}
	go kl.cleanup()
	return kl
}

func (kl *KeyedLimiters) Allow(key string) bool {
	return kl.Get(key).Allow()
}

func (kl *KeyedLimiters) Get(key string) *Limiter {
	kl.mu.RLock()
	limiter, ok := kl.limiters[key]
	kl.mu.RUnlock()

	if ok {
		return limiter
	}

	kl.mu.Lock()
	defer kl.mu.Unlock()

	if limiter, ok := kl.limiters[key]; ok {
		return limiter
	}

	limiter = newLimiter(kl.rate, kl.burst, kl.now)
	kl.limiters[key] = limiter
	return limiter
}

func (kl *KeyedLimiters) Remove(key string) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	delete(kl.limiters, key)
}

func (kl *KeyedLimiters) Len() int {
	kl.mu.RLock()
	defer kl.mu.RUnlock()
	return len(kl.limiters)
}

func (kl *KeyedLimiters) Stop() {
	kl.stopOnce.Do(func() { close(kl.stop) })
}

func (kl *KeyedLimiters) cleanup() {
	ticker := time.NewTicker(kl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-kl.stop:
			return
		case <-ticker.C:
			kl.evictIdle()
		}
	}
}

func (kl *KeyedLimiters) evictIdle() {
	cutoff := kl.now().Add(-kl.cleanupInterval)

	kl.mu.Lock()
	defer kl.mu.Unlock()
	for key, limiter := range kl.limiters {
		if limiter.idleSince(cutoff) {
			delete(kl.limiters, key)
		}
	}
}
