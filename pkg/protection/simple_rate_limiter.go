package protection

import (
	"sync"
	"time"
)

// SimpleLimiter is a basic token bucket
type SimpleLimiter struct {
	lastRefill time.Time
	now        func() time.Time
	tokens     int
	maxTokens  int
	refillRate time.Duration
	mu         sync.Mutex
}

// NewSimpleLimiter creates a new simple rate limiter
func NewSimpleLimiter(rps float64, burst int) *SimpleLimiter {
	return newSimpleLimiter(rps, burst, time.Now)
}

func newSimpleLimiter(rps float64, burst int, now func() time.Time) *SimpleLimiter {
	if burst < 1 {
		burst = 1
	}
	refillInterval := time.Duration(float64(time.Second) / rps)
	if rps <= 0 || refillInterval <= 0 {
		refillInterval = time.Second
	}

	return &SimpleLimiter{
		tokens:     burst,
		maxTokens:  burst,
		refillRate: refillInterval,
		lastRefill: now(),
		now:        now,
	}
}

// Allow checks if a request is allowed
func (l *SimpleLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	// Refill tokens based on time elapsed
	elapsed := now.Sub(l.lastRefill)
	tokensToAdd := int(elapsed / l.refillRate)

	if tokensToAdd > 0 {
		l.tokens += tokensToAdd
		if l.tokens > l.maxTokens {
			l.tokens = l.maxTokens
		}
		l.lastRefill = l.lastRefill.Add(time.Duration(tokensToAdd) * l.refillRate)
	}

	if l.tokens > 0 {
		l.tokens--
		return true
	}

	return false
}

func (l *SimpleLimiter) full() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	elapsed := l.now().Sub(l.lastRefill)
	return l.tokens+int(elapsed/l.refillRate) >= l.maxTokens
}

// KeyedLimiter keeps one token bucket per key, e.g. per phone number.
// Buckets that have refilled completely are dropped on the next sweep.
type KeyedLimiter struct {
	limiters  map[string]*SimpleLimiter
	now       func() time.Time
	lastSweep time.Time
	rate      float64
	burst     int
	mu        sync.Mutex
}

const sweepInterval = time.Minute

// NewKeyedLimiter allows burst events per key, refilling at rate events per second
func NewKeyedLimiter(rate float64, burst int) *KeyedLimiter {
	return NewKeyedLimiterWithClock(rate, burst, time.Now)
}

// NewKeyedLimiterWithClock is NewKeyedLimiter with an injectable clock
func NewKeyedLimiterWithClock(rate float64, burst int, now func() time.Time) *KeyedLimiter {
	if now == nil {
		now = time.Now
	}
	return &KeyedLimiter{
		limiters:  make(map[string]*SimpleLimiter),
		now:       now,
		lastSweep: now(),
		rate:      rate,
		burst:     burst,
	}
}

// Allow takes a token from key's bucket
func (k *KeyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	if k.now().Sub(k.lastSweep) >= sweepInterval {
		for id, l := range k.limiters {
			if l.full() {
				delete(k.limiters, id)
			}
		}
		k.lastSweep = k.now()
	}
	l, ok := k.limiters[key]
	if !ok {
		l = newSimpleLimiter(k.rate, k.burst, k.now)
		k.limiters[key] = l
	}
	k.mu.Unlock()

	return l.Allow()
}

// Len returns the number of tracked keys
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}
