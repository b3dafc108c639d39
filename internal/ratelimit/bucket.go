package ratelimit

import (
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Bucket is a token bucket that accrues one token per refill interval up to its capacity.
// A new bucket starts full.
type Bucket struct {
	clock    clockwork.Clock
	limiter  *rate.Limiter
	interval time.Duration
	capacity int
}

func NewBucket(clock clockwork.Clock, interval time.Duration, capacity int) *Bucket {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Bucket{
		clock:    clock,
		limiter:  rate.NewLimiter(rate.Every(interval), capacity),
		interval: interval,
		capacity: capacity,
	}
}

// TryConsume takes one token if one is available. It never blocks.
func (b *Bucket) TryConsume() bool {
	return b.limiter.AllowN(b.clock.Now(), 1)
}

// Available returns the number of whole tokens currently in the bucket.
func (b *Bucket) Available() int {
	return int(b.limiter.TokensAt(b.clock.Now()))
}

func (b *Bucket) Interval() time.Duration {
	return b.interval
}

func (b *Bucket) Capacity() int {
	return b.capacity
}
