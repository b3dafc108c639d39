package ratelimit

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/connectivity-metrics/internal/event"
)

// BucketConfig parameterizes the bucket of a single event kind.
type BucketConfig struct {
	RefillInterval time.Duration
	Capacity       int
}

func (c BucketConfig) Validate() error {
	if c.RefillInterval <= 0 {
		return errors.New("refill interval must be greater than 0")
	}
	if c.Capacity <= 0 {
		return errors.New("capacity must be greater than 0")
	}
	return nil
}

// DefaultBuckets returns the default rate limiting configuration: one token every minute
// with a burst of 50 for APF program events, i.e. roughly 50 events per hour.
func DefaultBuckets() map[event.Kind]BucketConfig {
	return map[event.Kind]BucketConfig{
		event.KindAPFProgram: {RefillInterval: time.Minute, Capacity: 50},
	}
}

// Limiter gates admission per event kind. Kinds without a configured bucket are never
// limited. The bucket set is fixed at construction so lookups need no lock, and each bucket
// synchronizes independently.
type Limiter struct {
	buckets map[event.Kind]*Bucket
}

func NewLimiter(clock clockwork.Clock, cfg map[event.Kind]BucketConfig) (*Limiter, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	buckets := make(map[event.Kind]*Bucket, len(cfg))
	for kind, bc := range cfg {
		if err := bc.Validate(); err != nil {
			return nil, fmt.Errorf("invalid bucket for %s: %w", kind, err)
		}
		buckets[kind] = NewBucket(clock, bc.RefillInterval, bc.Capacity)
	}
	return &Limiter{buckets: buckets}, nil
}

// TryConsume reports whether an event of the given kind is admitted.
func (l *Limiter) TryConsume(kind event.Kind) bool {
	if l == nil {
		return true
	}
	b, ok := l.buckets[kind]
	if !ok {
		return true
	}
	return b.TryConsume()
}

// Bucket returns the bucket configured for kind, if any.
func (l *Limiter) Bucket(kind event.Kind) (*Bucket, bool) {
	if l == nil {
		return nil, false
	}
	b, ok := l.buckets[kind]
	return b, ok
}
