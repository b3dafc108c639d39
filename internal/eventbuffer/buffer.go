package eventbuffer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/malbeclabs/connectivity-metrics/internal/event"
	"github.com/malbeclabs/connectivity-metrics/internal/metrics"
)

const (
	// DefaultCapacity is the capacity used when none is configured. Once the buffer is full,
	// incoming events are dropped until the next flush.
	DefaultCapacity = 2000
	// MaxCapacity is the hard ceiling of the buffer capacity.
	MaxCapacity = DefaultCapacity * 10
)

// Outcome is the admission decision of an appended event.
type Outcome int

const (
	OutcomeAdmitted Outcome = iota
	OutcomeDropped
	OutcomeRateLimited
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAdmitted:
		return "admitted"
	case OutcomeDropped:
		return "dropped"
	case OutcomeRateLimited:
		return "rate_limited"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result of an Append. Remaining is the capacity left after the append; it is 0 for dropped
// events and -1 for rate limited events.
type Result struct {
	Outcome   Outcome
	Remaining int
}

// RateLimiter decides whether an event kind is admitted.
type RateLimiter interface {
	TryConsume(kind event.Kind) bool
}

type Config struct {
	Logger *slog.Logger

	// Limiter gates admission per event kind. Optional; nil admits every kind.
	Limiter RateLimiter

	// CapacityFunc returns the capacity of a fresh buffer. It is called when the buffer is
	// created and on every flush, never while events are being appended. Values <= 0 mean
	// DefaultCapacity and values above MaxCapacity are clamped.
	CapacityFunc func() int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.CapacityFunc == nil {
		c.CapacityFunc = func() int { return DefaultCapacity }
	}
	return nil
}

// state is everything that is swapped atomically on flush. It is only accessed with
// Buffer.mu held.
type state struct {
	events   []event.Event
	dropped  int
	capacity int
}

// Buffer is a bounded, ordered log of events. Appends beyond capacity are dropped and
// counted; rate limited appends are rejected without being counted.
type Buffer struct {
	log     *slog.Logger
	cfg     *Config
	limiter RateLimiter

	mu    sync.Mutex
	state state
}

// Stats is a point in time view of the buffer counters.
type Stats struct {
	Buffered int
	Capacity int
	Dropped  int
}

func New(cfg *Config) (*Buffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	b := &Buffer{
		log:     cfg.Logger,
		cfg:     cfg,
		limiter: cfg.Limiter,
	}
	b.state = b.newState()
	return b, nil
}

// Append offers ev to the buffer.
func (b *Buffer) Append(ev event.Event) Result {
	res := b.append(ev)
	metrics.EventsAppended.WithLabelValues(ev.Kind.String(), res.Outcome.String()).Inc()
	return res
}

func (b *Buffer) append(ev event.Event) Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limiter != nil && !b.limiter.TryConsume(ev.Kind) {
		return Result{Outcome: OutcomeRateLimited, Remaining: -1}
	}
	left := b.state.capacity - len(b.state.events)
	if left <= 0 {
		b.state.dropped++
		return Result{Outcome: OutcomeDropped, Remaining: 0}
	}
	b.state.events = append(b.state.events, ev)
	metrics.BufferedEvents.Set(float64(len(b.state.events)))
	return Result{Outcome: OutcomeAdmitted, Remaining: left - 1}
}

// FlushAndReset replaces the buffer with an empty one and returns the previous events and
// drop count. Appends that complete before the swap are in the returned events; appends
// after it are in the new buffer.
func (b *Buffer) FlushAndReset() ([]event.Event, int) {
	fresh := b.newState()

	b.mu.Lock()
	prev := b.state
	b.state = fresh
	b.mu.Unlock()

	metrics.Flushes.Inc()
	metrics.FlushedEvents.Add(float64(len(prev.events)))
	metrics.BufferedEvents.Set(0)
	b.log.Debug("flushed event buffer", "events", len(prev.events), "dropped", prev.dropped, "capacity", fresh.capacity)
	return prev.events, prev.dropped
}

// Snapshot returns a copy of the buffered events without flushing them.
func (b *Buffer) Snapshot() []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]event.Event, len(b.state.events))
	copy(out, b.state.events)
	return out
}

func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Buffered: len(b.state.events),
		Capacity: b.state.capacity,
		Dropped:  b.state.dropped,
	}
}

// newState reads the configured capacity and allocates an empty state. It runs outside the
// lock since CapacityFunc may consult external configuration.
func (b *Buffer) newState() state {
	capacity := ClampCapacity(b.cfg.CapacityFunc())
	metrics.BufferCapacity.Set(float64(capacity))
	return state{
		events:   make([]event.Event, 0, capacity),
		capacity: capacity,
	}
}

// ClampCapacity maps a configured capacity to the capacity actually used.
func ClampCapacity(capacity int) int {
	if capacity <= 0 {
		return DefaultCapacity
	}
	return min(capacity, MaxCapacity)
}
