// Package ipconnectivity is the connectivity metrics engine: it admits reported events into
// the event buffer, feeds dns and connect results to the per-network aggregator and serves
// the dump commands.
package ipconnectivity

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/connectivity-metrics/internal/codec"
	"github.com/malbeclabs/connectivity-metrics/internal/event"
	"github.com/malbeclabs/connectivity-metrics/internal/eventbuffer"
	"github.com/malbeclabs/connectivity-metrics/internal/linklayer"
	"github.com/malbeclabs/connectivity-metrics/internal/metrics"
	"github.com/malbeclabs/connectivity-metrics/internal/netd"
	"github.com/malbeclabs/connectivity-metrics/internal/netmetrics"
	"github.com/malbeclabs/connectivity-metrics/internal/ratelimit"
	"github.com/malbeclabs/connectivity-metrics/internal/vpn"
)

// RateLimited is returned by LogEvent for events rejected by the rate limiter. Reporters
// must not retry them.
const RateLimited = -1

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// CapacityFunc returns the event buffer capacity, read on every buffer reset.
	CapacityFunc func() int

	// Buckets rate limits event kinds. Nil means ratelimit.DefaultBuckets; an empty map
	// disables rate limiting.
	Buckets map[event.Kind]ratelimit.BucketConfig

	// Aggregator configures the per-network aggregator. Logger and Clock are inherited.
	Aggregator netmetrics.AggregatorConfig

	MaxUnknownInterfaces uint64

	// Callbacks are notified of dns and connect results and network changes, after the
	// aggregator.
	Callbacks []netd.EventCallback
	// Serializer encodes flushed events. Nil means codec.Serialize.
	Serializer func(dropped int, events []event.Event, opts ...codec.Option) ([]byte, error)
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.CapacityFunc == nil {
		c.CapacityFunc = func() int { return eventbuffer.DefaultCapacity }
	}
	if c.Buckets == nil {
		c.Buckets = ratelimit.DefaultBuckets()
	}
	if c.Serializer == nil {
		c.Serializer = codec.Serialize
	}
	c.Aggregator.Logger = c.Logger
	c.Aggregator.Clock = c.Clock
	return nil
}

// Service owns the event buffer, the rate limiter, the link layer registry, the aggregator
// and the vpn collectors of a process.
type Service struct {
	log   *slog.Logger
	clock clockwork.Clock

	limiter    *ratelimit.Limiter
	buffer     *eventbuffer.Buffer
	registry   *linklayer.Registry
	aggregator *netmetrics.Aggregator
	dispatcher *netd.Dispatcher
	vpn        *vpn.Metrics
	serialize  func(int, []event.Event, ...codec.Option) ([]byte, error)
}

func New(cfg *Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	limiter, err := ratelimit.NewLimiter(cfg.Clock, cfg.Buckets)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	buffer, err := eventbuffer.New(&eventbuffer.Config{
		Logger:       cfg.Logger,
		Limiter:      limiter,
		CapacityFunc: cfg.CapacityFunc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create event buffer: %w", err)
	}

	registry, err := linklayer.NewRegistry(&linklayer.RegistryConfig{
		Logger:               cfg.Logger,
		MaxUnknownInterfaces: cfg.MaxUnknownInterfaces,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create link layer registry: %w", err)
	}

	aggregator, err := netmetrics.NewAggregator(&cfg.Aggregator)
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregator: %w", err)
	}

	dispatcher := netd.NewDispatcher(aggregator, &promCallback{})
	for _, cb := range cfg.Callbacks {
		dispatcher.Register(cb)
	}

	s := &Service{
		log:        cfg.Logger,
		clock:      cfg.Clock,
		limiter:    limiter,
		buffer:     buffer,
		registry:   registry,
		aggregator: aggregator,
		dispatcher: dispatcher,
		serialize:  cfg.Serializer,
	}

	s.vpn, err = vpn.New(&vpn.Config{
		Logger:     cfg.Logger,
		Clock:      cfg.Clock,
		Transports: s.networkTransports,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vpn metrics: %w", err)
	}

	return s, nil
}

// LogEvent records ev and returns the remaining buffer capacity, 0 if the event was dropped
// because the buffer is full, or RateLimited. DNS and connect results are aggregated
// regardless of buffer admission.
func (s *Service) LogEvent(ev event.Event) int {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.clock.Now()
	}
	res := s.buffer.Append(ev)
	s.dispatcher.Dispatch(ev)

	if res.Outcome == eventbuffer.OutcomeRateLimited {
		return RateLimited
	}
	return res.Remaining
}

// RegisterNetwork classifies the primary interface of netID and seeds its aggregator record.
// When transports is 0 they are derived from the classified link layer.
func (s *Service) RegisterNetwork(netID int32, ifname string, transports uint64) linklayer.LinkLayer {
	link := s.registry.Register(netID, ifname)
	if transports == 0 {
		transports = link.Transports()
	}
	s.dispatcher.NetworkRegistered(netID, transports, ifname)

	metrics.NetworkRegistrations.WithLabelValues(link.String()).Inc()
	s.log.Debug("registered network", "netID", netID, "ifname", ifname, "linkLayer", link, "transports", transports)
	return link
}

// NetworkLost forgets netID.
func (s *Service) NetworkLost(netID int32) {
	s.registry.Unregister(netID)
	s.dispatcher.NetworkLost(netID)
	s.log.Debug("network lost", "netID", netID)
}

// RegisterCallback adds a listener of dns and connect results and network changes.
func (s *Service) RegisterCallback(cb netd.EventCallback) {
	s.dispatcher.Register(cb)
}

func (s *Service) Aggregator() *netmetrics.Aggregator {
	return s.aggregator
}

func (s *Service) Registry() *linklayer.Registry {
	return s.registry
}

func (s *Service) VPN() *vpn.Metrics {
	return s.vpn
}

// BufferStats returns the counters of the event buffer.
func (s *Service) BufferStats() eventbuffer.Stats {
	return s.buffer.Stats()
}

func (s *Service) networkTransports(netID int32) (uint64, bool) {
	nm, ok := s.aggregator.Network(netID)
	if !ok {
		return 0, false
	}
	return nm.Transports(), true
}
