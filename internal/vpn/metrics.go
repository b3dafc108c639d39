// Package vpn tracks the health of VPN connections per user: how long they stay connected
// and validated, which networks carry them and why they fail.
package vpn

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/connectivity-metrics/internal/event"
	"github.com/malbeclabs/connectivity-metrics/internal/metrics"
)

const (
	AssertionDoubleConnect         = "double_connect"
	AssertionUnknownDisconnect     = "unknown_disconnect"
	AssertionUnconnectedValidation = "unconnected_validation"
	AssertionUnknownUnderlying     = "unknown_underlying_network"
)

// ValidationStatus is the result of a VPN validation attempt.
type ValidationStatus int

const (
	ValidationStatusValid    ValidationStatus = 1
	ValidationStatusNotValid ValidationStatus = 2
)

// TransportsLookup returns the transports bitmask of a network.
type TransportsLookup func(netID int32) (uint64, bool)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// Transports resolves the transports of underlying networks.
	Transports TransportsLookup
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Transports == nil {
		return errors.New("transports lookup is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Connection is the record built for a collector on every pull.
type Connection struct {
	UserID                    int32             `json:"user_id"`
	StartedAt                 time.Time         `json:"started_at"`
	ConnectedPeriodSeconds    int64             `json:"connected_period_seconds"`
	ValidatedPeriodSeconds    int64             `json:"validated_period_seconds"`
	UnderlyingTransports      []event.Transport `json:"underlying_transports"`
	ValidationAttempts        int               `json:"validation_attempts"`
	ValidationAttemptsSuccess int               `json:"validation_attempts_success"`
	ErrorCodes                []ErrorCode       `json:"error_codes"`
}

// Metrics owns the per-user collectors. Connection records are handed out by PullMetrics
// and not retained.
type Metrics struct {
	log *slog.Logger
	cfg *Config

	mu         sync.Mutex
	collectors map[int32]*Collector
	pulled     int
}

func New(cfg *Config) (*Metrics, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Metrics{
		log:        cfg.Logger,
		cfg:        cfg,
		collectors: make(map[int32]*Collector),
	}, nil
}

// NewCollector creates the collector of userID, replacing any previous one.
func (m *Metrics) NewCollector(userID int32) *Collector {
	c := &Collector{
		log:        m.log.With("userID", userID),
		clock:      m.cfg.Clock,
		transports: m.cfg.Transports,
		userID:     userID,
		connected:  make(map[string]time.Time),
		validated:  make(map[string]time.Time),
		underlying: make(map[event.Transport]struct{}),
	}
	m.mu.Lock()
	m.collectors[userID] = c
	m.mu.Unlock()
	return c
}

// Collector returns the collector of userID.
func (m *Metrics) Collector(userID int32) (*Collector, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collectors[userID]
	return c, ok
}

// PullMetrics builds and returns a record for every started collector, ordered by user.
// Periods and counters are cumulative per collector, so each pull supersedes the previous one.
func (m *Metrics) PullMetrics() []Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	userIDs := make([]int32, 0, len(m.collectors))
	for id := range m.collectors {
		userIDs = append(userIDs, id)
	}
	slices.Sort(userIDs)
	var conns []Connection
	for _, id := range userIDs {
		if conn, ok := m.collectors[id].build(); ok {
			conns = append(conns, conn)
		}
	}
	m.pulled += len(conns)
	return conns
}

func (m *Metrics) Dump(w io.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fmt.Fprintf(w, "vpn collectors: %d, records pulled: %d\n", len(m.collectors), m.pulled)
}

// Collector accumulates the VPN metrics of one user. Agents identify the network agents of
// the VPN; a restarted VPN connects its new agent before the old one disconnects.
type Collector struct {
	log        *slog.Logger
	clock      clockwork.Clock
	transports TransportsLookup
	userID     int32

	mu                 sync.Mutex
	started            bool
	startedAt          time.Time
	connectedPeriod    time.Duration
	validatedPeriod    time.Duration
	connected          map[string]time.Time
	validated          map[string]time.Time
	underlying         map[event.Transport]struct{}
	validationAttempts int
	validationSuccess  int
	errorCodes         []ErrorCode
}

func (c *Collector) UserID() int32 {
	return c.userID
}

// OnAppStarted marks the VPN as started by an app. Records are only built once started.
func (c *Collector) OnAppStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	c.startedAt = c.clock.Now()
}

func (c *Collector) OnVpnConnected(agent string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.connected[agent]; ok {
		c.assert(AssertionDoubleConnect, "vpn connected on an already connected agent", "agent", agent)
	}
	c.connected[agent] = c.clock.Now()
}

func (c *Collector) OnVpnDisconnected(agent string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	since, ok := c.connected[agent]
	if !ok {
		c.assert(AssertionUnknownDisconnect, "vpn disconnected on an unknown agent", "agent", agent)
		return
	}
	now := c.clock.Now()
	c.connectedPeriod += now.Sub(since)
	if validSince, ok := c.validated[agent]; ok {
		c.validatedPeriod += now.Sub(validSince)
		delete(c.validated, agent)
	}
	delete(c.connected, agent)
}

// OnSetUnderlyingNetworks records the transports of the networks carrying the VPN.
func (c *Collector) OnSetUnderlyingNetworks(netIDs []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, netID := range netIDs {
		mask, ok := c.transports(netID)
		if !ok {
			c.assert(AssertionUnknownUnderlying, "unable to get transports of underlying network", "netID", netID)
			continue
		}
		for _, t := range event.UnpackTransports(mask) {
			c.underlying[t] = struct{}{}
		}
	}
}

func (c *Collector) OnValidationStatus(agent string, status ValidationStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.connected[agent]; !ok {
		c.assert(AssertionUnconnectedValidation, "validation status on an unconnected agent", "agent", agent)
	}
	c.validationAttempts++
	switch status {
	case ValidationStatusValid:
		c.validationSuccess++
		if _, ok := c.validated[agent]; !ok {
			c.validated[agent] = c.clock.Now()
		}
	case ValidationStatusNotValid:
		if since, ok := c.validated[agent]; ok {
			c.validatedPeriod += c.clock.Now().Sub(since)
		}
		delete(c.validated, agent)
	}
}

// OnException records the error code of a VPN failure.
func (c *Collector) OnException(err error) {
	code := ClassifyError(err)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCodes = append(c.errorCodes, code)
}

// assert reports a state transition that should never happen. The collector keeps going.
func (c *Collector) assert(assertion, msg string, args ...any) {
	metrics.VPNCollectorAssertions.WithLabelValues(assertion).Inc()
	c.log.Error(msg, args...)
}

// build folds the ongoing periods up to now and returns the record of the collector.
func (c *Collector) build() (Connection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return Connection{}, false
	}
	now := c.clock.Now()
	for agent, since := range c.connected {
		c.connectedPeriod += now.Sub(since)
		c.connected[agent] = now
	}
	for agent, since := range c.validated {
		c.validatedPeriod += now.Sub(since)
		c.validated[agent] = now
	}

	underlying := make([]event.Transport, 0, len(c.underlying))
	for t := range c.underlying {
		underlying = append(underlying, t)
	}
	slices.Sort(underlying)

	return Connection{
		UserID:                    c.userID,
		StartedAt:                 c.startedAt,
		ConnectedPeriodSeconds:    int64(c.connectedPeriod / time.Second),
		ValidatedPeriodSeconds:    int64(c.validatedPeriod / time.Second),
		UnderlyingTransports:      underlying,
		ValidationAttempts:        c.validationAttempts,
		ValidationAttemptsSuccess: c.validationSuccess,
		ErrorCodes:                slices.Clone(c.errorCodes),
	}, true
}
