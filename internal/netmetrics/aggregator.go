package netmetrics

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/connectivity-metrics/internal/event"
	"github.com/malbeclabs/connectivity-metrics/internal/netd"
	"github.com/malbeclabs/connectivity-metrics/internal/ratelimit"
)

const (
	defaultSnapshotSpan    = 5 * time.Minute
	defaultSnapshotHistory = 48 // 4 hours of 5 minute snapshots
)

// DefaultConnectLatencyBucket samples one connect latency every 15 seconds with bursts of
// up to 5000 samples.
var DefaultConnectLatencyBucket = ratelimit.BucketConfig{RefillInterval: 15 * time.Second, Capacity: 5000}

type AggregatorConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// Optional with defaults.
	DNSBatchSize             int
	MaxDNSRecords            int
	MaxConnectLatencyRecords int
	ConnectLatencyBucket     ratelimit.BucketConfig
	SnapshotSpan             time.Duration
	SnapshotHistory          int
}

func (c *AggregatorConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.DNSBatchSize == 0 {
		c.DNSBatchSize = defaultDNSBatchSize
	}
	if c.DNSBatchSize < 0 {
		return errors.New("dns batch size must be > 0")
	}
	if c.MaxDNSRecords == 0 {
		c.MaxDNSRecords = defaultMaxDNSRecords
	}
	if c.MaxDNSRecords < 0 {
		return errors.New("max dns records must be > 0")
	}
	if c.MaxConnectLatencyRecords == 0 {
		c.MaxConnectLatencyRecords = defaultMaxConnectLatencyRecords
	}
	if c.MaxConnectLatencyRecords < 0 {
		return errors.New("max connect latency records must be > 0")
	}
	if c.ConnectLatencyBucket == (ratelimit.BucketConfig{}) {
		c.ConnectLatencyBucket = DefaultConnectLatencyBucket
	}
	if err := c.ConnectLatencyBucket.Validate(); err != nil {
		return fmt.Errorf("invalid connect latency bucket: %w", err)
	}
	if c.SnapshotSpan == 0 {
		c.SnapshotSpan = defaultSnapshotSpan
	}
	if c.SnapshotSpan < 0 {
		return errors.New("snapshot span must be > 0")
	}
	if c.SnapshotHistory == 0 {
		c.SnapshotHistory = defaultSnapshotHistory
	}
	if c.SnapshotHistory < 0 {
		return errors.New("snapshot history must be > 0")
	}
	return nil
}

// Aggregator owns the per-network metrics. Each network is guarded by its own lock, so
// results for different networks never contend beyond a read lock on the network map.
type Aggregator struct {
	netd.NopEventCallback

	log *slog.Logger
	cfg *AggregatorConfig

	connectLatencyBucket *ratelimit.Bucket

	mu       sync.RWMutex
	networks map[int32]*NetworkMetrics
	// retired holds pending stats of replaced or lost networks until the next snapshot.
	retired []Summary

	snapMu       sync.Mutex
	lastSnapshot atomic.Int64 // unix nanos, read without snapMu on the hot path
	snapshots    *snapshotRing
}

var _ netd.EventCallback = (*Aggregator)(nil)
var _ netd.Dumper = (*Aggregator)(nil)

func NewAggregator(cfg *AggregatorConfig) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	a := &Aggregator{
		log:                  cfg.Logger,
		cfg:                  cfg,
		connectLatencyBucket: ratelimit.NewBucket(cfg.Clock, cfg.ConnectLatencyBucket.RefillInterval, cfg.ConnectLatencyBucket.Capacity),
		networks:             make(map[int32]*NetworkMetrics),
		snapshots:            newSnapshotRing(cfg.SnapshotHistory),
	}
	a.lastSnapshot.Store(cfg.Clock.Now().UnixNano())
	return a, nil
}

// RegisterNetwork seeds the metrics of netID. Registering a known network with different
// transports replaces its record; its pending stats are kept for the next snapshot.
func (a *Aggregator) RegisterNetwork(netID int32, transports uint64) *NetworkMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	if nm, ok := a.networks[netID]; ok {
		if nm.Transports() == transports {
			return nm
		}
		a.log.Debug("replacing network metrics on transports change", "netID", netID, "old", nm.Transports(), "new", transports)
		a.retireLocked(nm)
	}
	nm := a.newNetworkMetrics(netID, transports)
	a.networks[netID] = nm
	return nm
}

// UnregisterNetwork drops the metrics of netID, keeping its pending stats for the next
// snapshot. Unknown networks are ignored.
func (a *Aggregator) UnregisterNetwork(netID int32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	nm, ok := a.networks[netID]
	if !ok {
		return
	}
	a.retireLocked(nm)
	delete(a.networks, netID)
}

// AddDNSResult aggregates a dns result for netID, creating its metrics on first use.
func (a *Aggregator) AddDNSResult(netID int32, transports uint64, eventType, returnCode, latencyMs int32) {
	a.maybeCollectSnapshot()
	// A record retired between lookup and add rejects the result; its replacement is
	// already in the map under the same lock that retired it.
	for {
		if a.metricsFor(netID, transports).tryAddDNSResult(eventType, returnCode, latencyMs) {
			return
		}
	}
}

// AddConnectResult aggregates a connect result for netID, creating its metrics on first use.
func (a *Aggregator) AddConnectResult(netID int32, transports uint64, errno, latencyMs int32, ipAddr string) {
	a.maybeCollectSnapshot()
	for {
		if a.metricsFor(netID, transports).tryAddConnectResult(errno, latencyMs, ipAddr) {
			return
		}
	}
}

// Network returns the metrics of netID, if any.
func (a *Aggregator) Network(netID int32) (*NetworkMetrics, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	nm, ok := a.networks[netID]
	return nm, ok
}

// PendingStats flushes the pending stats of netID. It returns nil for unknown networks and
// for networks without results since the last flush.
func (a *Aggregator) PendingStats(netID int32) *Summary {
	nm, ok := a.Network(netID)
	if !ok {
		return nil
	}
	return nm.PendingStats()
}

// Stats returns the long running stats of netID.
func (a *Aggregator) Stats(netID int32) (Summary, bool) {
	nm, ok := a.Network(netID)
	if !ok {
		return Summary{}, false
	}
	return nm.Stats(), true
}

// CollectSnapshot flushes the pending stats of every network into a new snapshot. Nothing
// is retained if no network had pending stats.
func (a *Aggregator) CollectSnapshot() (Snapshot, bool) {
	a.snapMu.Lock()
	defer a.snapMu.Unlock()
	return a.collectSnapshotLocked(a.cfg.Clock.Now())
}

// Snapshots returns the retained snapshots, oldest first.
func (a *Aggregator) Snapshots() []Snapshot {
	a.snapMu.Lock()
	defer a.snapMu.Unlock()
	return a.snapshots.items()
}

func (a *Aggregator) OnDNSEvent(ev event.Event) {
	a.AddDNSResult(ev.NetID, ev.Transports, ev.Subtype, ev.ReturnCode, ev.LatencyMs)
}

func (a *Aggregator) OnConnectEvent(ev event.Event) {
	a.AddConnectResult(ev.NetID, ev.Transports, ev.ReturnCode, ev.LatencyMs, ev.IPAddr)
}

func (a *Aggregator) OnNetworkRegistered(netID int32, transports uint64, _ string) {
	a.RegisterNetwork(netID, transports)
}

func (a *Aggregator) OnNetworkLost(netID int32) {
	a.UnregisterNetwork(netID)
}

// Dump writes the raw tallies, the long running stats and the recent snapshots.
func (a *Aggregator) Dump(w io.Writer) {
	networks := a.sortedNetworks()

	fmt.Fprintln(w, "dns/connect events:")
	for _, nm := range networks {
		fmt.Fprintf(w, "  %s\n", nm.DNSString())
		fmt.Fprintf(w, "  %s\n", nm.ConnectString())
	}

	fmt.Fprintln(w, "network statistics:")
	for _, nm := range networks {
		s := nm.Stats()
		fmt.Fprintf(w, "  %s\n", s.String())
	}

	fmt.Fprintln(w, "recent statistics:")
	for _, snap := range a.Snapshots() {
		fmt.Fprintf(w, "  %s\n", snap.String())
	}
}

func (a *Aggregator) metricsFor(netID int32, transports uint64) *NetworkMetrics {
	a.mu.RLock()
	nm, ok := a.networks[netID]
	a.mu.RUnlock()
	if ok {
		return nm
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if nm, ok := a.networks[netID]; ok {
		return nm
	}
	nm = a.newNetworkMetrics(netID, transports)
	a.networks[netID] = nm
	return nm
}

func (a *Aggregator) newNetworkMetrics(netID int32, transports uint64) *NetworkMetrics {
	return NewNetworkMetrics(netID, transports, NetworkMetricsConfig{
		DNSBatchSize:             a.cfg.DNSBatchSize,
		MaxDNSRecords:            a.cfg.MaxDNSRecords,
		MaxConnectLatencyRecords: a.cfg.MaxConnectLatencyRecords,
		ConnectLatencyBucket:     a.connectLatencyBucket,
	})
}

func (a *Aggregator) retireLocked(nm *NetworkMetrics) {
	if s := nm.retire(); s != nil {
		a.retired = append(a.retired, *s)
	}
}

func (a *Aggregator) maybeCollectSnapshot() {
	now := a.cfg.Clock.Now()
	if !a.snapshotDue(now) {
		return
	}

	a.snapMu.Lock()
	defer a.snapMu.Unlock()
	if !a.snapshotDue(now) {
		return
	}
	a.collectSnapshotLocked(now)
}

func (a *Aggregator) snapshotDue(now time.Time) bool {
	return now.Sub(time.Unix(0, a.lastSnapshot.Load())) >= a.cfg.SnapshotSpan
}

func (a *Aggregator) collectSnapshotLocked(now time.Time) (Snapshot, bool) {
	a.lastSnapshot.Store(now.UnixNano())

	a.mu.Lock()
	stats := a.retired
	a.retired = nil
	a.mu.Unlock()

	for _, nm := range a.sortedNetworks() {
		if s := nm.PendingStats(); s != nil {
			stats = append(stats, *s)
		}
	}
	if len(stats) == 0 {
		return Snapshot{}, false
	}
	snap := Snapshot{Time: now, Stats: stats}
	a.snapshots.push(snap)
	return snap, true
}

func (a *Aggregator) sortedNetworks() []*NetworkMetrics {
	a.mu.RLock()
	out := make([]*NetworkMetrics, 0, len(a.networks))
	for _, nm := range a.networks {
		out = append(out, nm)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].NetID() < out[j].NetID() })
	return out
}
