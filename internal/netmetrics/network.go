package netmetrics

import (
	"sync"

	"github.com/malbeclabs/connectivity-metrics/internal/ratelimit"
)

const (
	defaultDNSBatchSize             = 100
	defaultMaxDNSRecords            = 20000
	defaultMaxConnectLatencyRecords = 20000
)

// NetworkMetrics aggregates dns and connect results of one network. It keeps a long running
// Summary and a pending Summary that accumulates between calls to PendingStats.
type NetworkMetrics struct {
	netID      int32
	transports uint64

	mu      sync.Mutex
	connect *ConnectTally
	dns     *DNSTally
	stats   Summary
	pending *Summary // nil until a result is added after the last flush
	retired bool     // replaced or lost; the aggregator no longer snapshots it
}

// NetworkMetricsConfig sizes the raw tallies of a network.
type NetworkMetricsConfig struct {
	DNSBatchSize             int
	MaxDNSRecords            int
	MaxConnectLatencyRecords int

	// ConnectLatencyBucket samples retained connect latencies; nil keeps all of them up to
	// MaxConnectLatencyRecords.
	ConnectLatencyBucket *ratelimit.Bucket
}

func NewNetworkMetrics(netID int32, transports uint64, cfg NetworkMetricsConfig) *NetworkMetrics {
	return &NetworkMetrics{
		netID:      netID,
		transports: transports,
		connect:    NewConnectTally(netID, transports, cfg.ConnectLatencyBucket, cfg.MaxConnectLatencyRecords),
		dns:        NewDNSTally(netID, transports, cfg.DNSBatchSize, cfg.MaxDNSRecords),
		stats:      Summary{NetID: netID, Transports: transports},
	}
}

func (m *NetworkMetrics) NetID() int32 {
	return m.netID
}

func (m *NetworkMetrics) Transports() uint64 {
	return m.transports
}

// AddDNSResult aggregates a dns query result.
func (m *NetworkMetrics) AddDNSResult(eventType, returnCode, latencyMs int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addDNSResultLocked(eventType, returnCode, latencyMs)
}

// tryAddDNSResult is AddDNSResult for records owned by the aggregator. It reports false,
// adding nothing, once the record is retired.
func (m *NetworkMetrics) tryAddDNSResult(eventType, returnCode, latencyMs int32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retired {
		return false
	}
	m.addDNSResultLocked(eventType, returnCode, latencyMs)
	return true
}

func (m *NetworkMetrics) addDNSResultLocked(eventType, returnCode, latencyMs int32) {
	pending := m.pendingLocked()
	isSuccess := m.dns.Add(byte(eventType), byte(returnCode), latencyMs)
	pending.DNSLatencies.Observe(float64(latencyMs) / 1000.0)
	pending.DNSErrorRate.Observe(errorValue(isSuccess))
}

// AddConnectResult aggregates a connect() result. Latencies of blocking connects are not
// comparable and are left out of the latency metric.
func (m *NetworkMetrics) AddConnectResult(errno, latencyMs int32, ipAddr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addConnectResultLocked(errno, latencyMs, ipAddr)
}

func (m *NetworkMetrics) tryAddConnectResult(errno, latencyMs int32, ipAddr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retired {
		return false
	}
	m.addConnectResultLocked(errno, latencyMs, ipAddr)
	return true
}

func (m *NetworkMetrics) addConnectResultLocked(errno, latencyMs int32, ipAddr string) {
	pending := m.pendingLocked()
	isSuccess := m.connect.Add(errno, latencyMs, ipAddr)
	pending.ConnectErrorRate.Observe(errorValue(isSuccess))
	if IsNonBlocking(errno) {
		pending.ConnectLatencies.Observe(float64(latencyMs) / 1000.0)
	}
}

// PendingStats merges the pending Summary into the long running one, then returns and
// clears it. It returns nil if nothing was added since the previous call.
func (m *NetworkMetrics) PendingStats() *Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.flushPendingLocked()
}

// retire flushes the pending stats and rejects later tryAdd calls.
func (m *NetworkMetrics) retire() *Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retired = true
	return m.flushPendingLocked()
}

func (m *NetworkMetrics) flushPendingLocked() *Summary {
	s := m.pending
	if s != nil {
		m.stats.Merge(s)
	}
	m.pending = nil
	return s
}

// Stats returns a copy of the long running Summary.
func (m *NetworkMetrics) Stats() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// DNSString and ConnectString render the raw tallies.
func (m *NetworkMetrics) DNSString() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dns.String()
}

func (m *NetworkMetrics) ConnectString() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connect.String()
}

// ConnectLatencyRecords returns the number of retained connect latency samples.
func (m *NetworkMetrics) ConnectLatencyRecords() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connect.LatenciesMs)
}

// DNSRecords returns the number of retained dns records.
func (m *NetworkMetrics) DNSRecords() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dns.Len()
}

func (m *NetworkMetrics) pendingLocked() *Summary {
	if m.pending == nil {
		m.pending = NewSummary(m.netID, m.transports)
	}
	return m.pending
}

func errorValue(isSuccess bool) float64 {
	if isSuccess {
		return 0
	}
	return 1
}
