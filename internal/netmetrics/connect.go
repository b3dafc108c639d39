package netmetrics

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"

	"github.com/malbeclabs/connectivity-metrics/internal/event"
	"github.com/malbeclabs/connectivity-metrics/internal/ratelimit"
)

// Linux errno values as reported by the connect() hook.
const (
	ErrnoEAGAIN      = 11
	ErrnoEINPROGRESS = 115
)

// IsNonBlocking reports whether errno is the result of a non-blocking connect. Only those
// attempts have comparable latencies.
func IsNonBlocking(errno int32) bool {
	return errno == ErrnoEINPROGRESS || errno == ErrnoEAGAIN
}

// IsConnectSuccess reports whether errno denotes a connect that succeeded or is in progress.
func IsConnectSuccess(errno int32) bool {
	return errno == 0 || IsNonBlocking(errno)
}

// ConnectTally keeps counters and sampled latencies of connect() calls for a network.
type ConnectTally struct {
	NetID      int32
	Transports uint64

	EventCount           int
	ConnectCount         int
	ConnectBlockingCount int
	IPv6AddrCount        int

	// ErrnoCounts counts failed connects per errno.
	ErrnoCounts map[int32]int

	// LatenciesMs holds sampled latencies of non-blocking connects.
	LatenciesMs []int32

	latencyBucket     *ratelimit.Bucket
	maxLatencyRecords int
}

func NewConnectTally(netID int32, transports uint64, latencyBucket *ratelimit.Bucket, maxLatencyRecords int) *ConnectTally {
	if maxLatencyRecords <= 0 {
		maxLatencyRecords = defaultMaxConnectLatencyRecords
	}
	return &ConnectTally{
		NetID:             netID,
		Transports:        transports,
		ErrnoCounts:       make(map[int32]int),
		latencyBucket:     latencyBucket,
		maxLatencyRecords: maxLatencyRecords,
	}
}

// Add records a connect result and reports whether it was a success.
func (t *ConnectTally) Add(errno, latencyMs int32, ipAddr string) bool {
	t.EventCount++
	if !IsConnectSuccess(errno) {
		t.ErrnoCounts[errno]++
		return false
	}
	t.ConnectCount++
	if !IsNonBlocking(errno) {
		t.ConnectBlockingCount++
	}
	if addr, err := netip.ParseAddr(ipAddr); err == nil && addr.Is6() && !addr.Is4In6() {
		t.IPv6AddrCount++
	}
	t.countLatency(errno, latencyMs)
	return true
}

func (t *ConnectTally) countLatency(errno, latencyMs int32) {
	if !IsNonBlocking(errno) {
		return
	}
	if t.latencyBucket != nil && !t.latencyBucket.TryConsume() {
		return
	}
	if len(t.LatenciesMs) >= t.maxLatencyRecords {
		return
	}
	t.LatenciesMs = append(t.LatenciesMs, latencyMs)
}

func (t *ConnectTally) String() string {
	parts := []string{fmt.Sprintf("%d", t.NetID)}
	parts = append(parts, event.TransportNames(t.Transports)...)
	parts = append(parts,
		fmt.Sprintf("%d events", t.EventCount),
		fmt.Sprintf("%d success", t.ConnectCount),
		fmt.Sprintf("%d blocking", t.ConnectBlockingCount),
		fmt.Sprintf("%d IPv6 dst", t.IPv6AddrCount),
	)
	errnos := make([]int32, 0, len(t.ErrnoCounts))
	for errno := range t.ErrnoCounts {
		errnos = append(errnos, errno)
	}
	slices.Sort(errnos)
	for _, errno := range errnos {
		parts = append(parts, fmt.Sprintf("errno %d: %d", errno, t.ErrnoCounts[errno]))
	}
	return "ConnectStats(" + strings.Join(parts, ", ") + ")"
}
