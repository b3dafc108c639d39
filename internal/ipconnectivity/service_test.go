package ipconnectivity_test

import (
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/connectivity-metrics/internal/codec"
	"github.com/malbeclabs/connectivity-metrics/internal/event"
	"github.com/malbeclabs/connectivity-metrics/internal/ipconnectivity"
	"github.com/malbeclabs/connectivity-metrics/internal/linklayer"
	"github.com/malbeclabs/connectivity-metrics/internal/metrics"
	"github.com/malbeclabs/connectivity-metrics/internal/netd"
	"github.com/malbeclabs/connectivity-metrics/internal/netmetrics"
	"github.com/malbeclabs/connectivity-metrics/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, capacity int, mutate ...func(*ipconnectivity.Config)) (*ipconnectivity.Service, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	cfg := &ipconnectivity.Config{
		Logger:       log,
		Clock:        clk,
		CapacityFunc: func() int { return capacity },
	}
	for _, m := range mutate {
		m(cfg)
	}
	svc, err := ipconnectivity.New(cfg)
	require.NoError(t, err)
	return svc, clk
}

func dnsEvent(netID int32, returnCode, latencyMs int32) event.Event {
	return event.Event{
		Kind:       event.KindDNS,
		NetID:      netID,
		Transports: event.PackTransports(event.TransportWifi),
		Subtype:    netmetrics.DNSEventGetAddrInfo,
		ReturnCode: returnCode,
		LatencyMs:  latencyMs,
	}
}

func decodeFlush(t *testing.T, out string) *codec.Log {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(out)
	require.NoError(t, err)
	l, err := codec.Deserialize(data)
	require.NoError(t, err)
	return l
}

type countingCallback struct {
	netd.NopEventCallback
	dns     atomic.Int64
	connect atomic.Int64
	lost    atomic.Int64
}

func (c *countingCallback) OnDNSEvent(event.Event)     { c.dns.Add(1) }
func (c *countingCallback) OnConnectEvent(event.Event) { c.connect.Add(1) }
func (c *countingCallback) OnNetworkLost(int32)        { c.lost.Add(1) }

func TestConnectivityMetrics_Service_Config(t *testing.T) {
	t.Parallel()

	_, err := ipconnectivity.New(&ipconnectivity.Config{})
	require.ErrorContains(t, err, "logger is required")

	_, err = ipconnectivity.New(&ipconnectivity.Config{
		Logger:  log,
		Buckets: map[event.Kind]ratelimit.BucketConfig{event.KindDHCP: {}},
	})
	require.ErrorContains(t, err, "failed to create rate limiter")

	cfg := &ipconnectivity.Config{Logger: log}
	require.NoError(t, cfg.Validate())
	require.Equal(t, ratelimit.DefaultBuckets(), cfg.Buckets)
	require.Equal(t, 2000, cfg.CapacityFunc())
	require.Same(t, log, cfg.Aggregator.Logger)
}

func TestConnectivityMetrics_Service_LogEvent(t *testing.T) {
	t.Parallel()

	t.Run("remaining capacity then dropped", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, 3)

		var got []int
		for i := 0; i < 5; i++ {
			got = append(got, svc.LogEvent(dnsEvent(100, 0, 10)))
		}
		require.Equal(t, []int{2, 1, 0, 0, 0}, got)
		require.Equal(t, 2, svc.BufferStats().Dropped)
	})

	t.Run("rate limited kinds return the sentinel", func(t *testing.T) {
		t.Parallel()
		svc, clk := newTestService(t, 10, func(cfg *ipconnectivity.Config) {
			cfg.Buckets = map[event.Kind]ratelimit.BucketConfig{
				event.KindAPFProgram: {RefillInterval: time.Minute, Capacity: 1},
			}
		})

		apf := event.Event{Kind: event.KindAPFProgram, NetID: 100}
		require.Equal(t, 9, svc.LogEvent(apf))
		require.Equal(t, ipconnectivity.RateLimited, svc.LogEvent(apf))
		require.Equal(t, 8, svc.LogEvent(dnsEvent(100, 0, 1)))
		require.Equal(t, 0, svc.BufferStats().Dropped)

		clk.Advance(time.Minute)
		require.Equal(t, 7, svc.LogEvent(apf))
	})

	t.Run("default buckets limit apf programs", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, 1000)
		apf := event.Event{Kind: event.KindAPFProgram}
		for i := 0; i < 50; i++ {
			require.NotEqual(t, ipconnectivity.RateLimited, svc.LogEvent(apf))
		}
		require.Equal(t, ipconnectivity.RateLimited, svc.LogEvent(apf))
	})

	t.Run("aggregation is independent of admission", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, 1)

		svc.LogEvent(dnsEvent(100, netmetrics.DNSReturnSuccess, 20))
		svc.LogEvent(dnsEvent(100, netmetrics.DNSReturnFailure, 40))
		require.Equal(t, 1, svc.BufferStats().Dropped)

		pending := svc.Aggregator().PendingStats(100)
		require.NotNil(t, pending)
		require.Equal(t, int64(2), pending.DNSLatencies.Count)
		require.InDelta(t, 0.03, pending.DNSLatencies.Average(), 1e-9)
		require.InDelta(t, 0.5, pending.DNSErrorRate.Average(), 1e-9)
	})

	t.Run("missing timestamps are stamped", func(t *testing.T) {
		t.Parallel()
		svc, clk := newTestService(t, 10)
		svc.LogEvent(dnsEvent(100, 0, 1))

		l := decodeFlush(t, svc.Flush())
		require.Len(t, l.Events, 1)
		require.True(t, l.Events[0].Timestamp.Equal(clk.Now()))
	})

	t.Run("extra callbacks", func(t *testing.T) {
		t.Parallel()
		cb := &countingCallback{}
		svc, _ := newTestService(t, 10, func(cfg *ipconnectivity.Config) {
			cfg.Callbacks = []netd.EventCallback{cb}
		})
		late := &countingCallback{}
		svc.RegisterCallback(late)

		svc.LogEvent(dnsEvent(100, 0, 1))
		svc.LogEvent(event.Event{Kind: event.KindConnect, NetID: 100, ReturnCode: netmetrics.ErrnoEINPROGRESS})
		svc.LogEvent(event.Event{Kind: event.KindDHCP, NetID: 100})
		svc.NetworkLost(100)

		for _, c := range []*countingCallback{cb, late} {
			require.Equal(t, int64(1), c.dns.Load())
			require.Equal(t, int64(1), c.connect.Load())
			require.Equal(t, int64(1), c.lost.Load())
		}
	})
}

// Not parallel: it reads deltas of process-wide counters.
func TestConnectivityMetrics_Service_DNSResultClassification(t *testing.T) {
	svc, _ := newTestService(t, 10)

	success := metrics.NetdEvents.WithLabelValues(event.KindDNS.String(), "success")
	failure := metrics.NetdEvents.WithLabelValues(event.KindDNS.String(), "failure")
	successBefore, failureBefore := testutil.ToFloat64(success), testutil.ToFloat64(failure)

	svc.LogEvent(dnsEvent(100, 256, 10))
	svc.LogEvent(dnsEvent(100, 1, 10))

	require.Equal(t, successBefore+1, testutil.ToFloat64(success))
	require.Equal(t, failureBefore+1, testutil.ToFloat64(failure))

	s := svc.Aggregator().PendingStats(100)
	require.NotNil(t, s)
	require.Equal(t, 1.0, s.DNSErrorRate.Sum)
	require.Equal(t, int64(2), s.DNSErrorRate.Count)
}

func TestConnectivityMetrics_Service_RegisterNetwork(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, 10)

	require.Equal(t, linklayer.Wifi, svc.RegisterNetwork(100, "wlan0", 0))
	nm, ok := svc.Aggregator().Network(100)
	require.True(t, ok)
	require.Equal(t, event.PackTransports(event.TransportWifi), nm.Transports())

	vpnTransports := event.PackTransports(event.TransportVPN)
	require.Equal(t, linklayer.Unknown, svc.RegisterNetwork(101, "tun0", vpnTransports))
	nm, ok = svc.Aggregator().Network(101)
	require.True(t, ok)
	require.Equal(t, vpnTransports, nm.Transports())
	ifname, ok := svc.Registry().UnknownInterface(101)
	require.True(t, ok)
	require.Equal(t, "tun0", ifname)

	svc.NetworkLost(101)
	_, ok = svc.Aggregator().Network(101)
	require.False(t, ok)
	_, ok = svc.Registry().LinkLayer(101)
	require.False(t, ok)
}

func TestConnectivityMetrics_Service_Flush(t *testing.T) {
	t.Parallel()

	t.Run("encodes and resets the buffer", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, 2)
		svc.RegisterNetwork(100, "eth0", 0)

		first := dnsEvent(100, 0, 10)
		second := event.Event{Kind: event.KindConnect, NetID: 100, ReturnCode: 0, IPAddr: "10.0.0.1"}
		svc.LogEvent(first)
		svc.LogEvent(second)
		svc.LogEvent(dnsEvent(100, 0, 30))

		l := decodeFlush(t, svc.Flush())
		require.Equal(t, codec.Version, l.Version)
		require.Equal(t, 1, l.Dropped)
		require.Len(t, l.Events, 2)
		require.Equal(t, event.KindDNS, l.Events[0].Kind)
		require.Equal(t, "10.0.0.1", l.Events[1].IPAddr)
		// The registered link layer wins over the wifi transports of the event.
		require.Equal(t, []linklayer.LinkLayer{linklayer.Ethernet, linklayer.Ethernet}, l.LinkLayers)

		require.Equal(t, 0, svc.BufferStats().Buffered)
		require.Equal(t, 0, svc.BufferStats().Dropped)

		empty := decodeFlush(t, svc.Flush())
		require.Empty(t, empty.Events)
		require.Equal(t, 0, empty.Dropped)
	})

	t.Run("malformed interface name does not lose the batch", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, 10)
		for i := 0; i < 5; i++ {
			svc.LogEvent(dnsEvent(100, 0, int32(i)))
		}
		svc.LogEvent(event.Event{Kind: event.KindConnect, NetID: 100, IfName: "wlan\xff0", ReturnCode: 115})

		var sb strings.Builder
		svc.Dump(&sb, []string{ipconnectivity.CmdList, "proto"})
		require.Len(t, regexp.MustCompile(`network_id:`).FindAllString(sb.String(), -1), 6)

		l := decodeFlush(t, svc.Flush())
		require.Len(t, l.Events, 6)
		require.Equal(t, "wlan\uFFFD0", l.Events[5].IfName)
	})

	t.Run("serialization failure", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, 10, func(cfg *ipconnectivity.Config) {
			cfg.Serializer = func(int, []event.Event, ...codec.Option) ([]byte, error) {
				return nil, errors.New("encoder unavailable")
			}
		})
		svc.LogEvent(dnsEvent(100, 0, 10))
		svc.LogEvent(dnsEvent(100, 0, 20))

		errs := metrics.Errors.WithLabelValues(metrics.ErrorTypeFlushSerialize)
		before := testutil.ToFloat64(errs)

		require.Equal(t, "", svc.Flush())
		require.Equal(t, before+1, testutil.ToFloat64(errs))
		require.Equal(t, 0, svc.BufferStats().Buffered)
		require.Equal(t, 0, svc.BufferStats().Dropped)
	})

	t.Run("capacity is read on every flush", func(t *testing.T) {
		t.Parallel()
		var capacity atomic.Int64
		capacity.Store(1)
		svc, _ := newTestService(t, 0, func(cfg *ipconnectivity.Config) {
			cfg.CapacityFunc = func() int { return int(capacity.Load()) }
		})
		require.Equal(t, 1, svc.BufferStats().Capacity)

		capacity.Store(50_000)
		svc.Flush()
		require.Equal(t, 20000, svc.BufferStats().Capacity)

		capacity.Store(-1)
		svc.Flush()
		require.Equal(t, 2000, svc.BufferStats().Capacity)
	})

	t.Run("concurrent log and flush", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, 20000)

		const writers, perWriter = 4, 500
		var wg sync.WaitGroup
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					svc.LogEvent(dnsEvent(int32(w), 0, int32(i)))
				}
			}(w)
		}

		var mu sync.Mutex
		var flushes []string
		var fg sync.WaitGroup
		for f := 0; f < 4; f++ {
			fg.Add(1)
			go func() {
				defer fg.Done()
				for i := 0; i < 20; i++ {
					out := svc.Flush()
					mu.Lock()
					flushes = append(flushes, out)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		fg.Wait()
		flushes = append(flushes, svc.Flush())

		var total int
		for _, out := range flushes {
			total += len(decodeFlush(t, out).Events)
		}
		require.Equal(t, writers*perWriter, total)
	})
}

func TestConnectivityMetrics_Service_Dump(t *testing.T) {
	t.Parallel()

	dump := func(svc *ipconnectivity.Service, args ...string) string {
		var sb strings.Builder
		svc.Dump(&sb, args)
		return sb.String()
	}

	t.Run("stats is the default", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, 3)
		svc.RegisterNetwork(100, "wlan0", 0)
		svc.RegisterNetwork(101, "tun0", 0)
		for i := 0; i < 4; i++ {
			svc.LogEvent(dnsEvent(100, 0, 10))
		}

		out := dump(svc)
		require.Equal(t, out, dump(svc, "stats"))
		require.Contains(t, out, "Buffered events")
		require.Regexp(t, regexp.MustCompile(`\|\s+3\s+\|\s+3\s+\|\s+1\s+\|`), out)
		require.Contains(t, out, "dns/connect events:")
		require.Contains(t, out, "DnsEvent(100, WIFI, 4 events, 4 success)")
		require.Contains(t, out, "netId=101 UNKNOWN ifname=tun0")
		require.Contains(t, out, "vpn collectors: 0")
	})

	t.Run("list", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, 10)
		svc.LogEvent(dnsEvent(100, 0, 10))
		svc.LogEvent(dnsEvent(101, 1, 20))

		out := dump(svc, "list")
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 2)
		require.True(t, strings.HasPrefix(lines[0], "ConnectivityMetricsEvent("))
		require.Contains(t, lines[1], "netId=101")
		require.Equal(t, out, dump(svc, "-a"))

		// Listing does not flush.
		require.Equal(t, 2, svc.BufferStats().Buffered)
	})

	t.Run("list proto", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, 10)
		svc.RegisterNetwork(100, "rmnet0", 0)
		svc.LogEvent(dnsEvent(100, 0, 10))

		out := dump(svc, "list", "proto")
		require.Regexp(t, regexp.MustCompile(`network_id:\s+100`), out)
		require.Regexp(t, regexp.MustCompile(`link_layer:\s+LINK_LAYER_CELLULAR`), out)
		require.Regexp(t, regexp.MustCompile(`kind:\s+EVENT_KIND_DNS`), out)
	})

	t.Run("flush", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, 10)
		svc.LogEvent(dnsEvent(100, 0, 10))

		l := decodeFlush(t, dump(svc, "flush"))
		require.Len(t, l.Events, 1)
		require.Equal(t, 0, svc.BufferStats().Buffered)
	})

	t.Run("unknown command", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, 10)
		require.Equal(t, "Unknown command foo bar\n", dump(svc, "foo", "bar"))
	})
}

func TestConnectivityMetrics_Service_VPN(t *testing.T) {
	t.Parallel()

	svc, clk := newTestService(t, 10)
	svc.RegisterNetwork(100, "wlan0", 0)
	svc.RegisterNetwork(101, "rmnet0", 0)

	c := svc.VPN().NewCollector(0)
	c.OnAppStarted()
	c.OnVpnConnected("agent")
	c.OnSetUnderlyingNetworks([]int32{100, 101, 999})
	clk.Advance(time.Minute)

	conns := svc.VPN().PullMetrics()
	require.Len(t, conns, 1)
	require.Equal(t, []event.Transport{event.TransportCellular, event.TransportWifi}, conns[0].UnderlyingTransports)
	require.Equal(t, int64(60), conns[0].ConnectedPeriodSeconds)
}
