package netmetrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectivityMetrics_NetMetrics_RetiredNetworkRejectsResults(t *testing.T) {
	t.Parallel()

	nm := NewNetworkMetrics(100, 0, NetworkMetricsConfig{})
	require.True(t, nm.tryAddDNSResult(DNSEventGetAddrInfo, DNSReturnSuccess, 10))

	s := nm.retire()
	require.NotNil(t, s)
	require.Equal(t, int64(1), s.DNSErrorRate.Count)

	require.False(t, nm.tryAddDNSResult(DNSEventGetAddrInfo, DNSReturnSuccess, 10))
	require.False(t, nm.tryAddConnectResult(ErrnoEINPROGRESS, 10, "10.0.0.1"))
	require.Nil(t, nm.PendingStats())
	require.Equal(t, int64(1), nm.Stats().DNSErrorRate.Count)
}
