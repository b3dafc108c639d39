package netmetrics

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/connectivity-metrics/internal/event"
)

// Summary holds running dns and connect statistics for one network.
type Summary struct {
	NetID      int32  `json:"net_id"`
	Transports uint64 `json:"transports"`

	// Latencies are in seconds; error rates observe 1 for a failure and 0 for a success.
	DNSLatencies     Metric `json:"dns_latencies"`
	DNSErrorRate     Metric `json:"dns_error_rate"`
	ConnectLatencies Metric `json:"connect_latencies"`
	ConnectErrorRate Metric `json:"connect_error_rate"`
}

func NewSummary(netID int32, transports uint64) *Summary {
	return &Summary{NetID: netID, Transports: transports}
}

func (s *Summary) Merge(other *Summary) {
	s.DNSLatencies.Merge(other.DNSLatencies)
	s.DNSErrorRate.Merge(other.DNSErrorRate)
	s.ConnectLatencies.Merge(other.ConnectLatencies)
	s.ConnectErrorRate.Merge(other.ConnectErrorRate)
}

func (s *Summary) String() string {
	parts := []string{fmt.Sprintf("netId=%d", s.NetID)}
	parts = append(parts, event.TransportNames(s.Transports)...)
	parts = append(parts,
		fmt.Sprintf("dns avg=%05.2fs max=%05.2fs err=%04.1f%% tot=%d",
			s.DNSLatencies.Average(), s.DNSLatencies.Max,
			100*s.DNSErrorRate.Average(), s.DNSErrorRate.Count),
		fmt.Sprintf("connect avg=%05.2fs max=%05.2fs err=%04.1f%% tot=%d",
			s.ConnectLatencies.Average(), s.ConnectLatencies.Max,
			100*s.ConnectErrorRate.Average(), s.ConnectErrorRate.Count),
	)
	return "{" + strings.Join(parts, ", ") + "}"
}
