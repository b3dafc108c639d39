package event

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies the type of a reported connectivity event. It is also the key used for
// rate limiting.
type Kind int32

const (
	KindUnknown Kind = iota
	KindDNS
	KindConnect
	KindAPFProgram
	KindIPReachability
	KindValidationProbe
	KindDHCP
	KindNetworkEvent
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindDNS:             "dns",
	KindConnect:         "connect",
	KindAPFProgram:      "apf_program",
	KindIPReachability:  "ip_reachability",
	KindValidationProbe: "validation_probe",
	KindDHCP:            "dhcp",
	KindNetworkEvent:    "network_event",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int32(k))
}

// ParseKind returns the kind with the given name. Unrecognized names map to KindUnknown.
func ParseKind(s string) Kind {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return KindUnknown
}

// Event is a single occurrence reported by the privileged reporter. Events are values and are
// never mutated after being recorded.
type Event struct {
	// Timestamp is when the reporter observed the event.
	Timestamp time.Time `json:"timestamp"`

	// Kind is the event type.
	Kind Kind `json:"kind"`

	// NetID is the id of the network owning the event.
	NetID int32 `json:"net_id"`

	// Transports is a bitmask of the transports of the owning network.
	Transports uint64 `json:"transports"`

	// IfName is the interface the event was observed on, if any.
	IfName string `json:"ifname,omitempty"`

	// Subtype is the kind specific event type, e.g. the dns query type.
	Subtype int32 `json:"subtype"`

	// ReturnCode is the outcome of the event; for connect events this is the errno.
	ReturnCode int32 `json:"return_code"`

	// LatencyMs is the latency of the operation in milliseconds.
	LatencyMs int32 `json:"latency_ms"`

	// IPAddr is the destination address of connect events.
	IPAddr string `json:"ip_addr,omitempty"`
}

func (e Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ConnectivityMetricsEvent(%s, %s, netId=%d", e.Timestamp.UTC().Format("15:04:05.000"), e.Kind, e.NetID)
	if e.Transports != 0 {
		fmt.Fprintf(&b, ", %s", strings.Join(TransportNames(e.Transports), "|"))
	}
	if e.IfName != "" {
		fmt.Fprintf(&b, ", %s", e.IfName)
	}
	fmt.Fprintf(&b, ", subtype=%d, rc=%d, latency=%dms", e.Subtype, e.ReturnCode, e.LatencyMs)
	if e.IPAddr != "" {
		fmt.Fprintf(&b, ", ip=%s", e.IPAddr)
	}
	b.WriteString(")")
	return b.String()
}
