package types

import "time"

const (
	HealthzPath    = "/healthz"
	EventsPath     = "/v1/events"
	NetworksPath   = "/v1/networks"
	DumpPath       = "/v1/dump"
	VPNEventsPath  = "/v1/vpn/events"
	VPNMetricsPath = "/v1/vpn/metrics"

	DumpArgsParam   = "arg"
	NetIDQueryParam = "net_id"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Event is the wire form of a reported event. Kind is the event kind name, e.g. "dns".
type Event struct {
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	Kind       string     `json:"kind"`
	NetID      int32      `json:"net_id"`
	Transports uint64     `json:"transports,omitempty"`
	IfName     string     `json:"ifname,omitempty"`
	Subtype    int32      `json:"subtype,omitempty"`
	ReturnCode int32      `json:"return_code,omitempty"`
	LatencyMs  int32      `json:"latency_ms,omitempty"`
	IPAddr     string     `json:"ip_addr,omitempty"`
}

type LogEventsRequest struct {
	Events []Event `json:"events"`
}

// LogEventsResponse holds one result per event: the remaining buffer capacity, or -1 when
// the event was rate limited.
type LogEventsResponse struct {
	Results []int `json:"results"`
}

type RegisterNetworkRequest struct {
	NetID      int32  `json:"net_id"`
	IfName     string `json:"ifname"`
	Transports uint64 `json:"transports,omitempty"`
}

type RegisterNetworkResponse struct {
	NetID     int32  `json:"net_id"`
	LinkLayer string `json:"link_layer"`
}

// VPN event types.
const (
	VPNEventNewCollector       = "new_collector"
	VPNEventAppStarted         = "app_started"
	VPNEventConnected          = "connected"
	VPNEventDisconnected       = "disconnected"
	VPNEventUnderlyingNetworks = "underlying_networks"
	VPNEventValidation         = "validation"
	VPNEventError              = "error"
)

type VPNEventRequest struct {
	UserID       int32   `json:"user_id"`
	Type         string  `json:"type"`
	Agent        string  `json:"agent,omitempty"`
	NetIDs       []int32 `json:"net_ids,omitempty"`
	Status       int     `json:"status,omitempty"`
	ErrorKind    string  `json:"error_kind,omitempty"`
	IKEErrorType int     `json:"ike_error_type,omitempty"`
}

type StatusResponse struct {
	Status string `json:"status"`
}
