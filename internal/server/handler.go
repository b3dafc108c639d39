package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/malbeclabs/connectivity-metrics/internal/event"
	"github.com/malbeclabs/connectivity-metrics/internal/ipconnectivity"
	"github.com/malbeclabs/connectivity-metrics/internal/types"
	"github.com/malbeclabs/connectivity-metrics/internal/vpn"
)

type Handler struct {
	log *slog.Logger
	cfg Config
	svc *ipconnectivity.Service
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeJSONError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}

func NewHandler(log *slog.Logger, cfg Config) (*Handler, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("handler config validation failed: %w", err)
	}
	return &Handler{
		log: log,
		cfg: cfg,
		svc: cfg.Service,
	}, nil
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc(types.HealthzPath, h.healthzHandler)
	mux.HandleFunc(types.EventsPath, h.eventsHandler)
	mux.HandleFunc(types.NetworksPath, h.networksHandler)
	mux.HandleFunc(types.DumpPath, h.dumpHandler)
	mux.HandleFunc(types.VPNEventsPath, h.vpnEventsHandler)
	mux.HandleFunc(types.VPNMetricsPath, h.vpnMetricsHandler)
}

// readJSON decodes the request body into v, writing the error response on failure.
func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			h.writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		h.writeJSONError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (h *Handler) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req types.LogEventsRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	if len(req.Events) == 0 {
		h.writeJSONError(w, http.StatusBadRequest, "no events")
		return
	}
	if len(req.Events) > h.cfg.MaxBatchSize {
		h.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("too many events (max %d)", h.cfg.MaxBatchSize))
		return
	}

	events := make([]event.Event, 0, len(req.Events))
	for i, e := range req.Events {
		if strings.TrimSpace(e.Kind) == "" {
			h.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("event %d: missing kind", i))
			return
		}
		events = append(events, toEvent(e))
	}

	resp := types.LogEventsResponse{Results: make([]int, 0, len(events))}
	for _, ev := range events {
		resp.Results = append(resp.Results, h.svc.LogEvent(ev))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func toEvent(e types.Event) event.Event {
	ev := event.Event{
		Kind:       event.ParseKind(e.Kind),
		NetID:      e.NetID,
		Transports: e.Transports,
		IfName:     e.IfName,
		Subtype:    e.Subtype,
		ReturnCode: e.ReturnCode,
		LatencyMs:  e.LatencyMs,
		IPAddr:     e.IPAddr,
	}
	if e.Timestamp != nil {
		ev.Timestamp = e.Timestamp.UTC()
	}
	return ev
}

func (h *Handler) networksHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req types.RegisterNetworkRequest
		if !h.readJSON(w, r, &req) {
			return
		}
		link := h.svc.RegisterNetwork(req.NetID, req.IfName, req.Transports)
		h.writeJSON(w, http.StatusOK, types.RegisterNetworkResponse{NetID: req.NetID, LinkLayer: link.String()})
	case http.MethodDelete:
		netID, err := strconv.ParseInt(r.URL.Query().Get(types.NetIDQueryParam), 10, 32)
		if err != nil {
			h.writeJSONError(w, http.StatusBadRequest, "invalid net_id")
			return
		}
		h.svc.NetworkLost(int32(netID))
		h.writeJSON(w, http.StatusOK, types.StatusResponse{Status: "ok"})
	default:
		w.Header().Set("Allow", "POST, DELETE")
		h.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) dumpHandler(w http.ResponseWriter, r *http.Request) {
	// flush mutates the buffer, so it is only allowed through POST.
	args := r.URL.Query()[types.DumpArgsParam]
	flush := len(args) > 0 && args[0] == ipconnectivity.CmdFlush
	switch {
	case r.Method == http.MethodPost:
	case r.Method == http.MethodGet && !flush:
	default:
		w.Header().Set("Allow", "GET, POST")
		h.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	h.svc.Dump(w, args)
}

func (h *Handler) vpnEventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req types.VPNEventRequest
	if !h.readJSON(w, r, &req) {
		return
	}

	metrics := h.svc.VPN()
	if req.Type == types.VPNEventNewCollector {
		metrics.NewCollector(req.UserID)
		h.writeJSON(w, http.StatusOK, types.StatusResponse{Status: "ok"})
		return
	}
	c, ok := metrics.Collector(req.UserID)
	if !ok {
		h.writeJSONError(w, http.StatusNotFound, "unknown collector")
		return
	}

	switch req.Type {
	case types.VPNEventAppStarted:
		c.OnAppStarted()
	case types.VPNEventConnected:
		c.OnVpnConnected(req.Agent)
	case types.VPNEventDisconnected:
		c.OnVpnDisconnected(req.Agent)
	case types.VPNEventUnderlyingNetworks:
		c.OnSetUnderlyingNetworks(req.NetIDs)
	case types.VPNEventValidation:
		c.OnValidationStatus(req.Agent, vpn.ValidationStatus(req.Status))
	case types.VPNEventError:
		err, ok := vpn.ErrorFromKind(req.ErrorKind, req.IKEErrorType)
		if !ok {
			h.writeJSONError(w, http.StatusBadRequest, "invalid error_kind")
			return
		}
		c.OnException(err)
	default:
		h.writeJSONError(w, http.StatusBadRequest, "invalid type")
		return
	}
	h.writeJSON(w, http.StatusOK, types.StatusResponse{Status: "ok"})
}

// vpnMetricsHandler pulls the vpn records. Pulling folds ongoing periods into the
// collectors, so it is only allowed through POST.
func (h *Handler) vpnMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	conns := h.svc.VPN().PullMetrics()
	if conns == nil {
		conns = []vpn.Connection{}
	}
	h.writeJSON(w, http.StatusOK, conns)
}

func (h *Handler) healthzHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		h.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_ = json.NewEncoder(w).Encode(types.StatusResponse{Status: "ok"})
}
