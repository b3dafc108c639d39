package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/connectivity-metrics/internal/codec"
	"github.com/malbeclabs/connectivity-metrics/internal/event"
	"github.com/malbeclabs/connectivity-metrics/internal/ipconnectivity"
	"github.com/malbeclabs/connectivity-metrics/internal/ratelimit"
	"github.com/malbeclabs/connectivity-metrics/internal/types"
	"github.com/malbeclabs/connectivity-metrics/internal/vpn"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, capacity int) (*Handler, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	svc, err := ipconnectivity.New(&ipconnectivity.Config{
		Logger:       slog.Default(),
		Clock:        clk,
		CapacityFunc: func() int { return capacity },
		Buckets: map[event.Kind]ratelimit.BucketConfig{
			event.KindAPFProgram: {RefillInterval: time.Minute, Capacity: 1},
		},
	})
	require.NoError(t, err)

	h, err := NewHandler(slog.Default(), Config{Service: svc, MaxBodySize: 4096, MaxBatchSize: 10})
	require.NoError(t, err)
	return h, clk
}

func serve(h *Handler, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	mux := http.NewServeMux()
	h.Register(mux)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(method, target, &buf))
	return rr
}

func mustErrResp(t *testing.T, rr *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var er types.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &er))
	return er
}

func TestConnectivityMetrics_Server_Handler_New(t *testing.T) {
	t.Parallel()

	_, err := NewHandler(nil, Config{})
	require.ErrorContains(t, err, "logger is required")

	_, err = NewHandler(slog.Default(), Config{})
	require.ErrorContains(t, err, "service is required")
}

func TestConnectivityMetrics_Server_Handler_Healthz(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, 10)

	rr := serve(h, http.MethodGet, types.HealthzPath, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = serve(h, http.MethodPost, types.HealthzPath, nil)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	require.Equal(t, "GET, HEAD", rr.Header().Get("Allow"))
}

func TestConnectivityMetrics_Server_Handler_Events(t *testing.T) {
	t.Parallel()

	t.Run("results per event", func(t *testing.T) {
		t.Parallel()
		h, _ := newTestHandler(t, 2)

		rr := serve(h, http.MethodPost, types.EventsPath, types.LogEventsRequest{Events: []types.Event{
			{Kind: "dns", NetID: 100, LatencyMs: 20},
			{Kind: "apf_program", NetID: 100},
			{Kind: "apf_program", NetID: 100},
			{Kind: "connect", NetID: 100, ReturnCode: 115, LatencyMs: 5},
			{Kind: "dns", NetID: 100, ReturnCode: 1, LatencyMs: 40},
		}})
		require.Equal(t, http.StatusOK, rr.Code)

		var resp types.LogEventsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Equal(t, []int{1, 0, ipconnectivity.RateLimited, 0, 0}, resp.Results)
		require.Equal(t, 2, h.svc.BufferStats().Dropped)

		pending := h.svc.Aggregator().PendingStats(100)
		require.Equal(t, int64(2), pending.DNSLatencies.Count)
		require.Equal(t, int64(1), pending.ConnectLatencies.Count)
	})

	t.Run("timestamps are kept", func(t *testing.T) {
		t.Parallel()
		h, _ := newTestHandler(t, 10)
		ts := time.Date(2025, 6, 7, 8, 9, 10, 0, time.UTC)

		rr := serve(h, http.MethodPost, types.EventsPath, types.LogEventsRequest{Events: []types.Event{
			{Timestamp: &ts, Kind: "dhcp", NetID: 7},
		}})
		require.Equal(t, http.StatusOK, rr.Code)

		rr = serve(h, http.MethodPost, types.DumpPath+"?arg=flush", nil)
		data, err := base64.StdEncoding.DecodeString(rr.Body.String())
		require.NoError(t, err)
		l, err := codec.Deserialize(data)
		require.NoError(t, err)
		require.Len(t, l.Events, 1)
		require.True(t, ts.Equal(l.Events[0].Timestamp))
		require.Equal(t, event.KindDHCP, l.Events[0].Kind)
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		h, _ := newTestHandler(t, 10)

		rr := serve(h, http.MethodGet, types.EventsPath, nil)
		require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
		require.Equal(t, http.MethodPost, rr.Header().Get("Allow"))

		rr = serve(h, http.MethodPost, types.EventsPath, "{not json")
		require.Equal(t, http.StatusBadRequest, rr.Code)
		require.Contains(t, mustErrResp(t, rr).Error, "invalid json")

		rr = serve(h, http.MethodPost, types.EventsPath, types.LogEventsRequest{})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		require.Contains(t, mustErrResp(t, rr).Error, "no events")

		rr = serve(h, http.MethodPost, types.EventsPath, types.LogEventsRequest{Events: []types.Event{{NetID: 1}}})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		require.Contains(t, mustErrResp(t, rr).Error, "missing kind")

		rr = serve(h, http.MethodPost, types.EventsPath, types.LogEventsRequest{Events: make([]types.Event, 11)})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		require.Contains(t, mustErrResp(t, rr).Error, "too many events")

		rr = serve(h, http.MethodPost, types.EventsPath, `{"events":[{"kind":"`+strings.Repeat("x", 5000)+`"}]}`)
		require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

		require.Equal(t, 0, h.svc.BufferStats().Buffered)
	})
}

func TestConnectivityMetrics_Server_Handler_Networks(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, 10)

	rr := serve(h, http.MethodPost, types.NetworksPath, types.RegisterNetworkRequest{NetID: 100, IfName: "wlan0"})
	require.Equal(t, http.StatusOK, rr.Code)
	var resp types.RegisterNetworkResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, types.RegisterNetworkResponse{NetID: 100, LinkLayer: "WIFI"}, resp)

	_, ok := h.svc.Aggregator().Network(100)
	require.True(t, ok)

	rr = serve(h, http.MethodDelete, types.NetworksPath+"?net_id=100", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	_, ok = h.svc.Aggregator().Network(100)
	require.False(t, ok)

	rr = serve(h, http.MethodDelete, types.NetworksPath+"?net_id=abc", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(h, http.MethodGet, types.NetworksPath, nil)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	require.Equal(t, "POST, DELETE", rr.Header().Get("Allow"))
}

func TestConnectivityMetrics_Server_Handler_Dump(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, 10)
	serve(h, http.MethodPost, types.EventsPath, types.LogEventsRequest{Events: []types.Event{{Kind: "dns", NetID: 100}}})

	rr := serve(h, http.MethodGet, types.DumpPath, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Body.String(), "Buffered events")

	rr = serve(h, http.MethodGet, types.DumpPath+"?arg=list", nil)
	require.Contains(t, rr.Body.String(), "ConnectivityMetricsEvent(")

	rr = serve(h, http.MethodGet, types.DumpPath+"?arg=nope&arg=really", nil)
	require.Equal(t, "Unknown command nope really\n", rr.Body.String())

	// Flushing requires POST.
	rr = serve(h, http.MethodGet, types.DumpPath+"?arg=flush", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	require.Equal(t, 1, h.svc.BufferStats().Buffered)

	rr = serve(h, http.MethodPost, types.DumpPath+"?arg=flush", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotEmpty(t, rr.Body.String())
	require.Equal(t, 0, h.svc.BufferStats().Buffered)
}

func TestConnectivityMetrics_Server_Handler_VPN(t *testing.T) {
	t.Parallel()

	h, clk := newTestHandler(t, 10)
	serve(h, http.MethodPost, types.NetworksPath, types.RegisterNetworkRequest{NetID: 100, IfName: "rmnet0"})

	rr := serve(h, http.MethodPost, types.VPNEventsPath, types.VPNEventRequest{UserID: 3, Type: types.VPNEventConnected, Agent: "a"})
	require.Equal(t, http.StatusNotFound, rr.Code)

	for _, req := range []types.VPNEventRequest{
		{UserID: 3, Type: types.VPNEventNewCollector},
		{UserID: 3, Type: types.VPNEventAppStarted},
		{UserID: 3, Type: types.VPNEventConnected, Agent: "a"},
		{UserID: 3, Type: types.VPNEventUnderlyingNetworks, NetIDs: []int32{100}},
		{UserID: 3, Type: types.VPNEventValidation, Agent: "a", Status: int(vpn.ValidationStatusValid)},
		{UserID: 3, Type: types.VPNEventError, ErrorKind: "ike_protocol", IKEErrorType: vpn.IKEErrorAuthenticationFailed},
	} {
		rr := serve(h, http.MethodPost, types.VPNEventsPath, req)
		require.Equal(t, http.StatusOK, rr.Code, req.Type)
	}

	rr = serve(h, http.MethodPost, types.VPNEventsPath, types.VPNEventRequest{UserID: 3, Type: types.VPNEventError, ErrorKind: "bogus"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = serve(h, http.MethodPost, types.VPNEventsPath, types.VPNEventRequest{UserID: 3, Type: "bogus"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	clk.Advance(90 * time.Second)
	rr = serve(h, http.MethodPost, types.VPNMetricsPath, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var conns []vpn.Connection
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &conns))
	require.Len(t, conns, 1)
	require.Equal(t, int64(90), conns[0].ConnectedPeriodSeconds)
	require.Equal(t, int64(90), conns[0].ValidatedPeriodSeconds)
	require.Equal(t, []event.Transport{event.TransportCellular}, conns[0].UnderlyingTransports)
	require.Equal(t, []vpn.ErrorCode{vpn.ErrorCodeAuthenticationFailed}, conns[0].ErrorCodes)
}

func TestConnectivityMetrics_Server_Handler_VPNMetricsEmpty(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, 10)
	rr := serve(h, http.MethodPost, types.VPNMetricsPath, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `[]`, rr.Body.String())
}

func TestConnectivityMetrics_Server_Handler_VPNMetricsRequiresPost(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, 10)
	for _, req := range []types.VPNEventRequest{
		{UserID: 1, Type: types.VPNEventNewCollector},
		{UserID: 1, Type: types.VPNEventAppStarted},
	} {
		rr := serve(h, http.MethodPost, types.VPNEventsPath, req)
		require.Equal(t, http.StatusOK, rr.Code, req.Type)
	}

	rr := serve(h, http.MethodGet, types.VPNMetricsPath, nil)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	require.Equal(t, http.MethodPost, rr.Header().Get("Allow"))

	for i := 0; i < 3; i++ {
		rr = serve(h, http.MethodPost, types.VPNMetricsPath, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var conns []vpn.Connection
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &conns))
		require.Len(t, conns, 1)
	}
}
