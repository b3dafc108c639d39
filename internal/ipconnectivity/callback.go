package ipconnectivity

import (
	"github.com/malbeclabs/connectivity-metrics/internal/event"
	"github.com/malbeclabs/connectivity-metrics/internal/metrics"
	"github.com/malbeclabs/connectivity-metrics/internal/netd"
	"github.com/malbeclabs/connectivity-metrics/internal/netmetrics"
)

const (
	resultSuccess  = "success"
	resultFailure  = "failure"
	resultBlocking = "blocking"
)

// promCallback counts dispatched dns and connect results.
type promCallback struct {
	netd.NopEventCallback
}

func (promCallback) OnDNSEvent(ev event.Event) {
	result := resultSuccess
	if !netmetrics.IsDNSSuccess(ev.ReturnCode) {
		result = resultFailure
	}
	metrics.NetdEvents.WithLabelValues(ev.Kind.String(), result).Inc()
}

func (promCallback) OnConnectEvent(ev event.Event) {
	result := resultSuccess
	switch {
	case !netmetrics.IsConnectSuccess(ev.ReturnCode):
		result = resultFailure
	case !netmetrics.IsNonBlocking(ev.ReturnCode):
		result = resultBlocking
	}
	metrics.NetdEvents.WithLabelValues(ev.Kind.String(), result).Inc()
}
