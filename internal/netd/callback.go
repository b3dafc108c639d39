package netd

import (
	"io"

	"github.com/malbeclabs/connectivity-metrics/internal/event"
)

// EventCallback is the set of notifications delivered for reported network activity.
// Implementations embed NopEventCallback and override what they need.
type EventCallback interface {
	OnDNSEvent(ev event.Event)
	OnConnectEvent(ev event.Event)
	OnNetworkRegistered(netID int32, transports uint64, ifname string)
	OnNetworkLost(netID int32)
}

// Dumper is implemented by callbacks that contribute to the stats dump.
type Dumper interface {
	Dump(w io.Writer)
}

// NopEventCallback ignores every notification.
type NopEventCallback struct{}

var _ EventCallback = NopEventCallback{}

func (NopEventCallback) OnDNSEvent(event.Event) {}
func (NopEventCallback) OnConnectEvent(event.Event) {}
func (NopEventCallback) OnNetworkRegistered(int32, uint64, string) {}
func (NopEventCallback) OnNetworkLost(int32) {}
