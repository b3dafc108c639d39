package netd

import (
	"sync"

	"github.com/malbeclabs/connectivity-metrics/internal/event"
)

// Dispatcher fans notifications out to every registered callback. With no callbacks
// registered every dispatch is a no-op.
type Dispatcher struct {
	mu        sync.RWMutex
	callbacks []EventCallback
}

func NewDispatcher(callbacks ...EventCallback) *Dispatcher {
	d := &Dispatcher{}
	for _, cb := range callbacks {
		d.Register(cb)
	}
	return d
}

// Register adds a callback. Nil callbacks are ignored.
func (d *Dispatcher) Register(cb EventCallback) {
	if cb == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	// Copy on write so dispatches can iterate without holding the lock.
	callbacks := make([]EventCallback, 0, len(d.callbacks)+1)
	callbacks = append(callbacks, d.callbacks...)
	d.callbacks = append(callbacks, cb)
}

// Callbacks returns the registered callbacks in registration order.
func (d *Dispatcher) Callbacks() []EventCallback {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.callbacks
}

// Dispatch routes ev by kind. Kinds other than dns and connect have no callback.
func (d *Dispatcher) Dispatch(ev event.Event) {
	switch ev.Kind {
	case event.KindDNS:
		for _, cb := range d.Callbacks() {
			cb.OnDNSEvent(ev)
		}
	case event.KindConnect:
		for _, cb := range d.Callbacks() {
			cb.OnConnectEvent(ev)
		}
	}
}

func (d *Dispatcher) NetworkRegistered(netID int32, transports uint64, ifname string) {
	for _, cb := range d.Callbacks() {
		cb.OnNetworkRegistered(netID, transports, ifname)
	}
}

func (d *Dispatcher) NetworkLost(netID int32) {
	for _, cb := range d.Callbacks() {
		cb.OnNetworkLost(netID)
	}
}

// Dumpers returns the registered callbacks that implement Dumper.
func (d *Dispatcher) Dumpers() []Dumper {
	var out []Dumper
	for _, cb := range d.Callbacks() {
		if dumper, ok := cb.(Dumper); ok {
			out = append(out, dumper)
		}
	}
	return out
}
