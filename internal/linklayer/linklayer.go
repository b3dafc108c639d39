package linklayer

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/connectivity-metrics/internal/event"
)

// LinkLayer is the coarse medium of a network, inferred from its interface name.
type LinkLayer int32

const (
	Unknown LinkLayer = iota
	Bluetooth
	Cellular
	Ethernet
	Wifi
)

var names = map[LinkLayer]string{
	Unknown:   "UNKNOWN",
	Bluetooth: "BLUETOOTH",
	Cellular:  "CELLULAR",
	Ethernet:  "ETHERNET",
	Wifi:      "WIFI",
}

func (l LinkLayer) String() string {
	if name, ok := names[l]; ok {
		return name
	}
	return fmt.Sprintf("LINKLAYER(%d)", int32(l))
}

// Transports returns the transports bitmask of the link layer, 0 for Unknown.
func (l LinkLayer) Transports() uint64 {
	switch l {
	case Bluetooth:
		return event.TransportBluetooth.Bit()
	case Cellular:
		return event.TransportCellular.Bit()
	case Ethernet:
		return event.TransportEthernet.Bit()
	case Wifi:
		return event.TransportWifi.Bit()
	}
	return 0
}

// table is matched in declaration order; the first substring found wins.
var table = []struct {
	layer   LinkLayer
	pattern string
}{
	{Wifi, "wlan"},
	{Cellular, "rmnet"},
	{Bluetooth, "bt-pan"},
	{Ethernet, "eth"},
}

// Classify returns the link layer of an interface name.
func Classify(ifname string) LinkLayer {
	for _, e := range table {
		if strings.Contains(ifname, e.pattern) {
			return e.layer
		}
	}
	if strings.Contains(ifname, "p2p") {
		return Wifi
	}
	return Unknown
}

// FromTransports returns the link layer of a network carried by exactly one of the
// cellular, wifi, bluetooth or ethernet transports, and Unknown otherwise.
func FromTransports(mask uint64) LinkLayer {
	var found LinkLayer
	for _, l := range []LinkLayer{Bluetooth, Cellular, Ethernet, Wifi} {
		if mask&l.Transports() == 0 {
			continue
		}
		if found != Unknown {
			return Unknown
		}
		found = l
	}
	return found
}
