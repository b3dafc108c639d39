package event

import (
	"fmt"
	"math/bits"
)

// Transport is a bit index in a transports bitmask.
type Transport int

const (
	TransportCellular Transport = iota
	TransportWifi
	TransportBluetooth
	TransportEthernet
	TransportVPN
	TransportWifiAware
	TransportLowpan
)

var transportNames = []string{
	TransportCellular:  "CELLULAR",
	TransportWifi:      "WIFI",
	TransportBluetooth: "BLUETOOTH",
	TransportEthernet:  "ETHERNET",
	TransportVPN:       "VPN",
	TransportWifiAware: "WIFI_AWARE",
	TransportLowpan:    "LOWPAN",
}

func (t Transport) String() string {
	if t >= 0 && int(t) < len(transportNames) {
		return transportNames[t]
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(t))
}

// Bit returns the bitmask with only this transport set.
func (t Transport) Bit() uint64 {
	return 1 << uint(t)
}

// PackTransports builds a bitmask from the given transports.
func PackTransports(ts ...Transport) uint64 {
	var mask uint64
	for _, t := range ts {
		mask |= t.Bit()
	}
	return mask
}

// UnpackTransports returns the transports set in mask, lowest bit first.
func UnpackTransports(mask uint64) []Transport {
	out := make([]Transport, 0, bits.OnesCount64(mask))
	for mask != 0 {
		i := bits.TrailingZeros64(mask)
		out = append(out, Transport(i))
		mask &^= 1 << uint(i)
	}
	return out
}

// TransportNames returns the names of the transports set in mask.
func TransportNames(mask uint64) []string {
	ts := UnpackTransports(mask)
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.String()
	}
	return names
}
