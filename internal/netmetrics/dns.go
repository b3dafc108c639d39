package netmetrics

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/connectivity-metrics/internal/event"
)

// DNS query types reported by the resolver.
const (
	DNSEventGetAddrInfo   = 1
	DNSEventGetHostByName = 2
	DNSEventGetHostByAddr = 3
	DNSEventResNSend      = 4
)

// DNS return codes. Any non-zero code is a failure.
const (
	DNSReturnSuccess = 0
	DNSReturnFailure = 1
)

// IsDNSSuccess reports whether a dns return code denotes success. The reporter encodes
// return codes in one byte, so only the low byte is significant.
func IsDNSSuccess(returnCode int32) bool {
	return byte(returnCode) == DNSReturnSuccess
}

// DNSTally keeps the raw results of dns queries for a network in a growable batch. Counts
// keep increasing after maxRecords is reached but no more records are retained.
type DNSTally struct {
	NetID      int32
	Transports uint64

	EventTypes  []byte
	ReturnCodes []byte
	LatenciesMs []int32

	EventCount   int
	SuccessCount int

	maxRecords int
}

func NewDNSTally(netID int32, transports uint64, batchSize, maxRecords int) *DNSTally {
	if batchSize <= 0 {
		batchSize = defaultDNSBatchSize
	}
	if maxRecords <= 0 {
		maxRecords = defaultMaxDNSRecords
	}
	batchSize = min(batchSize, maxRecords)
	return &DNSTally{
		NetID:       netID,
		Transports:  transports,
		EventTypes:  make([]byte, 0, batchSize),
		ReturnCodes: make([]byte, 0, batchSize),
		LatenciesMs: make([]int32, 0, batchSize),
		maxRecords:  maxRecords,
	}
}

// Add records a dns result and reports whether it was a success. Event types and return
// codes outside the byte range are truncated, as the reporter encodes them in one byte.
func (t *DNSTally) Add(eventType, returnCode byte, latencyMs int32) bool {
	isSuccess := IsDNSSuccess(int32(returnCode))
	t.EventCount++
	if isSuccess {
		t.SuccessCount++
	}
	if len(t.EventTypes) >= t.maxRecords {
		return isSuccess
	}
	t.EventTypes = append(t.EventTypes, eventType)
	t.ReturnCodes = append(t.ReturnCodes, returnCode)
	t.LatenciesMs = append(t.LatenciesMs, latencyMs)
	return isSuccess
}

// Len returns the number of retained records.
func (t *DNSTally) Len() int {
	return len(t.EventTypes)
}

func (t *DNSTally) String() string {
	parts := []string{fmt.Sprintf("%d", t.NetID)}
	parts = append(parts, event.TransportNames(t.Transports)...)
	parts = append(parts,
		fmt.Sprintf("%d events", t.EventCount),
		fmt.Sprintf("%d success", t.SuccessCount),
	)
	return "DnsEvent(" + strings.Join(parts, ", ") + ")"
}
