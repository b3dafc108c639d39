// Package codec encodes buffered connectivity events into the connectivity log protobuf
// format used by flush and list proto.
package codec

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/malbeclabs/connectivity-metrics/internal/event"
	"github.com/malbeclabs/connectivity-metrics/internal/linklayer"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Version is written in every encoded log.
const Version = 2

var ErrEmptyInput = errors.New("empty input")

// LinkLayerLookup returns the registered link layer of a network.
type LinkLayerLookup func(netID int32) (linklayer.LinkLayer, bool)

type options struct {
	lookup LinkLayerLookup
}

type Option func(*options)

// WithLinkLayers resolves the link layer of events from registered networks before falling
// back to the interface name and the transports of the event.
func WithLinkLayers(lookup LinkLayerLookup) Option {
	return func(o *options) {
		o.lookup = lookup
	}
}

// Log is a decoded connectivity log.
type Log struct {
	Version    int
	Dropped    int
	Events     []event.Event
	LinkLayers []linklayer.LinkLayer
}

// Descriptor returns the descriptor of the connectivity log message.
func Descriptor() protoreflect.MessageDescriptor {
	return schema.log
}

// ToProto builds the connectivity log message of events and the dropped count.
func ToProto(dropped int, events []event.Event, opts ...Option) proto.Message {
	o := newOptions(opts)

	m := dynamicpb.NewMessage(schema.log)
	list := m.Mutable(schema.logEvents).List()
	for _, ev := range events {
		list.Append(protoreflect.ValueOfMessage(o.eventMessage(ev)))
	}
	m.Set(schema.logDropped, protoreflect.ValueOfInt32(int32(dropped)))
	m.Set(schema.logVersion, protoreflect.ValueOfInt32(Version))
	return m
}

// Serialize encodes events and the dropped count in the protobuf wire format.
func Serialize(dropped int, events []event.Event, opts ...Option) ([]byte, error) {
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(ToProto(dropped, events, opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal connectivity log: %w", err)
	}
	return data, nil
}

// MarshalText renders each event as a protobuf text message, one block per event.
func MarshalText(events []event.Event, opts ...Option) (string, error) {
	o := newOptions(opts)

	var sb strings.Builder
	for _, ev := range events {
		out, err := prototext.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(o.eventMessage(ev))
		if err != nil {
			return "", fmt.Errorf("failed to marshal event text: %w", err)
		}
		sb.Write(out)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// Deserialize decodes a connectivity log. Link layers are returned alongside the events, in
// the same order.
func Deserialize(data []byte) (*Log, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	m := dynamicpb.NewMessage(schema.log)
	if err := proto.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connectivity log: %w", err)
	}

	list := m.Get(schema.logEvents).List()
	log := &Log{
		Version:    int(m.Get(schema.logVersion).Int()),
		Dropped:    int(m.Get(schema.logDropped).Int()),
		Events:     make([]event.Event, 0, list.Len()),
		LinkLayers: make([]linklayer.LinkLayer, 0, list.Len()),
	}
	for i := 0; i < list.Len(); i++ {
		em := list.Get(i).Message()
		log.Events = append(log.Events, fromMessage(em))
		log.LinkLayers = append(log.LinkLayers, linklayer.LinkLayer(em.Get(schema.linkLayer).Enum()))
	}
	return log, nil
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// linkLayerOf resolves the link layer of ev from, in order, the registered network, the
// interface name and the transports.
func (o *options) linkLayerOf(ev event.Event) linklayer.LinkLayer {
	if o.lookup != nil {
		if l, ok := o.lookup(ev.NetID); ok && l != linklayer.Unknown {
			return l
		}
	}
	if l := linklayer.Classify(ev.IfName); l != linklayer.Unknown {
		return l
	}
	return linklayer.FromTransports(ev.Transports)
}

func (o *options) eventMessage(ev event.Event) *dynamicpb.Message {
	m := dynamicpb.NewMessage(schema.event)
	var ms int64
	if !ev.Timestamp.IsZero() {
		ms = ev.Timestamp.UnixMilli()
	}
	m.Set(schema.timeMs, protoreflect.ValueOfInt64(ms))
	m.Set(schema.netID, protoreflect.ValueOfInt32(ev.NetID))
	m.Set(schema.transports, protoreflect.ValueOfUint64(ev.Transports))
	m.Set(schema.linkLayer, protoreflect.ValueOfEnum(protoreflect.EnumNumber(o.linkLayerOf(ev))))
	m.Set(schema.ifName, protoreflect.ValueOfString(validUTF8(ev.IfName)))
	m.Set(schema.kind, protoreflect.ValueOfEnum(protoreflect.EnumNumber(ev.Kind)))
	m.Set(schema.subtype, protoreflect.ValueOfInt32(ev.Subtype))
	m.Set(schema.returnCode, protoreflect.ValueOfInt32(ev.ReturnCode))
	m.Set(schema.latencyMs, protoreflect.ValueOfInt32(ev.LatencyMs))
	m.Set(schema.ipAddr, protoreflect.ValueOfString(validUTF8(ev.IPAddr)))
	return m
}

// validUTF8 replaces invalid byte sequences; proto3 string fields must be valid UTF-8.
func validUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

func fromMessage(m protoreflect.Message) event.Event {
	var ts time.Time
	if ms := m.Get(schema.timeMs).Int(); ms != 0 {
		ts = time.UnixMilli(ms).UTC()
	}
	return event.Event{
		Timestamp:  ts,
		Kind:       event.Kind(m.Get(schema.kind).Enum()),
		NetID:      int32(m.Get(schema.netID).Int()),
		Transports: m.Get(schema.transports).Uint(),
		IfName:     m.Get(schema.ifName).String(),
		Subtype:    int32(m.Get(schema.subtype).Int()),
		ReturnCode: int32(m.Get(schema.returnCode).Int()),
		LatencyMs:  int32(m.Get(schema.latencyMs).Int()),
		IPAddr:     m.Get(schema.ipAddr).String(),
	}
}
