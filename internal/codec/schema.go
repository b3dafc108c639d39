package codec

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/connectivity-metrics/internal/event"
	"github.com/malbeclabs/connectivity-metrics/internal/linklayer"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

const (
	schemaFile    = "connectivity/metrics/v1/log.proto"
	schemaPackage = "connectivity.metrics.v1"

	logMessage      = "ConnectivityLog"
	eventMessage    = "ConnectivityEvent"
	linkLayerEnum   = "LinkLayer"
	eventKindEnum   = "EventKind"
	linkLayerPrefix = "LINK_LAYER_"
	eventKindPrefix = "EVENT_KIND_"

	lastKind      = event.KindNetworkEvent
	lastLinkLayer = linklayer.Wifi
)

// descriptors of the connectivity log schema, built once at init from descriptorpb.
type descriptors struct {
	log   protoreflect.MessageDescriptor
	event protoreflect.MessageDescriptor

	logEvents  protoreflect.FieldDescriptor
	logDropped protoreflect.FieldDescriptor
	logVersion protoreflect.FieldDescriptor

	timeMs     protoreflect.FieldDescriptor
	netID      protoreflect.FieldDescriptor
	transports protoreflect.FieldDescriptor
	linkLayer  protoreflect.FieldDescriptor
	ifName     protoreflect.FieldDescriptor
	kind       protoreflect.FieldDescriptor
	subtype    protoreflect.FieldDescriptor
	returnCode protoreflect.FieldDescriptor
	latencyMs  protoreflect.FieldDescriptor
	ipAddr     protoreflect.FieldDescriptor
}

var schema = mustBuildSchema()

func mustBuildSchema() *descriptors {
	d, err := buildSchema()
	if err != nil {
		panic(fmt.Sprintf("codec: invalid connectivity log schema: %v", err))
	}
	return d
}

func buildSchema() (*descriptors, error) {
	linkLayers := make([]string, 0, int(lastLinkLayer)+1)
	for l := linklayer.Unknown; l <= lastLinkLayer; l++ {
		linkLayers = append(linkLayers, l.String())
	}
	kinds := make([]string, 0, int(lastKind)+1)
	for k := event.KindUnknown; k <= lastKind; k++ {
		kinds = append(kinds, strings.ToUpper(k.String()))
	}

	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String(schemaFile),
		Package: proto.String(schemaPackage),
		Syntax:  proto.String("proto3"),
		EnumType: []*descriptorpb.EnumDescriptorProto{
			enumType(linkLayerEnum, linkLayerPrefix, linkLayers),
			enumType(eventKindEnum, eventKindPrefix, kinds),
		},
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String(eventMessage),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalarField("time_ms", 1, descriptorpb.FieldDescriptorProto_TYPE_INT64),
					scalarField("network_id", 2, descriptorpb.FieldDescriptorProto_TYPE_INT32),
					scalarField("transports", 3, descriptorpb.FieldDescriptorProto_TYPE_UINT64),
					enumField("link_layer", 4, linkLayerEnum),
					scalarField("if_name", 5, descriptorpb.FieldDescriptorProto_TYPE_STRING),
					enumField("kind", 6, eventKindEnum),
					scalarField("subtype", 7, descriptorpb.FieldDescriptorProto_TYPE_INT32),
					scalarField("return_code", 8, descriptorpb.FieldDescriptorProto_TYPE_INT32),
					scalarField("latency_ms", 9, descriptorpb.FieldDescriptorProto_TYPE_INT32),
					scalarField("ip_addr", 10, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				},
			},
			{
				Name: proto.String(logMessage),
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:     proto.String("events"),
						Number:   proto.Int32(1),
						Label:    descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum(),
						Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
						TypeName: proto.String(qualified(eventMessage)),
					},
					scalarField("dropped_events", 2, descriptorpb.FieldDescriptorProto_TYPE_INT32),
					scalarField("version", 3, descriptorpb.FieldDescriptorProto_TYPE_INT32),
				},
			},
		},
	}

	fd, err := protodesc.NewFile(file, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build file descriptor: %w", err)
	}

	ev := fd.Messages().ByName(eventMessage)
	log := fd.Messages().ByName(logMessage)
	evf := ev.Fields()
	logf := log.Fields()
	return &descriptors{
		log:        log,
		event:      ev,
		logEvents:  logf.ByName("events"),
		logDropped: logf.ByName("dropped_events"),
		logVersion: logf.ByName("version"),
		timeMs:     evf.ByName("time_ms"),
		netID:      evf.ByName("network_id"),
		transports: evf.ByName("transports"),
		linkLayer:  evf.ByName("link_layer"),
		ifName:     evf.ByName("if_name"),
		kind:       evf.ByName("kind"),
		subtype:    evf.ByName("subtype"),
		returnCode: evf.ByName("return_code"),
		latencyMs:  evf.ByName("latency_ms"),
		ipAddr:     evf.ByName("ip_addr"),
	}, nil
}

func qualified(name string) string {
	return "." + schemaPackage + "." + name
}

func scalarField(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func enumField(name string, number int32, enum string) *descriptorpb.FieldDescriptorProto {
	f := scalarField(name, number, descriptorpb.FieldDescriptorProto_TYPE_ENUM)
	f.TypeName = proto.String(qualified(enum))
	return f
}

// enumType builds an enum whose values are numbered in order. Enum values share the package
// scope in proto, hence the prefix.
func enumType(name, prefix string, values []string) *descriptorpb.EnumDescriptorProto {
	e := &descriptorpb.EnumDescriptorProto{Name: proto.String(name)}
	for i, v := range values {
		e.Value = append(e.Value, &descriptorpb.EnumValueDescriptorProto{
			Name:   proto.String(prefix + v),
			Number: proto.Int32(int32(i)),
		})
	}
	return e
}
