package rpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
)

// EnvelopeKind discriminates the three message shapes that travel over a
// bridge Channel stream.
type EnvelopeKind string

const (
	// KindCall is a request the control plane issues to a connected pod.
	KindCall EnvelopeKind = "call"
	// KindResponse answers a prior KindCall by ID.
	KindResponse EnvelopeKind = "response"
	// KindEvent is an unsolicited push from the pod (conversation_sync).
	KindEvent EnvelopeKind = "event"
)

// Envelope is the single message type carried over a bridge Channel stream,
// JSON-encoded by JSONCodec. The first message a pod sends after dialing
// MUST be a KindEvent with EventType "hello" and EventData {"pod_id": ...}
// so the server can associate the stream with a LocalPod.
type Envelope struct {
	Kind      EnvelopeKind    `json:"kind"`
	ID        string          `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	EventData json.RawMessage `json:"event_data,omitempty"`
}

// BridgeServer is implemented by the control plane's bridge handler.
type BridgeServer interface {
	Channel(BridgeService_ChannelServer) error
}

// BridgeService_ChannelServer is the server-side view of one pod's stream.
type BridgeService_ChannelServer interface {
	Send(*Envelope) error
	Recv() (*Envelope, error)
	grpc.ServerStream
}

type bridgeChannelServer struct {
	grpc.ServerStream
}

func (x *bridgeChannelServer) Send(m *Envelope) error {
	return x.ServerStream.SendMsg(m)
}

func (x *bridgeChannelServer) Recv() (*Envelope, error) {
	m := new(Envelope)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func bridgeChannelHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(BridgeServer).Channel(&bridgeChannelServer{ServerStream: stream})
}

// BridgeServiceDesc is registered against a *grpc.Server by the control
// plane in place of a protoc-generated _grpc.pb.go, since the bridge
// protocol carries JSON envelopes rather than protobuf messages.
var BridgeServiceDesc = grpc.ServiceDesc{
	ServiceName: "fleetd.bridge.v1.Bridge",
	HandlerType: (*BridgeServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Channel",
			Handler:       bridgeChannelHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "bridge.proto",
}

// BridgeService_ChannelClient is the client-side (laptop agent) view of the
// stream it opens to a control-plane replica.
type BridgeService_ChannelClient interface {
	Send(*Envelope) error
	Recv() (*Envelope, error)
	grpc.ClientStream
}

type bridgeChannelClient struct {
	grpc.ClientStream
}

func (x *bridgeChannelClient) Send(m *Envelope) error {
	return x.ClientStream.SendMsg(m)
}

func (x *bridgeChannelClient) Recv() (*Envelope, error) {
	m := new(Envelope)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// NewBridgeChannel opens the bidirectional stream a laptop agent keeps open
// for the lifetime of its connection to a control-plane replica.
func NewBridgeChannel(ctx context.Context, cc grpc.ClientConnInterface) (BridgeService_ChannelClient, error) {
	desc := &BridgeServiceDesc.Streams[0]
	stream, err := cc.NewStream(ctx, desc, "/fleetd.bridge.v1.Bridge/Channel", grpc.CallContentSubtype(JSONCodecName))
	if err != nil {
		return nil, err
	}
	return &bridgeChannelClient{ClientStream: stream}, nil
}
