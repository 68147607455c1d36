// Package rpc provides the wire codec shared by the control plane's
// internal gRPC surfaces. The cluster-management RPCs (pkg/api) carry
// protobuf-generated messages; the Local-Pod Bridge (pkg/bridge) carries
// plain Go structs marshaled as JSON over the same gRPC framing, so a
// laptop agent never needs a protoc toolchain to speak the bridge
// protocol. Both codecs are registered by name and selected per-call via
// grpc.CallContentSubtype / grpc.ForceServerCodec.
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// JSONCodecName is the content-subtype gRPC clients/servers request to use
// JSONCodec instead of the default protobuf codec.
const JSONCodecName = "json"

func init() {
	encoding.RegisterCodec(JSONCodec{})
}

// JSONCodec implements encoding.Codec by marshaling messages as JSON. It is
// registered globally so both the bridge client and server pick it up by
// content-subtype name without either side importing the other's package.
type JSONCodec struct{}

func (JSONCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal json: %w", err)
	}
	return b, nil
}

func (JSONCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: unmarshal json: %w", err)
	}
	return nil
}

func (JSONCodec) Name() string {
	return JSONCodecName
}
