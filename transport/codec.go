package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName intentionally matches grpc-go's built-in protobuf codec name
// ("proto") so that neither side needs a custom content-subtype
// negotiated through call options — registering under this name replaces
// the default codec process-wide for both the orchestrator and any
// dispensed worker process that imports this package.
const codecName = "proto"

// jsonCodec marshals the hand-maintained message types in proto.go as
// JSON instead of the protobuf wire format, since no protoc step runs in
// this environment to produce real generated marshal code.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
