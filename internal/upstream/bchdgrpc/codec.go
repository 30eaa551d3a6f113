package bchdgrpc

import "encoding/json"

// jsonCodec lets this package speak gRPC's wire framing (length-prefixed
// messages over HTTP/2) without protoc-generated message types: no .proto
// files for BCHD's bchrpc service were available anywhere in the retrieved
// corpus (see DESIGN.md), so request/reply shapes are plain Go structs with
// json tags, carried as the codec's wire format instead of protobuf's.
type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

const codecName = "json"
