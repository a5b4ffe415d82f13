// Package grpcapi exposes the Operation Pipeline over gRPC. There is no
// protoc toolchain available to generate the usual pb.go stubs, so the
// service is wired by hand: plain Go request/response structs tagged for
// JSON, a custom encoding.Codec that marshals over the wire as JSON instead
// of protobuf, and a manually built grpc.ServiceDesc. This keeps the real
// grpc/grpc-ecosystem/keepalive machinery the teacher depends on, without
// fabricating generated protobuf code that was never part of the retrieved
// source.
package grpcapi

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
