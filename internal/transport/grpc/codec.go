package grpcx

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName: content-subtype, под которым ходят сообщения: application/grpc+json.
const CodecName = "json"

// jsonCodec: кодек gRPC поверх encoding/json, сообщения те же, что и в WS кадрах.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

// Codec возвращает кодек для клиентов: grpc.WithDefaultCallOptions(grpc.ForceCodec(grpcx.Codec())).
func Codec() encoding.Codec { return jsonCodec{} }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
