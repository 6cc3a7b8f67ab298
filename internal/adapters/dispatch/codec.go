package dispatch

import (
	json "github.com/goccy/go-json"
	"google.golang.org/grpc/encoding"
)

// jsonCodec lets us call the gateway's JSON endpoints over gRPC without
// generated stubs. Registered under the "json" content subtype.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
