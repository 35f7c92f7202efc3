package daemon

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype the service is served with, so requests
// travel as application/grpc+json.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
