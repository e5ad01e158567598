package api

import (
	"fmt"

	"google.golang.org/grpc/encoding"

	"rfstore/internal/wire"
)

// Name is the codec name and gRPC content subtype of every rfstore call.
const Name = "rfs"

func init() {
	encoding.RegisterCodec(codec{})
}

type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wire.Message)
	if !ok {
		return nil, fmt.Errorf("rfs codec: cannot marshal %T", v)
	}
	return m.MarshalWire()
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wire.Message)
	if !ok {
		return fmt.Errorf("rfs codec: cannot unmarshal into %T", v)
	}
	return m.UnmarshalWire(data)
}

func (codec) Name() string { return Name }
