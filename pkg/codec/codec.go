// Package codec turns raw message frames into typed values.
package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Codec decodes one message frame.
type Codec interface {
	Decode(data []byte) (any, error)
}

// Raw passes frames through unchanged.
type Raw struct{}

// Decode returns data as-is.
func (Raw) Decode(data []byte) (any, error) {
	return data, nil
}

// Proto decodes frames as protobuf messages produced by New.
type Proto struct {
	New func() proto.Message
}

// Decode unmarshals data into a fresh message.
func (p Proto) Decode(data []byte) (any, error) {
	if p.New == nil {
		return nil, errors.New("proto codec has no message constructor")
	}
	msg := p.New()
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %T: %w", msg, err)
	}
	return msg, nil
}

// Func adapts a plain function to Codec.
type Func func(data []byte) (any, error)

// Decode calls f(data).
func (f Func) Decode(data []byte) (any, error) {
	return f(data)
}
