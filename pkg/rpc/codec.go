package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// CodecName is the content subtype of [Codec].
const CodecName = "structpb"

// Codec is a gRPC codec for plain Go structs. A value is converted to its
// JSON object form, using its json struct tags, and sent as a
// google.protobuf.Struct message. Byte slices travel base64 encoded as JSON
// does, numbers as doubles. Integers beyond 2^53 lose precision as doubles;
// tag such fields with the json ",string" option.
//
// Values that are proto messages are encoded directly.
type Codec struct{}

// Name returns [CodecName].
func (Codec) Name() string {
	return CodecName
}

// Marshal encodes v, which must marshal to a JSON object.
func (Codec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		b, err := proto.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCodec, err)
		}
		return b, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot marshal %T: %w", ErrCodec, v, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("%w: %T is not an object: %w", ErrCodec, v, err)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot convert %T: %w", ErrCodec, v, err)
	}
	b, err = proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodec, err)
	}
	return b, nil
}

// Unmarshal decodes data into v, which must be a pointer.
func (Codec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		if err := proto.Unmarshal(data, m); err != nil {
			return fmt.Errorf("%w: %w", ErrCodec, err)
		}
		return nil
	}
	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return fmt.Errorf("%w: %w", ErrCodec, err)
	}
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCodec, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: cannot unmarshal into %T: %w", ErrCodec, v, err)
	}
	return nil
}
