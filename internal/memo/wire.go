package memo

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Thin wrappers over protowire consume functions that return the
// remaining buffer and a wrapped ErrMalformed instead of a negative
// length.

func consumeVarint(b []byte) (uint64, []byte, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return v, b[n:], nil
}

func consumeString(b []byte) (string, []byte, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return v, b[n:], nil
}

func consumeBytes(b []byte) ([]byte, []byte, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return append([]byte(nil), v...), b[n:], nil
}

func consumeTag(b []byte) (protowire.Number, protowire.Type, []byte, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return 0, 0, nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return num, typ, b[n:], nil
}

func skipField(b []byte, num protowire.Number, typ protowire.Type) ([]byte, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return b[n:], nil
}
