// Package memo encodes and decodes the binary memo records carried in
// ledger transaction memos. A memo rides on the ledger as three hex
// fields (type, format, data); two schemas are recognized, the pointer
// record announcing off-ledger content and the envelope record carrying
// an inline message.
package memo

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Wire constants. Type and format are fixed hex strings; comparison is
// case-insensitive.
const (
	PointerMemoType   = "70662e707472" // hex("pf.ptr")
	PointerMemoFormat = "7634"         // hex("v4")

	EnvelopeMemoType   = "6b657973746f6e65" // hex("keystone")
	EnvelopeMemoFormat = "7631"             // hex("v1")
)

// Pointer flag bits.
const (
	FlagEncrypted uint32 = 0x01
	FlagPublic    uint32 = 0x02
	FlagEphemeral uint32 = 0x04
	FlagTombstone uint32 = 0x08
	FlagMultipart uint32 = 0x10
)

var (
	ErrUnknownSchema   = errors.New("memo type is not recognized")
	ErrMalformed       = errors.New("memo payload is malformed")
	ErrInvalidPointer  = errors.New("invalid pointer payload")
	ErrInvalidEnvelope = errors.New("invalid envelope payload")
)

type Schema int

const (
	SchemaUnknown Schema = iota
	SchemaPointer
	SchemaEnvelope
)

func (s Schema) String() string {
	switch s {
	case SchemaPointer:
		return "pointer"
	case SchemaEnvelope:
		return "envelope"
	default:
		return "unknown"
	}
}

// Memo is the wire triplet exactly as it appears in a transaction: all
// three fields hex-encoded.
type Memo struct {
	Type   string `json:"MemoType"`
	Format string `json:"MemoFormat"`
	Data   string `json:"MemoData"`
}

// Identify classifies a memo by its type and format fields.
func Identify(memoType, memoFormat string) Schema {
	switch {
	case strings.EqualFold(memoType, PointerMemoType) && strings.EqualFold(memoFormat, PointerMemoFormat):
		return SchemaPointer
	case strings.EqualFold(memoType, EnvelopeMemoType) && strings.EqualFold(memoFormat, EnvelopeMemoFormat):
		return SchemaEnvelope
	default:
		return SchemaUnknown
	}
}

// Decoded is the result of decoding one memo. Exactly one of Pointer and
// Envelope is set, matching Schema; both are nil for SchemaUnknown.
type Decoded struct {
	Schema   Schema
	Pointer  *PointerMemo
	Envelope *EnvelopeMemo
}

// Decode identifies and decodes one wire memo. Unrecognized type/format
// pairs fail with ErrUnknownSchema so scanners can skip them cheaply.
func Decode(m Memo) (Decoded, error) {
	schema := Identify(m.Type, m.Format)
	if schema == SchemaUnknown {
		return Decoded{}, ErrUnknownSchema
	}
	data, err := hex.DecodeString(m.Data)
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: data field is not hex", ErrMalformed)
	}
	switch schema {
	case SchemaPointer:
		p, err := DecodePointer(data)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Schema: SchemaPointer, Pointer: &p}, nil
	default:
		e, err := DecodeEnvelope(data)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Schema: SchemaEnvelope, Envelope: &e}, nil
	}
}
