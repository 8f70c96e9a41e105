package memo

import (
	"encoding/hex"
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope record field numbers.
const (
	envFieldVersion        = 1
	envFieldContentHash    = 2
	envFieldMessageType    = 3
	envFieldEncryptionMode = 4
	envFieldReference      = 5
	envFieldInlineMessage  = 6
	envFieldMetadata       = 7
)

// Reference sub-record field numbers.
const (
	refFieldContentHash = 1
	refFieldGroupID     = 2
	refFieldType        = 3
	refFieldAnnotation  = 4
)

// Metadata entry field numbers.
const (
	metaFieldKey   = 1
	metaFieldValue = 2
)

// EnvelopeMemo carries a message inline in the transaction itself, with
// no off-ledger blob. InlineMessage holds the sealed envelope bytes for
// protected mode, or the raw message for the public modes.
type EnvelopeMemo struct {
	Version          uint32
	ContentHash      []byte
	MessageType      string
	EncryptionMode   string
	PublicReferences []PublicReference
	InlineMessage    []byte
	Metadata         map[string]string
}

// PublicReference links an envelope to related on- or off-ledger content.
type PublicReference struct {
	ContentHash   []byte
	GroupID       string
	ReferenceType string
	Annotation    string
}

// EncodeEnvelope validates and serializes an envelope record into a
// complete wire memo.
func EncodeEnvelope(e EnvelopeMemo) (Memo, error) {
	data, err := appendEnvelope(nil, e)
	if err != nil {
		return Memo{}, err
	}
	return Memo{
		Type:   EnvelopeMemoType,
		Format: EnvelopeMemoFormat,
		Data:   hex.EncodeToString(data),
	}, nil
}

func appendEnvelope(b []byte, e EnvelopeMemo) ([]byte, error) {
	if len(e.InlineMessage) == 0 {
		return nil, fmt.Errorf("%w: missing inline message", ErrInvalidEnvelope)
	}
	t := loadTables()
	msgType, ok := t.messageType.code(e.MessageType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidEnvelope, e.MessageType)
	}
	encMode, ok := t.encryptionMode.code(e.EncryptionMode)
	if !ok {
		return nil, fmt.Errorf("%w: unknown encryption mode %q", ErrInvalidEnvelope, e.EncryptionMode)
	}

	if e.Version != 0 {
		b = protowire.AppendTag(b, envFieldVersion, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Version))
	}
	if len(e.ContentHash) > 0 {
		b = protowire.AppendTag(b, envFieldContentHash, protowire.BytesType)
		b = protowire.AppendBytes(b, e.ContentHash)
	}
	if msgType != 0 {
		b = protowire.AppendTag(b, envFieldMessageType, protowire.VarintType)
		b = protowire.AppendVarint(b, msgType)
	}
	if encMode != 0 {
		b = protowire.AppendTag(b, envFieldEncryptionMode, protowire.VarintType)
		b = protowire.AppendVarint(b, encMode)
	}
	for _, ref := range e.PublicReferences {
		sub, err := appendReference(nil, ref)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, envFieldReference, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	b = protowire.AppendTag(b, envFieldInlineMessage, protowire.BytesType)
	b = protowire.AppendBytes(b, e.InlineMessage)
	for _, key := range sortedKeys(e.Metadata) {
		var sub []byte
		sub = protowire.AppendTag(sub, metaFieldKey, protowire.BytesType)
		sub = protowire.AppendString(sub, key)
		sub = protowire.AppendTag(sub, metaFieldValue, protowire.BytesType)
		sub = protowire.AppendString(sub, e.Metadata[key])
		b = protowire.AppendTag(b, envFieldMetadata, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	return b, nil
}

func appendReference(b []byte, ref PublicReference) ([]byte, error) {
	refType, ok := loadTables().referenceType.code(ref.ReferenceType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown reference type %q", ErrInvalidEnvelope, ref.ReferenceType)
	}
	if len(ref.ContentHash) > 0 {
		b = protowire.AppendTag(b, refFieldContentHash, protowire.BytesType)
		b = protowire.AppendBytes(b, ref.ContentHash)
	}
	if ref.GroupID != "" {
		b = protowire.AppendTag(b, refFieldGroupID, protowire.BytesType)
		b = protowire.AppendString(b, ref.GroupID)
	}
	if refType != 0 {
		b = protowire.AppendTag(b, refFieldType, protowire.VarintType)
		b = protowire.AppendVarint(b, refType)
	}
	if ref.Annotation != "" {
		b = protowire.AppendTag(b, refFieldAnnotation, protowire.BytesType)
		b = protowire.AppendString(b, ref.Annotation)
	}
	return b, nil
}

// DecodeEnvelope parses a binary envelope record. Absent fields resolve
// to their documented defaults; unknown field numbers are skipped.
func DecodeEnvelope(data []byte) (EnvelopeMemo, error) {
	t := loadTables()
	e := EnvelopeMemo{
		MessageType:    MessageTypeUnspecified,
		EncryptionMode: EncryptionNone,
	}
	for len(data) > 0 {
		num, typ, rest, err := consumeTag(data)
		if err != nil {
			return EnvelopeMemo{}, err
		}
		data = rest

		var v uint64
		var sub []byte
		switch {
		case num == envFieldVersion && typ == protowire.VarintType:
			v, data, err = consumeVarint(data)
			e.Version = uint32(v)
		case num == envFieldContentHash && typ == protowire.BytesType:
			e.ContentHash, data, err = consumeBytes(data)
		case num == envFieldMessageType && typ == protowire.VarintType:
			v, data, err = consumeVarint(data)
			e.MessageType = t.messageType.name(v)
		case num == envFieldEncryptionMode && typ == protowire.VarintType:
			v, data, err = consumeVarint(data)
			e.EncryptionMode = t.encryptionMode.name(v)
		case num == envFieldReference && typ == protowire.BytesType:
			sub, data, err = consumeBytes(data)
			if err == nil {
				var ref PublicReference
				ref, err = decodeReference(sub)
				e.PublicReferences = append(e.PublicReferences, ref)
			}
		case num == envFieldInlineMessage && typ == protowire.BytesType:
			e.InlineMessage, data, err = consumeBytes(data)
		case num == envFieldMetadata && typ == protowire.BytesType:
			sub, data, err = consumeBytes(data)
			if err == nil {
				var key, value string
				key, value, err = decodeMetadataEntry(sub)
				if err == nil {
					if e.Metadata == nil {
						e.Metadata = make(map[string]string)
					}
					e.Metadata[key] = value
				}
			}
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return EnvelopeMemo{}, err
		}
	}
	if len(e.InlineMessage) == 0 {
		return EnvelopeMemo{}, fmt.Errorf("%w: missing inline message", ErrMalformed)
	}
	return e, nil
}

func decodeReference(data []byte) (PublicReference, error) {
	t := loadTables()
	ref := PublicReference{ReferenceType: ReferenceUnspecified}
	for len(data) > 0 {
		num, typ, rest, err := consumeTag(data)
		if err != nil {
			return PublicReference{}, err
		}
		data = rest

		var v uint64
		switch {
		case num == refFieldContentHash && typ == protowire.BytesType:
			ref.ContentHash, data, err = consumeBytes(data)
		case num == refFieldGroupID && typ == protowire.BytesType:
			ref.GroupID, data, err = consumeString(data)
		case num == refFieldType && typ == protowire.VarintType:
			v, data, err = consumeVarint(data)
			ref.ReferenceType = t.referenceType.name(v)
		case num == refFieldAnnotation && typ == protowire.BytesType:
			ref.Annotation, data, err = consumeString(data)
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return PublicReference{}, err
		}
	}
	return ref, nil
}

func decodeMetadataEntry(data []byte) (string, string, error) {
	var key, value string
	for len(data) > 0 {
		num, typ, rest, err := consumeTag(data)
		if err != nil {
			return "", "", err
		}
		data = rest

		switch {
		case num == metaFieldKey && typ == protowire.BytesType:
			key, data, err = consumeString(data)
		case num == metaFieldValue && typ == protowire.BytesType:
			value, data, err = consumeString(data)
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return "", "", err
		}
	}
	return key, value, nil
}

// sortedKeys keeps metadata encoding deterministic.
func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
