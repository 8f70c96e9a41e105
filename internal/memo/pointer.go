package memo

import (
	"encoding/hex"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Pointer record field numbers. Frozen; unknown numbers are skipped on
// decode.
const (
	ptrFieldCID           = 1
	ptrFieldTarget        = 2
	ptrFieldKind          = 3
	ptrFieldSchemaVersion = 4
	ptrFieldTaskID        = 5
	ptrFieldThreadID      = 6
	ptrFieldContextID     = 7
	ptrFieldFlags         = 8
	ptrFieldContentHash   = 9
	ptrFieldSize          = 10
	ptrFieldPartIndex     = 11
	ptrFieldPartTotal     = 12
)

const contentHashSize = 32

// PointerMemo references off-ledger content by CID plus routing metadata.
// Target and Kind hold canonical enum names, or the decimal code when the
// wire value is outside the known vocabulary. ContentHash and Size, when
// set, describe the stored bytes the CID resolves to so fetchers can
// verify gateway responses. PartIndex/PartTotal are 1-based and only
// valid together with the multipart flag.
type PointerMemo struct {
	CID           string
	Target        string
	Kind          string
	SchemaVersion uint32
	TaskID        string
	ThreadID      string
	ContextID     string
	Flags         uint32
	ContentHash   []byte
	Size          uint64
	PartIndex     uint32
	PartTotal     uint32
}

func (p PointerMemo) Encrypted() bool { return p.Flags&FlagEncrypted != 0 }
func (p PointerMemo) Public() bool    { return p.Flags&FlagPublic != 0 }
func (p PointerMemo) Ephemeral() bool { return p.Flags&FlagEphemeral != 0 }
func (p PointerMemo) Tombstone() bool { return p.Flags&FlagTombstone != 0 }
func (p PointerMemo) Multipart() bool { return p.Flags&FlagMultipart != 0 }

// EncodePointer validates and serializes a pointer record into a complete
// wire memo. Unmapped enum names fail closed with ErrInvalidPointer.
func EncodePointer(p PointerMemo) (Memo, error) {
	data, err := appendPointer(nil, p)
	if err != nil {
		return Memo{}, err
	}
	return Memo{
		Type:   PointerMemoType,
		Format: PointerMemoFormat,
		Data:   hex.EncodeToString(data),
	}, nil
}

func appendPointer(b []byte, p PointerMemo) ([]byte, error) {
	if p.CID == "" {
		return nil, fmt.Errorf("%w: missing cid", ErrInvalidPointer)
	}
	if len(p.ContentHash) != 0 && len(p.ContentHash) != contentHashSize {
		return nil, fmt.Errorf("%w: content hash must be %d bytes, got %d",
			ErrInvalidPointer, contentHashSize, len(p.ContentHash))
	}
	if p.Multipart() {
		if p.PartTotal == 0 || p.PartIndex == 0 || p.PartIndex > p.PartTotal {
			return nil, fmt.Errorf("%w: multipart pointer needs part %d of %d",
				ErrInvalidPointer, p.PartIndex, p.PartTotal)
		}
	} else if p.PartIndex != 0 || p.PartTotal != 0 {
		return nil, fmt.Errorf("%w: part fields require the multipart flag", ErrInvalidPointer)
	}
	t := loadTables()
	target, ok := t.target.code(p.Target)
	if !ok {
		return nil, fmt.Errorf("%w: unknown target %q", ErrInvalidPointer, p.Target)
	}
	kind, ok := t.kind.code(p.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPointer, p.Kind)
	}

	b = protowire.AppendTag(b, ptrFieldCID, protowire.BytesType)
	b = protowire.AppendString(b, p.CID)
	if target != 0 {
		b = protowire.AppendTag(b, ptrFieldTarget, protowire.VarintType)
		b = protowire.AppendVarint(b, target)
	}
	if kind != 0 {
		b = protowire.AppendTag(b, ptrFieldKind, protowire.VarintType)
		b = protowire.AppendVarint(b, kind)
	}
	if p.SchemaVersion != 0 {
		b = protowire.AppendTag(b, ptrFieldSchemaVersion, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.SchemaVersion))
	}
	if p.TaskID != "" {
		b = protowire.AppendTag(b, ptrFieldTaskID, protowire.BytesType)
		b = protowire.AppendString(b, p.TaskID)
	}
	if p.ThreadID != "" {
		b = protowire.AppendTag(b, ptrFieldThreadID, protowire.BytesType)
		b = protowire.AppendString(b, p.ThreadID)
	}
	if p.ContextID != "" {
		b = protowire.AppendTag(b, ptrFieldContextID, protowire.BytesType)
		b = protowire.AppendString(b, p.ContextID)
	}
	if p.Flags != 0 {
		b = protowire.AppendTag(b, ptrFieldFlags, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Flags))
	}
	if len(p.ContentHash) != 0 {
		b = protowire.AppendTag(b, ptrFieldContentHash, protowire.BytesType)
		b = protowire.AppendBytes(b, p.ContentHash)
	}
	if p.Size != 0 {
		b = protowire.AppendTag(b, ptrFieldSize, protowire.VarintType)
		b = protowire.AppendVarint(b, p.Size)
	}
	if p.PartIndex != 0 {
		b = protowire.AppendTag(b, ptrFieldPartIndex, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.PartIndex))
	}
	if p.PartTotal != 0 {
		b = protowire.AppendTag(b, ptrFieldPartTotal, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.PartTotal))
	}
	return b, nil
}

// DecodePointer parses a binary pointer record. Absent fields resolve to
// their documented defaults; unknown field numbers are skipped.
func DecodePointer(data []byte) (PointerMemo, error) {
	t := loadTables()
	p := PointerMemo{
		Target: TargetUnspecified,
		Kind:   KindUnspecified,
	}
	sawCID := false
	for len(data) > 0 {
		num, typ, rest, err := consumeTag(data)
		if err != nil {
			return PointerMemo{}, err
		}
		data = rest

		var v uint64
		switch {
		case num == ptrFieldCID && typ == protowire.BytesType:
			p.CID, data, err = consumeString(data)
			sawCID = true
		case num == ptrFieldTarget && typ == protowire.VarintType:
			v, data, err = consumeVarint(data)
			p.Target = t.target.name(v)
		case num == ptrFieldKind && typ == protowire.VarintType:
			v, data, err = consumeVarint(data)
			p.Kind = t.kind.name(v)
		case num == ptrFieldSchemaVersion && typ == protowire.VarintType:
			v, data, err = consumeVarint(data)
			p.SchemaVersion = uint32(v)
		case num == ptrFieldTaskID && typ == protowire.BytesType:
			p.TaskID, data, err = consumeString(data)
		case num == ptrFieldThreadID && typ == protowire.BytesType:
			p.ThreadID, data, err = consumeString(data)
		case num == ptrFieldContextID && typ == protowire.BytesType:
			p.ContextID, data, err = consumeString(data)
		case num == ptrFieldFlags && typ == protowire.VarintType:
			v, data, err = consumeVarint(data)
			p.Flags = uint32(v)
		case num == ptrFieldContentHash && typ == protowire.BytesType:
			p.ContentHash, data, err = consumeBytes(data)
		case num == ptrFieldSize && typ == protowire.VarintType:
			p.Size, data, err = consumeVarint(data)
		case num == ptrFieldPartIndex && typ == protowire.VarintType:
			v, data, err = consumeVarint(data)
			p.PartIndex = uint32(v)
		case num == ptrFieldPartTotal && typ == protowire.VarintType:
			v, data, err = consumeVarint(data)
			p.PartTotal = uint32(v)
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return PointerMemo{}, err
		}
	}
	if !sawCID {
		return PointerMemo{}, fmt.Errorf("%w: missing cid", ErrMalformed)
	}
	return p, nil
}
