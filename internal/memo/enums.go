package memo

import (
	"strconv"
	"strings"
	"sync"
)

// Enum defaults used when a field is absent from the wire record.
const (
	TargetUnspecified      = "TARGET_UNSPECIFIED"
	KindUnspecified        = "KIND_UNSPECIFIED"
	MessageTypeUnspecified = "MESSAGE_TYPE_UNSPECIFIED"
	EncryptionNone         = "ENCRYPTION_NONE"
	ReferenceUnspecified   = "REFERENCE_UNSPECIFIED"
)

// KindChat is the content kind scanners admit by default.
const KindChat = "CHAT"

// Canonical names senders reference directly when building memos.
const (
	TargetAccount       = "TARGET_ACCOUNT"
	MessageTypeChat     = "CHAT"
	EncryptionProtected = "ENCRYPTION_PROTECTED"
)

type enumTable struct {
	byName map[string]uint64
	byCode map[uint64]string
}

func newEnumTable(names map[uint64]string) enumTable {
	t := enumTable{
		byName: make(map[string]uint64, len(names)),
		byCode: make(map[uint64]string, len(names)),
	}
	for code, name := range names {
		t.byCode[code] = name
		t.byName[name] = code
	}
	return t
}

// code maps a name to its wire value. Canonical names resolve through the
// table; a plain decimal string resolves to its numeric value so records
// decoded from a newer vocabulary re-encode unchanged. Anything else is
// rejected.
func (t enumTable) code(name string) (uint64, bool) {
	if name == "" {
		return 0, true
	}
	if code, ok := t.byName[strings.ToUpper(name)]; ok {
		return code, true
	}
	code, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return 0, false
	}
	return code, true
}

// name maps a wire value to its canonical name, or to its decimal string
// when the value is outside the known vocabulary.
func (t enumTable) name(code uint64) string {
	if name, ok := t.byCode[code]; ok {
		return name
	}
	return strconv.FormatUint(code, 10)
}

type schemaTables struct {
	target         enumTable
	kind           enumTable
	messageType    enumTable
	encryptionMode enumTable
	referenceType  enumTable
}

var (
	tablesOnce sync.Once
	tables     *schemaTables
)

// loadTables builds the enum vocabularies exactly once; concurrent first
// callers share the same init.
func loadTables() *schemaTables {
	tablesOnce.Do(func() {
		tables = &schemaTables{
			target: newEnumTable(map[uint64]string{
				0: TargetUnspecified,
				1: TargetAccount,
				2: "TARGET_THREAD",
				3: "TARGET_BROADCAST",
			}),
			kind: newEnumTable(map[uint64]string{
				0: KindUnspecified,
				1: KindChat,
				2: "CONTEXT",
				3: "ATTACHMENT",
				4: "STATUS",
			}),
			messageType: newEnumTable(map[uint64]string{
				0: MessageTypeUnspecified,
				1: MessageTypeChat,
				2: "KEY_ROTATION",
				3: "RECEIPT",
			}),
			encryptionMode: newEnumTable(map[uint64]string{
				0: EncryptionNone,
				1: EncryptionProtected,
				2: "ENCRYPTION_PUBLIC",
			}),
			referenceType: newEnumTable(map[uint64]string{
				0: ReferenceUnspecified,
				1: "REFERENCE_CONTEXT",
				2: "REFERENCE_ATTACHMENT",
				3: "REFERENCE_SUPERSEDES",
			}),
		}
	})
	return tables
}

// KindMatches reports whether a decoded kind matches a wanted kind,
// accepting either the canonical name or its raw numeric value on both
// sides.
func KindMatches(decoded, wanted string) bool {
	if strings.EqualFold(decoded, wanted) {
		return true
	}
	t := loadTables().kind
	dc, dok := t.code(decoded)
	wc, wok := t.code(wanted)
	return dok && wok && dc == wc
}
