package txflow

import (
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"ledgermsg/go-node/internal/identity"
	"ledgermsg/go-node/internal/memo"
)

// Field headers, one byte of (type code << 4 | field code) except where
// the field code overflows the low nibble. Emission order below follows
// the canonical (type code, field code) ordering the network hashes.
const (
	headTransactionType = 0x12 // UInt16 2
	headNetworkID       = 0x21 // UInt32 1
	headFlags           = 0x22 // UInt32 2
	headSequence        = 0x24 // UInt32 4
	headAmount          = 0x61 // Amount 1
	headFee             = 0x68 // Amount 8
	headMessageKey      = 0x72 // Blob 2
	headSigningPubKey   = 0x73 // Blob 3
	headTxnSignature    = 0x74 // Blob 4
	headMemoType        = 0x7C // Blob 12
	headMemoData        = 0x7D // Blob 13
	headMemoFormat      = 0x7E // Blob 14
	headAccount         = 0x81 // AccountID 1
	headDestination     = 0x83 // AccountID 3
	headObjectEnd       = 0xE1
	headMemo            = 0xEA // Object 10
	headArrayEnd        = 0xF1
	headMemos           = 0xF9 // Array 9
)

// LastLedgerSequence is UInt32 27: the field code does not fit the low
// nibble, so the header is two bytes.
var headLastLedgerSequence = []byte{0x20, 0x1B}

// Payload prefixes: the signing payload and the transaction hash are
// computed over the serialized form behind distinct four-byte tags.
var (
	signingPrefix = []byte{0x53, 0x54, 0x58, 0x00} // "STX\0"
	hashingPrefix = []byte{0x54, 0x58, 0x4E, 0x00} // "TXN\0"
)

// Native amounts are serialized as the drops value with the
// positive-native bit set.
const nativeAmountBit = 0x4000000000000000

// tfFullyCanonicalSig, set on everything we sign.
const canonicalSigFlag uint32 = 0x80000000

const maxVLSize = 918744

// serialize renders the unsigned transaction in canonical binary form.
// A nil signature yields the signing payload body; with a signature it
// is the submittable blob.
func serialize(u Unsigned, signingPubKey, signature []byte) ([]byte, error) {
	accountID, err := identity.DecodeAddress(u.Spec.Account)
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}

	b := make([]byte, 0, 256)
	b = append(b, headTransactionType)
	b = binary.BigEndian.AppendUint16(b, uint16(u.Spec.Type))
	if u.NetworkID != 0 {
		b = append(b, headNetworkID)
		b = binary.BigEndian.AppendUint32(b, u.NetworkID)
	}
	b = append(b, headFlags)
	b = binary.BigEndian.AppendUint32(b, canonicalSigFlag)
	b = append(b, headSequence)
	b = binary.BigEndian.AppendUint32(b, u.Sequence)
	b = append(b, headLastLedgerSequence...)
	b = binary.BigEndian.AppendUint32(b, u.LastLedgerSequence)

	if u.Spec.Type == TypePayment {
		b = append(b, headAmount)
		b = binary.BigEndian.AppendUint64(b, nativeAmountBit|u.Spec.DropsAmount)
	}
	b = append(b, headFee)
	b = binary.BigEndian.AppendUint64(b, nativeAmountBit|u.FeeDrops)

	if u.Spec.Type == TypeAccountSet && u.Spec.MessageKey != "" {
		key, err := hex.DecodeString(u.Spec.MessageKey)
		if err != nil {
			return nil, fmt.Errorf("message key: %w", err)
		}
		b = append(b, headMessageKey)
		if b, err = appendVL(b, key); err != nil {
			return nil, err
		}
	}

	b = append(b, headSigningPubKey)
	if b, err = appendVL(b, signingPubKey); err != nil {
		return nil, err
	}
	if signature != nil {
		b = append(b, headTxnSignature)
		if b, err = appendVL(b, signature); err != nil {
			return nil, err
		}
	}

	b = append(b, headAccount)
	if b, err = appendVL(b, accountID); err != nil {
		return nil, err
	}
	if u.Spec.Type == TypePayment {
		destID, err := identity.DecodeAddress(u.Spec.Destination)
		if err != nil {
			return nil, fmt.Errorf("destination: %w", err)
		}
		b = append(b, headDestination)
		if b, err = appendVL(b, destID); err != nil {
			return nil, err
		}
	}

	if len(u.Spec.Memos) > 0 {
		if b, err = appendMemos(b, u.Spec.Memos); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func appendMemos(b []byte, memos []memo.Memo) ([]byte, error) {
	b = append(b, headMemos)
	for i, m := range memos {
		fields := [...]struct {
			head  byte
			value string
		}{
			{headMemoType, m.Type},
			{headMemoData, m.Data},
			{headMemoFormat, m.Format},
		}
		b = append(b, headMemo)
		for _, f := range fields {
			if f.value == "" {
				continue
			}
			raw, err := hex.DecodeString(f.value)
			if err != nil {
				return nil, fmt.Errorf("memo %d: %w", i, err)
			}
			b = append(b, f.head)
			if b, err = appendVL(b, raw); err != nil {
				return nil, err
			}
		}
		b = append(b, headObjectEnd)
	}
	return append(b, headArrayEnd), nil
}

// appendVL writes a length-prefixed variable field. The prefix encodes
// the length in one to three bytes depending on magnitude.
func appendVL(b, data []byte) ([]byte, error) {
	n := len(data)
	switch {
	case n <= 192:
		b = append(b, byte(n))
	case n <= 12480:
		n -= 193
		b = append(b, byte(193+(n>>8)), byte(n&0xFF))
	case n <= maxVLSize:
		n -= 12481
		b = append(b, byte(241+(n>>16)), byte((n>>8)&0xFF), byte(n&0xFF))
	default:
		return nil, fmt.Errorf("field of %d bytes exceeds the wire limit", n)
	}
	return append(b, data...), nil
}

// sha512Half is the ledger's standard digest: the first half of SHA-512.
func sha512Half(data ...[]byte) []byte {
	h := sha512.New()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)[:sha512.Size/2]
}
