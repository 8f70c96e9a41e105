package txflow

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"ledgermsg/go-node/internal/identity"
	"ledgermsg/go-node/internal/memo"
)

func TestSerializePaymentCanonicalLayout(t *testing.T) {
	sender := testSigner(t, 7)
	receiver := testSigner(t, 8)
	m := memo.Memo{Type: memo.PointerMemoType, Format: memo.PointerMemoFormat, Data: "DEADBEEF"}
	u := Unsigned{
		Spec: TxSpec{
			Type:        TypePayment,
			Account:     addressOf(sender),
			Destination: addressOf(receiver),
			DropsAmount: 1,
			Memos:       []memo.Memo{m},
		},
		Sequence:           7,
		LastLedgerSequence: 900120,
		FeeDrops:           10,
		NetworkID:          21337,
	}
	pub := sender.PrefixedSigningKey()
	sig := bytes.Repeat([]byte{0xAA}, 64)

	blob, err := serialize(u, pub, sig)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	r := &blobReader{t: t, b: blob}
	r.expect(headTransactionType)
	if got := r.readUint16(); got != uint16(TypePayment) {
		t.Fatalf("transaction type = %d", got)
	}
	r.expect(headNetworkID)
	if got := r.readUint32(); got != 21337 {
		t.Fatalf("network id = %d", got)
	}
	r.expect(headFlags)
	if got := r.readUint32(); got != canonicalSigFlag {
		t.Fatalf("flags = %#x", got)
	}
	r.expect(headSequence)
	if got := r.readUint32(); got != 7 {
		t.Fatalf("sequence = %d", got)
	}
	r.expect(headLastLedgerSequence...)
	if got := r.readUint32(); got != 900120 {
		t.Fatalf("last ledger sequence = %d", got)
	}
	r.expect(headAmount)
	if got := r.readUint64(); got != nativeAmountBit|1 {
		t.Fatalf("amount = %#x", got)
	}
	r.expect(headFee)
	if got := r.readUint64(); got != nativeAmountBit|10 {
		t.Fatalf("fee = %#x", got)
	}
	r.expect(headSigningPubKey)
	if got := r.readVL(); !bytes.Equal(got, pub) {
		t.Fatalf("signing pub key = %x", got)
	}
	r.expect(headTxnSignature)
	if got := r.readVL(); !bytes.Equal(got, sig) {
		t.Fatalf("signature = %x", got)
	}
	r.expect(headAccount)
	if got := r.readVL(); !bytes.Equal(got, identity.AccountID(sender.SigningPublicKey)) {
		t.Fatalf("account id = %x", got)
	}
	r.expect(headDestination)
	if got := r.readVL(); !bytes.Equal(got, identity.AccountID(receiver.SigningPublicKey)) {
		t.Fatalf("destination id = %x", got)
	}
	r.expect(headMemos, headMemo)
	r.expect(headMemoType)
	r.expectVLHex(m.Type)
	r.expect(headMemoData)
	r.expectVLHex(m.Data)
	r.expect(headMemoFormat)
	r.expectVLHex(m.Format)
	r.expect(headObjectEnd, headArrayEnd)
	r.done()
}

func TestSerializeAccountSetLayout(t *testing.T) {
	signer := testSigner(t, 9)
	messageKey := "ED" + hex.EncodeToString(bytes.Repeat([]byte{0x11}, 32))
	u := Unsigned{
		Spec: TxSpec{
			Type:       TypeAccountSet,
			Account:    addressOf(signer),
			MessageKey: messageKey,
		},
		Sequence:           3,
		LastLedgerSequence: 500,
		FeeDrops:           12,
	}
	pub := signer.PrefixedSigningKey()

	blob, err := serialize(u, pub, nil)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	r := &blobReader{t: t, b: blob}
	r.expect(headTransactionType)
	if got := r.readUint16(); got != uint16(TypeAccountSet) {
		t.Fatalf("transaction type = %d", got)
	}
	// No NetworkID: flags follow directly.
	r.expect(headFlags)
	r.readUint32()
	r.expect(headSequence)
	r.readUint32()
	r.expect(headLastLedgerSequence...)
	r.readUint32()
	// No Amount on an AccountSet.
	r.expect(headFee)
	r.readUint64()
	r.expect(headMessageKey)
	r.expectVLHex(messageKey)
	r.expect(headSigningPubKey)
	if got := r.readVL(); !bytes.Equal(got, pub) {
		t.Fatalf("signing pub key = %x", got)
	}
	// Unsigned form: no TxnSignature field.
	r.expect(headAccount)
	r.readVL()
	r.done()
}

func TestSerializeOmitsEmptyMemoFormat(t *testing.T) {
	signer := testSigner(t, 10)
	u := Unsigned{
		Spec: TxSpec{
			Type:        TypePayment,
			Account:     addressOf(signer),
			Destination: addressOf(signer),
			DropsAmount: 1,
			Memos:       []memo.Memo{{Type: "AB", Data: "CD"}},
		},
		Sequence:           1,
		LastLedgerSequence: 2,
		FeeDrops:           10,
	}

	blob, err := serialize(u, signer.PrefixedSigningKey(), nil)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	// The memo object must close right after the data field.
	if !bytes.Contains(blob, []byte{headMemo, headMemoType, 0x01, 0xAB, headMemoData, 0x01, 0xCD, headObjectEnd}) {
		t.Fatalf("memo object layout wrong: %x", blob)
	}
}

func TestSerializeRejectsBadAddresses(t *testing.T) {
	signer := testSigner(t, 11)
	u := Unsigned{
		Spec: TxSpec{
			Type:        TypePayment,
			Account:     "not-an-address",
			Destination: addressOf(signer),
			DropsAmount: 1,
		},
	}
	if _, err := serialize(u, signer.PrefixedSigningKey(), nil); err == nil {
		t.Fatal("serialize accepted a malformed account address")
	}

	u.Spec.Account = addressOf(signer)
	u.Spec.Destination = "rShortJunk"
	if _, err := serialize(u, signer.PrefixedSigningKey(), nil); err == nil {
		t.Fatal("serialize accepted a malformed destination address")
	}
}

func TestAppendVLBoundaries(t *testing.T) {
	cases := []struct {
		length int
		prefix []byte
	}{
		{length: 0, prefix: []byte{0x00}},
		{length: 1, prefix: []byte{0x01}},
		{length: 192, prefix: []byte{0xC0}},
		{length: 193, prefix: []byte{0xC1, 0x00}},
		{length: 300, prefix: []byte{0xC1, 0x6B}},
		{length: 12480, prefix: []byte{0xF0, 0xFF}},
		{length: 12481, prefix: []byte{0xF1, 0x00, 0x00}},
		{length: 918744, prefix: []byte{0xFE, 0xD4, 0x17}},
	}
	for _, tc := range cases {
		data := bytes.Repeat([]byte{0x5A}, tc.length)
		out, err := appendVL(nil, data)
		if err != nil {
			t.Fatalf("length %d: %v", tc.length, err)
		}
		if !bytes.HasPrefix(out, tc.prefix) {
			t.Fatalf("length %d: prefix = %x, want %x", tc.length, out[:len(tc.prefix)], tc.prefix)
		}
		if len(out) != len(tc.prefix)+tc.length {
			t.Fatalf("length %d: total = %d", tc.length, len(out))
		}
	}

	if _, err := appendVL(nil, make([]byte, maxVLSize+1)); err == nil {
		t.Fatal("appendVL accepted an oversized field")
	}
}

type blobReader struct {
	t   *testing.T
	b   []byte
	off int
}

func (r *blobReader) expect(want ...byte) {
	r.t.Helper()
	for _, w := range want {
		if r.off >= len(r.b) {
			r.t.Fatalf("blob truncated at offset %d, want %#02x", r.off, w)
		}
		if got := r.b[r.off]; got != w {
			r.t.Fatalf("offset %d = %#02x, want %#02x", r.off, got, w)
		}
		r.off++
	}
}

func (r *blobReader) take(n int) []byte {
	r.t.Helper()
	if r.off+n > len(r.b) {
		r.t.Fatalf("blob truncated at offset %d, want %d more bytes", r.off, n)
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *blobReader) readUint16() uint16 { return binary.BigEndian.Uint16(r.take(2)) }
func (r *blobReader) readUint32() uint32 { return binary.BigEndian.Uint32(r.take(4)) }
func (r *blobReader) readUint64() uint64 { return binary.BigEndian.Uint64(r.take(8)) }

func (r *blobReader) readVL() []byte {
	r.t.Helper()
	lead := int(r.take(1)[0])
	switch {
	case lead <= 192:
		return r.take(lead)
	case lead <= 240:
		second := int(r.take(1)[0])
		return r.take(193 + (lead-193)<<8 + second)
	default:
		second := int(r.take(1)[0])
		third := int(r.take(1)[0])
		return r.take(12481 + (lead-241)<<16 + second<<8 + third)
	}
}

func (r *blobReader) expectVLHex(wantHex string) {
	r.t.Helper()
	want, err := hex.DecodeString(wantHex)
	if err != nil {
		r.t.Fatalf("bad expectation %q: %v", wantHex, err)
	}
	if got := r.readVL(); !bytes.Equal(got, want) {
		r.t.Fatalf("offset %d: field = %x, want %x", r.off, got, want)
	}
}

func (r *blobReader) done() {
	r.t.Helper()
	if r.off != len(r.b) {
		r.t.Fatalf("%d trailing bytes after expected layout", len(r.b)-r.off)
	}
}

func testSigner(t *testing.T, fill byte) *identity.Identity {
	t.Helper()
	id, err := identity.FromSeed(bytes.Repeat([]byte{fill}, identity.SeedSize))
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	return id
}

func addressOf(id *identity.Identity) string {
	return identity.EncodeAddress(identity.AccountID(id.SigningPublicKey))
}
