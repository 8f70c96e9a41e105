package identity

import (
	"bytes"
	"crypto/rand"
	"errors"
	"strings"
	"testing"

	"ledgermsg/go-node/internal/keys"
	"ledgermsg/go-node/internal/securestore"

	"golang.org/x/crypto/curve25519"
)

func testSeed(t *testing.T) []byte {
	t.Helper()
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		t.Fatalf("rand failed: %v", err)
	}
	return seed
}

func TestFromSeedDeterministic(t *testing.T) {
	seed := testSeed(t)
	a, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("derive 1 failed: %v", err)
	}
	b, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("derive 2 failed: %v", err)
	}
	if !bytes.Equal(a.SigningPublicKey, b.SigningPublicKey) {
		t.Fatal("signing keys must be deterministic")
	}
	if !bytes.Equal(a.EncryptionPublicKey, b.EncryptionPublicKey) {
		t.Fatal("encryption keys must be deterministic")
	}
	if a.Address != b.Address {
		t.Fatalf("addresses must be deterministic: %s != %s", a.Address, b.Address)
	}
}

func TestFromSeedRejectsBadLength(t *testing.T) {
	if _, err := FromSeed([]byte("short")); !errors.Is(err, ErrInvalidSeed) {
		t.Fatalf("expected ErrInvalidSeed, got %v", err)
	}
}

func TestEncryptionKeyPairIsUsable(t *testing.T) {
	id, err := FromSeed(testSeed(t))
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	pub, err := curve25519.X25519(id.EncryptionPrivateKey, curve25519.Basepoint)
	if err != nil {
		t.Fatalf("scalar mult failed: %v", err)
	}
	if !bytes.Equal(pub, id.EncryptionPublicKey) {
		t.Fatal("encryption public key must match its private scalar")
	}
}

func TestEncryptionKeyMatchesSigningKeyConversion(t *testing.T) {
	// Peers that only see the on-ledger signing key must arrive at the
	// same encryption key the identity derives locally.
	id, err := FromSeed(testSeed(t))
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	converted, err := keys.ConvertEdwardsPublicKey(id.SigningPublicKey)
	if err != nil {
		t.Fatalf("conversion failed: %v", err)
	}
	if !bytes.Equal(converted, id.EncryptionPublicKey) {
		t.Fatal("converted signing key must equal the derived encryption key")
	}
}

func TestPrefixedKeyHexForms(t *testing.T) {
	id, err := FromSeed(testSeed(t))
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	for name, hexKey := range map[string]string{
		"signing": id.SigningPublicKeyHex(),
		"message": id.MessageKeyHex(),
	} {
		if len(hexKey) != 66 {
			t.Fatalf("%s key hex must be 66 chars, got %d", name, len(hexKey))
		}
		if !strings.HasPrefix(hexKey, "ED") {
			t.Fatalf("%s key hex must carry the family prefix: %s", name, hexKey)
		}
		if hexKey != strings.ToUpper(hexKey) {
			t.Fatalf("%s key hex must be upper-case: %s", name, hexKey)
		}
	}
}

func TestAddressRoundTrip(t *testing.T) {
	id, err := FromSeed(testSeed(t))
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	if !strings.HasPrefix(id.Address, "r") {
		t.Fatalf("address must start with r: %s", id.Address)
	}
	accountID, err := DecodeAddress(id.Address)
	if err != nil {
		t.Fatalf("decode address failed: %v", err)
	}
	if !bytes.Equal(accountID, AccountID(id.SigningPublicKey)) {
		t.Fatal("decoded account id mismatch")
	}
}

func TestDecodeAddressRejectsCorruption(t *testing.T) {
	id, err := FromSeed(testSeed(t))
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	addr := id.Address

	cases := map[string]string{
		"empty":         "",
		"not base58":    "r0OIl" + addr[5:],
		"bad checksum":  addr[:len(addr)-1] + flipBase58Char(addr[len(addr)-1]),
		"short payload": "rr",
	}
	for name, bad := range cases {
		if _, err := DecodeAddress(bad); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("%s: expected ErrInvalidAddress, got %v", name, err)
		}
	}
}

func flipBase58Char(c byte) string {
	if c == 'r' {
		return "p"
	}
	return "r"
}

func TestWalletCreateLoadRoundTrip(t *testing.T) {
	path := t.TempDir() + "/wallet.enc"
	w := NewWallet(path)

	mnemonic, created, err := w.Create("pass")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if len(strings.Fields(mnemonic)) != 24 {
		t.Fatalf("expected 24-word mnemonic, got %d words", len(strings.Fields(mnemonic)))
	}

	loaded, err := w.Load("pass")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Address != created.Address {
		t.Fatalf("loaded identity mismatch: %s != %s", loaded.Address, created.Address)
	}
}

func TestWalletLoadWrongPassphraseFailsAuth(t *testing.T) {
	path := t.TempDir() + "/wallet.enc"
	w := NewWallet(path)
	if _, _, err := w.Create("pass"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := w.Load("wrong"); !errors.Is(err, securestore.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestWalletRefusesOverwrite(t *testing.T) {
	path := t.TempDir() + "/wallet.enc"
	w := NewWallet(path)
	if _, _, err := w.Create("pass"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, _, err := w.Create("pass"); !errors.Is(err, ErrWalletExists) {
		t.Fatalf("expected ErrWalletExists, got %v", err)
	}
}

func TestWalletLoadMissingFile(t *testing.T) {
	w := NewWallet(t.TempDir() + "/nope.enc")
	if _, err := w.Load("pass"); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestMnemonicRecoveryIsDeterministic(t *testing.T) {
	dirA := t.TempDir()
	wA := NewWallet(dirA + "/wallet.enc")
	mnemonic, created, err := wA.Create("pass")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	wB := NewWallet(dirA + "/recovered.enc")
	recovered, err := wB.Import(mnemonic, "other-pass")
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if recovered.Address != created.Address {
		t.Fatalf("recovered identity mismatch: %s != %s", recovered.Address, created.Address)
	}
}

func TestSeedFromMnemonicRejectsGarbage(t *testing.T) {
	if _, err := SeedFromMnemonic("   "); !errors.Is(err, ErrMnemonicRequired) {
		t.Fatalf("expected ErrMnemonicRequired, got %v", err)
	}
	if _, err := SeedFromMnemonic("notted words words words"); !errors.Is(err, ErrInvalidMnemonic) {
		t.Fatalf("expected ErrInvalidMnemonic, got %v", err)
	}
}
