package securestore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	data, err := Encrypt("pass", []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	plain, err := Decrypt("pass", data)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if string(plain) != "secret" {
		t.Fatalf("unexpected plaintext: %q", string(plain))
	}
}

func TestDecryptWrongPassphraseFailsAuth(t *testing.T) {
	data, err := Encrypt("pass", []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := Decrypt("other", data); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestDecryptTamperedFailsAuth(t *testing.T) {
	data, err := Encrypt("pass", []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	data[len(data)-2] ^= 0xFF
	_, err = Decrypt("pass", data)
	if !errors.Is(err, ErrAuthFailed) && !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrAuthFailed or ErrInvalid, got %v", err)
	}
}

func TestDecryptRejectsUnmarkedData(t *testing.T) {
	if _, err := Decrypt("pass", []byte(`{"version":1}`)); !errors.Is(err, ErrNotEncrypted) {
		t.Fatalf("expected ErrNotEncrypted, got %v", err)
	}
}

func TestEncryptedJSONFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "cursor.enc")
	type state struct {
		Index uint64 `json:"index"`
	}
	if err := WriteEncryptedJSON(path, "pass", state{Index: 42}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected file perm 0600, got %04o", info.Mode().Perm())
	}

	var got state
	if err := ReadEncryptedJSON(path, "pass", &got); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.Index != 42 {
		t.Fatalf("unexpected state: %+v", got)
	}
}
