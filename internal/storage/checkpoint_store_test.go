package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"ledgermsg/go-node/internal/securestore"
)

func TestCheckpointRoundTripAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.json")
	store, err := NewPersistentCheckpointStore(path)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	if err := store.Save(Checkpoint{
		Account:     "rScanner",
		LedgerIndex: 90101,
		Marker:      json.RawMessage(`{"ledger":90100,"seq":4}`),
	}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	reopened, err := NewPersistentCheckpointStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, ok := reopened.Get("rScanner")
	if !ok {
		t.Fatal("checkpoint not found after reopen")
	}
	if got.LedgerIndex != 90101 {
		t.Fatalf("ledger index = %d", got.LedgerIndex)
	}
	if string(got.Marker) != `{"ledger":90100,"seq":4}` {
		t.Fatalf("marker = %s", got.Marker)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("updated-at must be stamped")
	}
}

func TestCheckpointSaveRejectsRegression(t *testing.T) {
	store := NewCheckpointStore()
	if err := store.Save(Checkpoint{Account: "rA", LedgerIndex: 200}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Save(Checkpoint{Account: "rA", LedgerIndex: 150}); !errors.Is(err, ErrCheckpointRegression) {
		t.Fatalf("expected ErrCheckpointRegression, got %v", err)
	}
	// Same index with a fresh marker is a mid-window update, not a
	// regression.
	if err := store.Save(Checkpoint{Account: "rA", LedgerIndex: 200, Marker: json.RawMessage(`{"seq":9}`)}); err != nil {
		t.Fatalf("same-index save failed: %v", err)
	}
	got, _ := store.Get("rA")
	if string(got.Marker) != `{"seq":9}` {
		t.Fatalf("marker = %s", got.Marker)
	}
}

func TestCheckpointSaveRollbackOnPersistError(t *testing.T) {
	store := &CheckpointStore{
		checkpoints: make(map[string]Checkpoint),
		path:        t.TempDir(), // directory path forces os.WriteFile error
	}
	if err := store.Save(Checkpoint{Account: "rA", LedgerIndex: 5}); err == nil {
		t.Fatal("expected save error")
	}
	if _, ok := store.Get("rA"); ok {
		t.Fatal("checkpoint must not stay in memory after persist failure")
	}
}

func TestCheckpointDeleteResetsAccount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.json")
	store, err := NewPersistentCheckpointStore(path)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	for _, cp := range []Checkpoint{
		{Account: "rA", LedgerIndex: 10},
		{Account: "rB", LedgerIndex: 20},
	} {
		if err := store.Save(cp); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	deleted, err := store.Delete("rA")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !deleted {
		t.Fatal("expected rA to be deleted")
	}
	if deleted, _ := store.Delete("rA"); deleted {
		t.Fatal("second delete must report absence")
	}

	// After the reset the cursor may legitimately start over.
	if err := store.Save(Checkpoint{Account: "rA", LedgerIndex: 1}); err != nil {
		t.Fatalf("post-reset save failed: %v", err)
	}

	reopened, err := NewPersistentCheckpointStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if got, _ := reopened.Get("rA"); got.LedgerIndex != 1 {
		t.Fatalf("rA ledger index = %d", got.LedgerIndex)
	}
	if got, _ := reopened.Get("rB"); got.LedgerIndex != 20 {
		t.Fatalf("rB ledger index = %d", got.LedgerIndex)
	}
}

func TestEncryptedCheckpointTamperFailsAuth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.enc")
	store, err := NewEncryptedPersistentCheckpointStore(path, "pass")
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	if err := store.Save(Checkpoint{Account: "rA", LedgerIndex: 7}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file failed: %v", err)
	}
	data[len(data)-3] ^= 0xFF
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write tampered file failed: %v", err)
	}

	_, err = NewEncryptedPersistentCheckpointStore(path, "pass")
	if !errors.Is(err, securestore.ErrAuthFailed) && !errors.Is(err, securestore.ErrInvalid) {
		t.Fatalf("expected ErrAuthFailed or ErrInvalid, got %v", err)
	}
}

func TestEncryptedCheckpointWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.enc")
	store, err := NewEncryptedPersistentCheckpointStore(path, "right")
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	if err := store.Save(Checkpoint{Account: "rA", LedgerIndex: 7}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	_, err = NewEncryptedPersistentCheckpointStore(path, "wrong")
	if !errors.Is(err, securestore.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestCheckpointPlaintextFileUpgradesOnSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.json")
	plain, err := NewPersistentCheckpointStore(path)
	if err != nil {
		t.Fatalf("new plain store failed: %v", err)
	}
	if err := plain.Save(Checkpoint{Account: "rA", LedgerIndex: 33}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// Opening the plaintext file with a passphrase configured must work,
	// and the next save must leave the file encrypted.
	upgraded, err := NewEncryptedPersistentCheckpointStore(path, "pass")
	if err != nil {
		t.Fatalf("open with passphrase failed: %v", err)
	}
	if got, ok := upgraded.Get("rA"); !ok || got.LedgerIndex != 33 {
		t.Fatalf("plaintext contents lost: %+v ok=%v", got, ok)
	}
	if err := upgraded.Save(Checkpoint{Account: "rA", LedgerIndex: 34}); err != nil {
		t.Fatalf("upgrading save failed: %v", err)
	}

	if _, err := NewPersistentCheckpointStore(path); err == nil {
		t.Fatal("file must no longer read as plaintext")
	}
	reopened, err := NewEncryptedPersistentCheckpointStore(path, "pass")
	if err != nil {
		t.Fatalf("reopen encrypted failed: %v", err)
	}
	if got, _ := reopened.Get("rA"); got.LedgerIndex != 34 {
		t.Fatalf("ledger index = %d", got.LedgerIndex)
	}
}

func TestCheckpointAbsentFileMeansEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never-written.json")
	store, err := NewPersistentCheckpointStore(path)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	if _, ok := store.Get("rA"); ok {
		t.Fatal("expected no checkpoint")
	}
	if len(store.Snapshot()) != 0 {
		t.Fatal("expected empty snapshot")
	}
}

func TestCheckpointMarkerDoesNotAliasCallerSlice(t *testing.T) {
	store := NewCheckpointStore()
	marker := json.RawMessage(`{"seq":1}`)
	if err := store.Save(Checkpoint{Account: "rA", LedgerIndex: 5, Marker: marker}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	marker[2] = 'X'

	got, _ := store.Get("rA")
	if string(got.Marker) != `{"seq":1}` {
		t.Fatalf("stored marker aliased the caller's slice: %s", got.Marker)
	}
	got.Marker[2] = 'Y'
	again, _ := store.Get("rA")
	if string(again.Marker) != `{"seq":1}` {
		t.Fatalf("returned marker aliased the store's slice: %s", again.Marker)
	}
}

func TestCheckpointRejectsInvalidMarker(t *testing.T) {
	store := NewCheckpointStore()
	err := store.Save(Checkpoint{Account: "rA", LedgerIndex: 5, Marker: json.RawMessage(`{"seq":`)})
	if err == nil {
		t.Fatal("expected invalid marker to be rejected")
	}
}

func TestCheckpointStoreCreatesPrivateDir(t *testing.T) {
	baseDir := t.TempDir()
	path := filepath.Join(baseDir, "state", "checkpoints.enc")
	store, err := NewEncryptedPersistentCheckpointStore(path, "pass")
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	if err := store.Save(Checkpoint{Account: "rA", LedgerIndex: 3}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	info, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatalf("stat dir failed: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0o700 {
		t.Fatalf("expected dir perm 0700, got %04o", info.Mode().Perm())
	}
}
