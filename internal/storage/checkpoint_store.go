// Package storage persists the node's scan progress. A checkpoint is
// the resumption cursor for one account's transaction history; losing
// it only costs a rescan, but regressing it would re-deliver messages,
// so writes are guarded.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ledgermsg/go-node/internal/securestore"
)

// ErrCheckpointRegression means a save would move an account's cursor
// backwards. Resetting on purpose goes through Delete first.
var ErrCheckpointRegression = errors.New("storage: checkpoint would move backwards")

// Checkpoint records how far scanning has advanced for one account.
// Marker carries the ledger node's opaque mid-window paging token and
// is empty between complete windows.
type Checkpoint struct {
	Account     string          `json:"account"`
	LedgerIndex uint32          `json:"ledger_index"`
	Marker      json.RawMessage `json:"marker,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
	path        string
	secret      string
}

func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{checkpoints: make(map[string]Checkpoint)}
}

func NewPersistentCheckpointStore(path string) (*CheckpointStore, error) {
	return NewEncryptedPersistentCheckpointStore(path, "")
}

func NewEncryptedPersistentCheckpointStore(path, passphrase string) (*CheckpointStore, error) {
	s := &CheckpointStore{
		checkpoints: make(map[string]Checkpoint),
		path:        path,
		secret:      passphrase,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save records an account's cursor. The ledger index may stay equal
// while a mid-window marker changes, but it must never drop.
func (s *CheckpointStore) Save(cp Checkpoint) error {
	if cp.Account == "" {
		return errors.New("storage: checkpoint needs an account")
	}
	if len(cp.Marker) > 0 && !json.Valid(cp.Marker) {
		return fmt.Errorf("storage: checkpoint marker for %s is not valid json", cp.Account)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.checkpoints[cp.Account]; ok && cp.LedgerIndex < existing.LedgerIndex {
		return fmt.Errorf("%w: %s at %d, saving %d",
			ErrCheckpointRegression, cp.Account, existing.LedgerIndex, cp.LedgerIndex)
	}
	cp.Marker = append(json.RawMessage(nil), cp.Marker...)
	cp.UpdatedAt = time.Now().UTC()

	next := cloneCheckpointsMap(s.checkpoints)
	next[cp.Account] = cp
	if err := s.persistSnapshotLocked(next); err != nil {
		return err
	}
	s.checkpoints = next
	return nil
}

// Get returns the stored cursor for an account. A missing entry means
// scanning starts from the beginning of history.
func (s *CheckpointStore) Get(account string) (Checkpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[account]
	if !ok {
		return Checkpoint{}, false
	}
	cp.Marker = append(json.RawMessage(nil), cp.Marker...)
	return cp, true
}

// Delete removes an account's cursor, which resets its next scan to the
// start of history.
func (s *CheckpointStore) Delete(account string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.checkpoints[account]; !ok {
		return false, nil
	}
	next := cloneCheckpointsMap(s.checkpoints)
	delete(next, account)
	if err := s.persistSnapshotLocked(next); err != nil {
		return false, err
	}
	s.checkpoints = next
	return true, nil
}

func (s *CheckpointStore) Snapshot() map[string]Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneCheckpointsMap(s.checkpoints)
}

func (s *CheckpointStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	decoded := data
	if s.secret != "" {
		decoded, err = securestore.Decrypt(s.secret, data)
		if err != nil {
			// A plaintext file from before encryption was configured
			// is readable; it becomes encrypted on the next save.
			if errors.Is(err, securestore.ErrNotEncrypted) {
				decoded = data
			} else {
				return err
			}
		}
	}

	var snapshot struct {
		Checkpoints map[string]Checkpoint `json:"checkpoints"`
	}
	if err := json.Unmarshal(decoded, &snapshot); err != nil {
		return err
	}
	if snapshot.Checkpoints != nil {
		s.checkpoints = snapshot.Checkpoints
	}
	return nil
}

func (s *CheckpointStore) persistSnapshotLocked(checkpoints map[string]Checkpoint) error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	snapshot := struct {
		Checkpoints map[string]Checkpoint `json:"checkpoints"`
	}{
		Checkpoints: checkpoints,
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if s.secret != "" {
		data, err = securestore.Encrypt(s.secret, data)
		if err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0o600)
}

func cloneCheckpointsMap(in map[string]Checkpoint) map[string]Checkpoint {
	out := make(map[string]Checkpoint, len(in))
	for k, v := range in {
		v.Marker = append(json.RawMessage(nil), v.Marker...)
		out[k] = v
	}
	return out
}
