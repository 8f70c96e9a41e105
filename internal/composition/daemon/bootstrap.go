// Package daemon wires resolved configuration into a running node:
// state paths under the data dir, the storage secret, and the full
// subsystem graph behind the agent runtime. Both the daemon and the
// CLI build through this package so a wallet written by one is always
// readable by the other.
package daemon

import (
	"os"
	"path/filepath"
	"strings"

	"ledgermsg/go-node/internal/storage"
)

// ResolveDataDir defaults an unset data dir to ~/.ledgermsg. Without a
// resolvable home the node falls back to a relative .ledgermsg so it
// still starts in minimal containers.
func ResolveDataDir(dataDir string) string {
	if dir := strings.TrimSpace(dataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ledgermsg"
	}
	return filepath.Join(home, ".ledgermsg")
}

// WalletPath is where the encrypted identity seed lives under dataDir.
func WalletPath(dataDir string) string {
	return filepath.Join(dataDir, "wallet.enc")
}

// ResolveState opens the scan cursor store under dataDir. With encrypt
// set, the snapshot is sealed behind the storage key so checkpoints
// never reveal plaintext account activity at rest.
func ResolveState(dataDir string, encrypt bool) (*storage.CheckpointStore, error) {
	path := filepath.Join(dataDir, "checkpoints.json")
	if !encrypt {
		return storage.NewPersistentCheckpointStore(path)
	}
	secret, err := StoragePassphrase(dataDir)
	if err != nil {
		return nil, err
	}
	return storage.NewEncryptedPersistentCheckpointStore(path, secret)
}
