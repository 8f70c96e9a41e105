package daemon

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const storagePassphraseEnv = "LEDGERMSG_STORAGE_PASSPHRASE"

// StoragePassphrase resolves the secret that encrypts node state under
// dataDir. The environment wins, then an existing storage.key file; a
// node starting with neither generates a key and persists it so the
// next start can reopen its own state.
func StoragePassphrase(dataDir string) (string, error) {
	if secret := strings.TrimSpace(os.Getenv(storagePassphraseEnv)); secret != "" {
		return secret, nil
	}
	keyPath := filepath.Join(dataDir, "storage.key")
	existing, err := os.ReadFile(keyPath)
	if err == nil {
		if secret := strings.TrimSpace(string(existing)); secret != "" {
			return secret, nil
		}
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := base64.RawStdEncoding.EncodeToString(buf)
	if err := WriteStorageKey(dataDir, secret); err != nil {
		return "", err
	}
	return secret, nil
}

// WriteStorageKey persists the storage secret as a private file under
// dataDir.
func WriteStorageKey(dataDir, secret string) error {
	keyPath := filepath.Join(dataDir, "storage.key")
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(keyPath, []byte(secret), 0o600)
}
