package securestore

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// WriteEncryptedJSON marshals and encrypts v, then writes it with
// private permissions, creating parent directories as needed.
func WriteEncryptedJSON(path, passphrase string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	encrypted, err := Encrypt(passphrase, payload)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, encrypted, 0o600)
}

// ReadEncryptedJSON reads, decrypts and unmarshals a file written by
// WriteEncryptedJSON.
func ReadEncryptedJSON(path, passphrase string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	plaintext, err := Decrypt(passphrase, raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(plaintext, v)
}
