package identity

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"ledgermsg/go-node/internal/securestore"

	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidMnemonic    = errors.New("invalid mnemonic")
	ErrMnemonicRequired   = errors.New("mnemonic is required")
	ErrPassphraseRequired = errors.New("passphrase is required")
	ErrWalletNotFound     = errors.New("wallet file not found")
	ErrWalletExists       = errors.New("wallet file already exists")
)

const walletVersion = 1

type walletFile struct {
	Version uint32 `json:"version"`
	Seed    []byte `json:"seed"`
}

// Wallet persists the identity seed encrypted under a passphrase.
type Wallet struct {
	path string
}

func NewWallet(path string) *Wallet {
	return &Wallet{path: path}
}

func (w *Wallet) Exists() bool {
	_, err := os.Stat(w.path)
	return err == nil
}

// Create generates a fresh seed, stores it, and returns the backup
// mnemonic alongside the derived identity. Refuses to overwrite an
// existing wallet.
func (w *Wallet) Create(passphrase string) (string, *Identity, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", nil, err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, err
	}
	id, err := w.Import(mnemonic, passphrase)
	if err != nil {
		return "", nil, err
	}
	return mnemonic, id, nil
}

// Import recovers an identity from a backup mnemonic and stores its seed.
func (w *Wallet) Import(mnemonic, passphrase string) (*Identity, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, ErrPassphraseRequired
	}
	if w.Exists() {
		return nil, ErrWalletExists
	}
	seed, err := SeedFromMnemonic(mnemonic)
	if err != nil {
		return nil, err
	}
	id, err := FromSeed(seed)
	if err != nil {
		return nil, err
	}
	if err := securestore.WriteEncryptedJSON(w.path, passphrase, walletFile{Version: walletVersion, Seed: seed}); err != nil {
		return nil, err
	}
	return id, nil
}

// Load decrypts the stored seed and derives the identity. A wrong
// passphrase surfaces as securestore.ErrAuthFailed, never as a parse
// error.
func (w *Wallet) Load(passphrase string) (*Identity, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, ErrPassphraseRequired
	}
	var file walletFile
	if err := securestore.ReadEncryptedJSON(w.path, passphrase, &file); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	if file.Version != walletVersion {
		return nil, fmt.Errorf("unsupported wallet version %d", file.Version)
	}
	return FromSeed(file.Seed)
}

// SeedFromMnemonic maps a backup mnemonic to the 32-byte identity seed:
// the first half of the bip39 seed with an empty bip39 passphrase.
func SeedFromMnemonic(mnemonic string) ([]byte, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return nil, ErrMnemonicRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	return bip39.NewSeed(mnemonic, "")[:SeedSize], nil
}
