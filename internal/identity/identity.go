// Package identity derives the node's ledger identity from a secret seed:
// the ed25519 signing keypair, the X25519 encryption keypair, and the
// account address.
package identity

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/curve25519"
)

var ErrInvalidSeed = errors.New("seed must be 32 bytes")

const SeedSize = ed25519.SeedSize

// keyFamilyPrefix marks an Edwards-family key in the ledger's 33-byte
// key fields.
const keyFamilyPrefix = 0xED

// Identity is immutable for the process lifetime. Private key material
// never leaves the process boundary.
type Identity struct {
	Address              string
	SigningPrivateKey    ed25519.PrivateKey
	SigningPublicKey     ed25519.PublicKey
	EncryptionPrivateKey []byte
	EncryptionPublicKey  []byte
}

// FromSeed derives the full identity. The encryption scalar is the same
// scalar ed25519 derives from the seed, so the encryption public key is
// the Montgomery form of the on-ledger signing key and peers can recover
// it from the signing key alone.
func FromSeed(seed []byte) (*Identity, error) {
	if len(seed) != SeedSize {
		return nil, ErrInvalidSeed
	}
	signingPriv := ed25519.NewKeyFromSeed(seed)
	signingPub := signingPriv.Public().(ed25519.PublicKey)

	h := sha512.Sum512(seed)
	encPriv := clampScalar(h[:32])
	encPub, err := curve25519.X25519(encPriv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	return &Identity{
		Address:              EncodeAddress(AccountID(signingPub)),
		SigningPrivateKey:    signingPriv,
		SigningPublicKey:     signingPub,
		EncryptionPrivateKey: encPriv,
		EncryptionPublicKey:  encPub,
	}, nil
}

// Sign signs a raw payload with the identity's signing key.
func (id *Identity) Sign(payload []byte) []byte {
	return ed25519.Sign(id.SigningPrivateKey, payload)
}

// SigningPublicKeyHex is the 33-byte ledger form of the signing key:
// family prefix byte plus the raw key, upper-case hex.
func (id *Identity) SigningPublicKeyHex() string {
	return prefixedKeyHex(id.SigningPublicKey)
}

// PrefixedSigningKey is the same 33-byte form as raw bytes, for binary
// transaction fields.
func (id *Identity) PrefixedSigningKey() []byte {
	buf := make([]byte, 0, 1+len(id.SigningPublicKey))
	buf = append(buf, keyFamilyPrefix)
	return append(buf, id.SigningPublicKey...)
}

// MessageKeyHex is the value published in the account's message key
// field: the encryption public key in the same 33-byte prefixed form the
// field requires.
func (id *Identity) MessageKeyHex() string {
	return prefixedKeyHex(id.EncryptionPublicKey)
}

func prefixedKeyHex(key []byte) string {
	buf := make([]byte, 0, 1+len(key))
	buf = append(buf, keyFamilyPrefix)
	buf = append(buf, key...)
	return strings.ToUpper(hex.EncodeToString(buf))
}

func clampScalar(b []byte) []byte {
	out := append([]byte(nil), b...)
	out[0] &= 248
	out[31] &= 127
	out[31] |= 64
	return out
}
