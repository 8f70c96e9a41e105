// Package keys resolves the X25519 encryption key for a ledger account.
// Accounts can publish one explicitly in their message key field; for
// everyone else the key is recovered by converting the Ed25519 signing
// key from their transaction history to its Montgomery form.
package keys

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

var ErrNotConvertible = errors.New("keys: signing key is not convertible")

// ConvertEdwardsPublicKey maps an Ed25519 public key to the X25519 key
// on the birationally equivalent Montgomery curve. An account that
// derives its encryption scalar from the same seed as its signing key
// ends up with exactly this key, so peers need nothing beyond the
// on-ledger signing key to encrypt to it.
func ConvertEdwardsPublicKey(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrNotConvertible, len(pub))
	}
	point, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConvertible, err)
	}
	return point.BytesMontgomery(), nil
}
