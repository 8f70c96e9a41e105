package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrNoRecipientShard    = errors.New("no recipient shard for this key")
	ErrDecryptionFailed    = errors.New("envelope decryption failed")
	ErrInvalidRecipientKey = errors.New("invalid recipient public key")
	ErrUnsupportedEnvelope = errors.New("unsupported envelope version or algorithm")
)

const (
	envelopeVersion   = 1
	envelopeAlgorithm = "x25519+xchacha20poly1305"

	keySize         = 32
	recipientIDSize = sha256.Size

	wrapInfo = "ledgermsg/wrap/v1"
)

// Envelope is the multi-recipient encrypted container. The payload is
// encrypted once under a random file key; each recipient gets one shard
// wrapping that file key for their public key.
type Envelope struct {
	Version     uint32
	Algorithm   string
	Nonce       []byte
	Ciphertext  []byte
	ContentHash []byte
	Recipients  []RecipientShard
}

// RecipientShard is one recipient's wrapped copy of the file key.
// RecipientID is always derived from the recipient public key, never
// chosen by a caller.
type RecipientShard struct {
	RecipientID        []byte
	EphemeralPublicKey []byte
	WrapNonce          []byte
	WrappedFileKey     []byte
}

// RecipientID derives the shard lookup key for a public key.
func RecipientID(publicKey []byte) []byte {
	sum := sha256.Sum256(publicKey)
	return sum[:]
}

// Seal encrypts plaintext for every distinct key in recipientPublicKeys.
// Every call draws fresh nonces and fresh ephemeral keys; re-sealing the
// same plaintext never reuses either.
func Seal(plaintext []byte, recipientPublicKeys [][]byte) (Envelope, error) {
	if len(recipientPublicKeys) == 0 {
		return Envelope{}, fmt.Errorf("%w: no recipients", ErrInvalidRecipientKey)
	}

	fileKey := make([]byte, keySize)
	if _, err := rand.Read(fileKey); err != nil {
		return Envelope{}, err
	}
	defer zeroBytes(fileKey)

	aead, err := chacha20poly1305.NewX(fileKey)
	if err != nil {
		return Envelope{}, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, headerAAD(envelopeVersion, envelopeAlgorithm))
	contentHash := sha256.Sum256(plaintext)

	env := Envelope{
		Version:     envelopeVersion,
		Algorithm:   envelopeAlgorithm,
		Nonce:       nonce,
		Ciphertext:  ciphertext,
		ContentHash: contentHash[:],
	}

	seen := make(map[string]struct{}, len(recipientPublicKeys))
	for _, pub := range recipientPublicKeys {
		if len(pub) != keySize {
			return Envelope{}, ErrInvalidRecipientKey
		}
		if _, dup := seen[string(pub)]; dup {
			continue
		}
		seen[string(pub)] = struct{}{}

		shard, err := wrapFileKey(fileKey, pub)
		if err != nil {
			return Envelope{}, err
		}
		env.Recipients = append(env.Recipients, shard)
	}
	return env, nil
}

// Open recovers the plaintext for the holder of ownPrivateKey. A missing
// shard surfaces as ErrNoRecipientShard; any authentication failure while
// unwrapping or decrypting surfaces as ErrDecryptionFailed. The two are
// never conflated.
func Open(env Envelope, ownPrivateKey, ownPublicKey []byte) ([]byte, error) {
	if env.Version != envelopeVersion || env.Algorithm != envelopeAlgorithm {
		return nil, fmt.Errorf("%w: version %d algorithm %q", ErrUnsupportedEnvelope, env.Version, env.Algorithm)
	}
	shard, ok := findShard(env, RecipientID(ownPublicKey))
	if !ok {
		return nil, ErrNoRecipientShard
	}

	shared, err := curve25519.X25519(ownPrivateKey, shard.EphemeralPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: key agreement: %v", ErrDecryptionFailed, err)
	}
	wrapKey := deriveWrapKey(shared, shard.EphemeralPublicKey, ownPublicKey)
	defer zeroBytes(wrapKey)

	wrapAEAD, err := chacha20poly1305.NewX(wrapKey)
	if err != nil {
		return nil, err
	}
	fileKey, err := wrapAEAD.Open(nil, shard.WrapNonce, shard.WrappedFileKey, shard.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("%w: file key unwrap", ErrDecryptionFailed)
	}
	defer zeroBytes(fileKey)

	aead, err := chacha20poly1305.NewX(fileKey)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, headerAAD(env.Version, env.Algorithm))
	if err != nil {
		return nil, fmt.Errorf("%w: payload", ErrDecryptionFailed)
	}
	sum := sha256.Sum256(plaintext)
	if !bytes.Equal(sum[:], env.ContentHash) {
		return nil, fmt.Errorf("%w: content hash mismatch", ErrDecryptionFailed)
	}
	return plaintext, nil
}

// HasShardFor reports whether the envelope carries a shard for publicKey.
// Pure membership test; no secret material is touched.
func HasShardFor(env Envelope, publicKey []byte) bool {
	_, ok := findShard(env, RecipientID(publicKey))
	return ok
}

func findShard(env Envelope, recipientID []byte) (RecipientShard, bool) {
	for _, shard := range env.Recipients {
		if bytes.Equal(shard.RecipientID, recipientID) {
			return shard, true
		}
	}
	return RecipientShard{}, false
}

func wrapFileKey(fileKey, recipientPub []byte) (RecipientShard, error) {
	ephPriv := make([]byte, keySize)
	if _, err := rand.Read(ephPriv); err != nil {
		return RecipientShard{}, err
	}
	defer zeroBytes(ephPriv)

	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return RecipientShard{}, err
	}
	shared, err := curve25519.X25519(ephPriv, recipientPub)
	if err != nil {
		return RecipientShard{}, fmt.Errorf("%w: %v", ErrInvalidRecipientKey, err)
	}
	wrapKey := deriveWrapKey(shared, ephPub, recipientPub)
	defer zeroBytes(wrapKey)

	aead, err := chacha20poly1305.NewX(wrapKey)
	if err != nil {
		return RecipientShard{}, err
	}
	wrapNonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(wrapNonce); err != nil {
		return RecipientShard{}, err
	}
	recipientID := RecipientID(recipientPub)
	wrapped := aead.Seal(nil, wrapNonce, fileKey, recipientID)

	return RecipientShard{
		RecipientID:        recipientID,
		EphemeralPublicKey: ephPub,
		WrapNonce:          wrapNonce,
		WrappedFileKey:     wrapped,
	}, nil
}

// deriveWrapKey binds the wrap key to both sides of the agreement so a
// shard cannot be replayed against a different recipient key.
func deriveWrapKey(shared, ephemeralPub, recipientPub []byte) []byte {
	salt := make([]byte, 0, len(ephemeralPub)+len(recipientPub))
	salt = append(salt, ephemeralPub...)
	salt = append(salt, recipientPub...)
	reader := hkdf.New(sha256.New, shared, salt, []byte(wrapInfo))
	out := make([]byte, keySize)
	_, _ = io.ReadFull(reader, out)
	return out
}

func headerAAD(version uint32, algorithm string) []byte {
	b := make([]byte, 0, 5+len(algorithm))
	b = append(b, byte(version>>24), byte(version>>16), byte(version>>8), byte(version))
	b = append(b, 0)
	b = append(b, algorithm...)
	return b
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
