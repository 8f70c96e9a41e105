package keys

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ledgermsg/go-node/internal/ledger"
)

var (
	// ErrNoEncryptionKey means neither the account's message key field
	// nor its signing history yields a usable X25519 key.
	ErrNoEncryptionKey = errors.New("keys: no encryption key for account")
	// ErrInvalidMessageKey means a published message key field exists
	// but cannot be decoded.
	ErrInvalidMessageKey = errors.New("keys: malformed message key")
)

const (
	encryptionKeySize = 32
	// Hex length of a 33-byte prefixed ledger key field.
	prefixedHexLen = 66
	// Hex length of a bare 32-byte key.
	bareHexLen = 64

	keyFamilyPrefixHex = "ED"

	defaultCacheTTL = 5 * time.Minute
)

// AccountReader is the slice of the ledger client the resolver needs.
type AccountReader interface {
	AccountInfo(ctx context.Context, address string) (ledger.AccountInfo, error)
	SigningPublicKey(ctx context.Context, address string) (string, error)
}

type cacheEntry struct {
	key     []byte
	expires time.Time
}

// Resolver finds encryption keys for ledger accounts and caches hits.
// Failures are never cached: a peer may publish a key at any moment.
type Resolver struct {
	reader AccountReader
	log    *slog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewResolver(reader AccountReader, ttl time.Duration, logger *slog.Logger) *Resolver {
	return newResolverWithClock(reader, ttl, logger, time.Now)
}

func newResolverWithClock(reader AccountReader, ttl time.Duration, logger *slog.Logger, now func() time.Time) *Resolver {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		reader: reader,
		log:    logger,
		ttl:    ttl,
		now:    now,
		cache:  make(map[string]cacheEntry),
	}
}

// Resolve returns the X25519 public key to encrypt to for address. The
// published message key field wins; a missing or unusable field falls
// back to converting the account's signing key. Transport failures
// propagate unchanged so callers can retry, and only a genuine absence
// of both sources maps to ErrNoEncryptionKey.
func (r *Resolver) Resolve(ctx context.Context, address string) ([]byte, error) {
	if key, ok := r.cached(address); ok {
		return key, nil
	}

	info, err := r.reader.AccountInfo(ctx, address)
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		return nil, fmt.Errorf("%w: %s", ErrNoEncryptionKey, address)
	case err != nil:
		return nil, err
	}

	if info.MessageKey != "" {
		key, err := DecodeMessageKey(info.MessageKey)
		if err == nil {
			return r.store(address, key), nil
		}
		r.log.Debug("published message key unusable, falling back to signing key",
			"account", address, "error", err)
	}

	signingHex, err := r.reader.SigningPublicKey(ctx, address)
	switch {
	case errors.Is(err, ledger.ErrNoSigningKey), errors.Is(err, ledger.ErrAccountNotFound):
		return nil, fmt.Errorf("%w: %s", ErrNoEncryptionKey, address)
	case err != nil:
		return nil, err
	}

	key, err := convertSigningHex(signingHex)
	if err != nil {
		r.log.Debug("signing key not convertible", "account", address, "error", err)
		return nil, fmt.Errorf("%w: %s", ErrNoEncryptionKey, address)
	}
	return r.store(address, key), nil
}

// DecodeMessageKey parses a published message key field. The on-ledger
// field holds 33 bytes, a key family prefix and the key itself; a bare
// 32-byte key is accepted as-is. The prefix is stripped only when the
// length proves it is really a prefix.
func DecodeMessageKey(field string) ([]byte, error) {
	field = strings.TrimSpace(field)
	switch len(field) {
	case prefixedHexLen:
		if !strings.EqualFold(field[:2], keyFamilyPrefixHex) {
			return nil, fmt.Errorf("%w: unknown key family %q", ErrInvalidMessageKey, field[:2])
		}
		field = field[2:]
	case bareHexLen:
		// Already a bare key.
	default:
		return nil, fmt.Errorf("%w: %d hex chars", ErrInvalidMessageKey, len(field))
	}
	key, err := hex.DecodeString(field)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessageKey, err)
	}
	if len(key) != encryptionKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidMessageKey, len(key))
	}
	return key, nil
}

// convertSigningHex turns a history SigningPubKey field into an X25519
// key. Only prefixed Ed25519 keys convert: a bare 64-char field does
// not name its key family, and other families have no Montgomery form.
func convertSigningHex(field string) ([]byte, error) {
	if len(field) != prefixedHexLen || !strings.EqualFold(field[:2], keyFamilyPrefixHex) {
		return nil, fmt.Errorf("%w: not a prefixed ed25519 key", ErrNotConvertible)
	}
	pub, err := hex.DecodeString(field[2:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConvertible, err)
	}
	return ConvertEdwardsPublicKey(pub)
}

func (r *Resolver) cached(address string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[address]
	if !ok || r.now().After(entry.expires) {
		return nil, false
	}
	return append([]byte(nil), entry.key...), true
}

func (r *Resolver) store(address string, key []byte) []byte {
	r.mu.Lock()
	r.cache[address] = cacheEntry{
		key:     append([]byte(nil), key...),
		expires: r.now().Add(r.ttl),
	}
	r.mu.Unlock()
	return append([]byte(nil), key...)
}
