package keys

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"ledgermsg/go-node/internal/identity"
	"ledgermsg/go-node/internal/ledger"
)

func TestResolvePrefersPublishedMessageKey(t *testing.T) {
	published := randomKey(t)
	reader := &fakeReader{
		info: ledger.AccountInfo{MessageKey: "ED" + strings.ToUpper(hex.EncodeToString(published))},
	}
	r := newTestResolver(reader, time.Minute, time.Now)

	key, err := r.Resolve(context.Background(), "rAlice")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !bytes.Equal(key, published) {
		t.Fatal("resolved key does not match published message key")
	}
	if reader.signingCalls != 0 {
		t.Fatal("published key present, signing history must not be probed")
	}
}

func TestResolveFallsBackToSigningKeyConversion(t *testing.T) {
	id := testIdentity(t)
	reader := &fakeReader{
		info:       ledger.AccountInfo{},
		signingKey: id.SigningPublicKeyHex(),
	}
	r := newTestResolver(reader, time.Minute, time.Now)

	key, err := r.Resolve(context.Background(), "rAlice")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !bytes.Equal(key, id.EncryptionPublicKey) {
		t.Fatal("converted signing key must match the locally derived encryption key")
	}
	if reader.signingCalls != 1 {
		t.Fatalf("signing probe count = %d, want 1", reader.signingCalls)
	}
}

func TestResolveUnusableMessageKeyFallsThrough(t *testing.T) {
	id := testIdentity(t)
	for _, bad := range []string{
		strings.Repeat("Z", 64),        // right length, not hex
		"AB" + strings.Repeat("0", 64), // unknown key family
		"ED0011",                       // too short
	} {
		reader := &fakeReader{
			info:       ledger.AccountInfo{MessageKey: bad},
			signingKey: id.SigningPublicKeyHex(),
		}
		r := newTestResolver(reader, time.Minute, time.Now)

		key, err := r.Resolve(context.Background(), "rAlice")
		if err != nil {
			t.Fatalf("Resolve with message key %q: %v", bad, err)
		}
		if !bytes.Equal(key, id.EncryptionPublicKey) {
			t.Fatalf("message key %q: fallback did not reach signing conversion", bad)
		}
	}
}

func TestResolveNeitherSourceYieldsKey(t *testing.T) {
	reader := &fakeReader{
		info:       ledger.AccountInfo{},
		signingErr: ledger.ErrNoSigningKey,
	}
	r := newTestResolver(reader, time.Minute, time.Now)

	_, err := r.Resolve(context.Background(), "rAlice")
	if !errors.Is(err, ErrNoEncryptionKey) {
		t.Fatalf("err = %v, want ErrNoEncryptionKey", err)
	}
}

func TestResolveSecpSigningKeyIsNotConvertible(t *testing.T) {
	reader := &fakeReader{
		info:       ledger.AccountInfo{},
		signingKey: "03" + strings.Repeat("AB", 32),
	}
	r := newTestResolver(reader, time.Minute, time.Now)

	_, err := r.Resolve(context.Background(), "rAlice")
	if !errors.Is(err, ErrNoEncryptionKey) {
		t.Fatalf("err = %v, want ErrNoEncryptionKey", err)
	}
}

func TestResolveUnknownAccount(t *testing.T) {
	reader := &fakeReader{infoErr: ledger.ErrAccountNotFound}
	r := newTestResolver(reader, time.Minute, time.Now)

	_, err := r.Resolve(context.Background(), "rGhost")
	if !errors.Is(err, ErrNoEncryptionKey) {
		t.Fatalf("err = %v, want ErrNoEncryptionKey", err)
	}
}

func TestResolvePropagatesTransportErrors(t *testing.T) {
	reader := &fakeReader{infoErr: fmt.Errorf("%w: boom", ledger.ErrTransport)}
	r := newTestResolver(reader, time.Minute, time.Now)

	_, err := r.Resolve(context.Background(), "rAlice")
	if !errors.Is(err, ledger.ErrTransport) {
		t.Fatalf("err = %v, want wrapped ErrTransport", err)
	}
	if errors.Is(err, ErrNoEncryptionKey) {
		t.Fatal("transport failure must not look like a missing key")
	}
}

func TestResolveCachesSuccessWithTTL(t *testing.T) {
	published := randomKey(t)
	reader := &fakeReader{
		info: ledger.AccountInfo{MessageKey: hex.EncodeToString(published)},
	}
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := newTestResolver(reader, time.Minute, func() time.Time { return clock })

	if _, err := r.Resolve(context.Background(), "rAlice"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := r.Resolve(context.Background(), "rAlice"); err != nil {
		t.Fatalf("cached resolve: %v", err)
	}
	if reader.infoCalls != 1 {
		t.Fatalf("info calls = %d, want cache hit after first", reader.infoCalls)
	}

	clock = clock.Add(2 * time.Minute)
	if _, err := r.Resolve(context.Background(), "rAlice"); err != nil {
		t.Fatalf("post-expiry resolve: %v", err)
	}
	if reader.infoCalls != 2 {
		t.Fatalf("info calls = %d, want refetch after ttl", reader.infoCalls)
	}
}

func TestResolveDoesNotCacheFailures(t *testing.T) {
	reader := &fakeReader{infoErr: ledger.ErrAccountNotFound}
	r := newTestResolver(reader, time.Minute, time.Now)

	for i := 0; i < 2; i++ {
		if _, err := r.Resolve(context.Background(), "rAlice"); !errors.Is(err, ErrNoEncryptionKey) {
			t.Fatalf("resolve %d: %v", i, err)
		}
	}
	if reader.infoCalls != 2 {
		t.Fatalf("info calls = %d, failures must not be cached", reader.infoCalls)
	}

	// The account funds and publishes a key; the next resolve sees it.
	published := randomKey(t)
	reader.infoErr = nil
	reader.info = ledger.AccountInfo{MessageKey: hex.EncodeToString(published)}
	key, err := r.Resolve(context.Background(), "rAlice")
	if err != nil {
		t.Fatalf("resolve after publish: %v", err)
	}
	if !bytes.Equal(key, published) {
		t.Fatal("resolve after publish returned a stale result")
	}
}

func TestMutatingResolvedKeyLeavesCacheIntact(t *testing.T) {
	published := randomKey(t)
	reader := &fakeReader{
		info: ledger.AccountInfo{MessageKey: hex.EncodeToString(published)},
	}
	r := newTestResolver(reader, time.Minute, time.Now)

	first, err := r.Resolve(context.Background(), "rAlice")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for i := range first {
		first[i] = 0
	}
	second, err := r.Resolve(context.Background(), "rAlice")
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if !bytes.Equal(second, published) {
		t.Fatal("mutating a returned key corrupted the cache")
	}
}

func TestDecodeMessageKeyForms(t *testing.T) {
	raw := randomKey(t)
	bare := hex.EncodeToString(raw)

	cases := []struct {
		name    string
		field   string
		want    []byte
		wantErr bool
	}{
		{name: "prefixed upper", field: "ED" + strings.ToUpper(bare), want: raw},
		{name: "prefixed lower", field: "ed" + bare, want: raw},
		{name: "bare", field: bare, want: raw},
		{name: "bare with spaces", field: "  " + bare + " ", want: raw},
		{name: "wrong family", field: "02" + bare, wantErr: true},
		{name: "wrong length", field: bare[:62], wantErr: true},
		{name: "not hex", field: strings.Repeat("G", 64), wantErr: true},
		{name: "empty", field: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := DecodeMessageKey(tc.field)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidMessageKey) {
				t.Fatalf("%s: err = %v, want ErrInvalidMessageKey", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !bytes.Equal(got, tc.want) {
			t.Fatalf("%s: got %x, want %x", tc.name, got, tc.want)
		}
	}
}

func TestConvertEdwardsPublicKeyMatchesLocalDerivation(t *testing.T) {
	id := testIdentity(t)
	converted, err := ConvertEdwardsPublicKey(id.SigningPublicKey)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !bytes.Equal(converted, id.EncryptionPublicKey) {
		t.Fatal("conversion disagrees with seed-side derivation")
	}
}

func TestConvertEdwardsPublicKeyRejectsBadInput(t *testing.T) {
	if _, err := ConvertEdwardsPublicKey(make([]byte, 16)); !errors.Is(err, ErrNotConvertible) {
		t.Fatalf("short key: err = %v, want ErrNotConvertible", err)
	}
	notOnCurve := bytes.Repeat([]byte{0xFF}, 32)
	if _, err := ConvertEdwardsPublicKey(notOnCurve); !errors.Is(err, ErrNotConvertible) {
		t.Fatalf("off-curve key: err = %v, want ErrNotConvertible", err)
	}
}

type fakeReader struct {
	info         ledger.AccountInfo
	infoErr      error
	signingKey   string
	signingErr   error
	infoCalls    int
	signingCalls int
}

func (f *fakeReader) AccountInfo(_ context.Context, _ string) (ledger.AccountInfo, error) {
	f.infoCalls++
	if f.infoErr != nil {
		return ledger.AccountInfo{}, f.infoErr
	}
	return f.info, nil
}

func (f *fakeReader) SigningPublicKey(_ context.Context, _ string) (string, error) {
	f.signingCalls++
	if f.signingErr != nil {
		return "", f.signingErr
	}
	if f.signingKey == "" {
		return "", ledger.ErrNoSigningKey
	}
	return f.signingKey, nil
}

func newTestResolver(reader AccountReader, ttl time.Duration, now func() time.Time) *Resolver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newResolverWithClock(reader, ttl, logger, now)
}

func testIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	seed := make([]byte, identity.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	id, err := identity.FromSeed(seed)
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	return id
}

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, encryptionKeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("random key: %v", err)
	}
	return key
}
