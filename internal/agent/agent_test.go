package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"ledgermsg/go-node/internal/blobstore"
	"ledgermsg/go-node/internal/identity"
	"ledgermsg/go-node/internal/ledger"
	"ledgermsg/go-node/internal/scan"
	"ledgermsg/go-node/internal/storage"
	"ledgermsg/go-node/internal/txflow"
)

func testIdentity(t *testing.T, seedByte byte) *identity.Identity {
	t.Helper()
	id, err := identity.FromSeed(bytes.Repeat([]byte{seedByte}, identity.SeedSize))
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	return id
}

type fakeResolver struct {
	keys map[string][]byte
	err  error
}

func (f *fakeResolver) Resolve(_ context.Context, address string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	key, ok := f.keys[address]
	if !ok {
		return nil, errors.New("no key for " + address)
	}
	return key, nil
}

type fakeBlobs struct {
	stored [][]byte
	err    error
}

func (f *fakeBlobs) Put(_ context.Context, blob []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.stored = append(f.stored, append([]byte(nil), blob...))
	return fmt.Sprintf("QmBlob%d", len(f.stored)), nil
}

type fakeGateways struct {
	blobs map[string][]byte
	calls []string
}

func (f *fakeGateways) Fetch(_ context.Context, cid string) ([]byte, error) {
	f.calls = append(f.calls, cid)
	blob, ok := f.blobs[cid]
	if !ok {
		return nil, blobstore.ErrUnavailable
	}
	return blob, nil
}

type fakeScanner struct {
	batch scan.Batch
	err   error

	gotAccount string
	gotCursor  scan.Cursor
	gotOpts    int
}

func (f *fakeScanner) Scan(_ context.Context, account string, cursor scan.Cursor, opts ...scan.Option) (scan.Batch, error) {
	f.gotAccount = account
	f.gotCursor = cursor
	f.gotOpts = len(opts)
	if f.err != nil {
		return scan.Batch{}, f.err
	}
	return f.batch, nil
}

// fakeFlow skips real serialization and answers with fixed ledger
// state: sequence 7, window edge 1120, committed in ledger 1010.
type fakeFlow struct {
	prepared   []txflow.TxSpec
	prepareErr error
	signErr    error
	result     txflow.Result
	submitErr  error
}

func (f *fakeFlow) Prepare(_ context.Context, spec txflow.TxSpec) (txflow.Unsigned, error) {
	if f.prepareErr != nil {
		return txflow.Unsigned{}, f.prepareErr
	}
	f.prepared = append(f.prepared, spec)
	return txflow.Unsigned{Spec: spec, Sequence: 7, LastLedgerSequence: 1120, FeeDrops: 10}, nil
}

func (f *fakeFlow) Sign(u txflow.Unsigned, _ *identity.Identity) (txflow.Signed, error) {
	if f.signErr != nil {
		return txflow.Signed{}, f.signErr
	}
	return txflow.Signed{Unsigned: u, Hash: "AB12", BlobHex: "DEAD"}, nil
}

func (f *fakeFlow) SubmitAndAwait(_ context.Context, s txflow.Signed) (txflow.Result, error) {
	if f.submitErr != nil || f.result.State != 0 {
		return f.result, f.submitErr
	}
	return txflow.Result{State: txflow.StateCommitted, Hash: s.Hash, LedgerIndex: 1010}, nil
}

type fakeAccounts struct {
	info ledger.AccountInfo
	err  error
}

func (f *fakeAccounts) AccountInfo(_ context.Context, _ string) (ledger.AccountInfo, error) {
	if f.err != nil {
		return ledger.AccountInfo{}, f.err
	}
	return f.info, nil
}

type agentFixture struct {
	agent    *Agent
	id       *identity.Identity
	peer     *identity.Identity
	resolver *fakeResolver
	blobs    *fakeBlobs
	gateways *fakeGateways
	scanner  *fakeScanner
	flow     *fakeFlow
	accounts *fakeAccounts
	cursors  *storage.CheckpointStore
}

func newFixture(t *testing.T) *agentFixture {
	t.Helper()
	id := testIdentity(t, 0x11)
	peer := testIdentity(t, 0x22)
	fx := &agentFixture{
		id:       id,
		peer:     peer,
		resolver: &fakeResolver{keys: map[string][]byte{peer.Address: peer.EncryptionPublicKey}},
		blobs:    &fakeBlobs{},
		gateways: &fakeGateways{blobs: map[string][]byte{}},
		scanner:  &fakeScanner{},
		flow:     &fakeFlow{},
		accounts: &fakeAccounts{},
		cursors:  storage.NewCheckpointStore(),
	}
	fx.agent = fx.rebuild(t, func(*Deps) {})
	return fx
}

// rebuild constructs an agent over the fixture's fakes with one of them
// swapped out.
func (fx *agentFixture) rebuild(t *testing.T, mutate func(*Deps)) *Agent {
	t.Helper()
	deps := Deps{
		Identity: fx.id,
		Ledger:   fx.accounts,
		Resolver: fx.resolver,
		Blobs:    fx.blobs,
		Gateways: fx.gateways,
		Scanner:  fx.scanner,
		Flow:     fx.flow,
		Cursors:  fx.cursors,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	mutate(&deps)
	a, err := New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNewRejectsMissingDeps(t *testing.T) {
	fx := newFixture(t)
	full := Deps{
		Identity: fx.id,
		Ledger:   fx.accounts,
		Resolver: fx.resolver,
		Blobs:    fx.blobs,
		Gateways: fx.gateways,
		Scanner:  fx.scanner,
		Flow:     fx.flow,
		Cursors:  fx.cursors,
	}

	cases := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"identity", func(d *Deps) { d.Identity = nil }},
		{"ledger", func(d *Deps) { d.Ledger = nil }},
		{"resolver", func(d *Deps) { d.Resolver = nil }},
		{"blobs", func(d *Deps) { d.Blobs = nil }},
		{"gateways", func(d *Deps) { d.Gateways = nil }},
		{"scanner", func(d *Deps) { d.Scanner = nil }},
		{"flow", func(d *Deps) { d.Flow = nil }},
		{"cursors", func(d *Deps) { d.Cursors = nil }},
	}
	for _, tc := range cases {
		deps := full
		tc.mutate(&deps)
		if _, err := New(deps); err == nil {
			t.Fatalf("%s: New accepted a missing dependency", tc.name)
		}
	}

	if _, err := New(full); err != nil {
		t.Fatalf("New with full deps: %v", err)
	}
}

func TestAddressIsIdentityAccount(t *testing.T) {
	fx := newFixture(t)
	if got := fx.agent.Address(); got != fx.id.Address {
		t.Fatalf("Address = %q, want %q", got, fx.id.Address)
	}
}
