// Package agent composes the node's subsystems into the operations the
// CLI and daemon expose: sending messages, reading the inbox, and
// publishing the encryption key. The agent owns no policy of its own;
// it wires the resolver, crypto, blob store, scanner, and transaction
// lifecycle together and decides what a failure in each one means for
// the operation as a whole.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ledgermsg/go-node/internal/identity"
	"ledgermsg/go-node/internal/ledger"
	"ledgermsg/go-node/internal/scan"
	"ledgermsg/go-node/internal/storage"
	"ledgermsg/go-node/internal/txflow"
)

var (
	// ErrUnresolved means a transaction was submitted but its outcome
	// was still unknown when the poll budget ran out. The receipt
	// carries the hash so the caller can check again later.
	ErrUnresolved = errors.New("agent: transaction outcome unresolved")
	// ErrInlineTooLarge means the sealed message does not fit the memo
	// data budget. Callers fall back to Send, which stores the payload
	// off-ledger.
	ErrInlineTooLarge = errors.New("agent: message too large for an inline memo")
)

// KeyResolver finds the encryption key for a ledger account.
type KeyResolver interface {
	Resolve(ctx context.Context, address string) ([]byte, error)
}

// BlobWriter stores sealed payload blobs through the write gate.
type BlobWriter interface {
	Put(ctx context.Context, blob []byte) (string, error)
}

// BlobReader fetches payload blobs from the read gateways.
type BlobReader interface {
	Fetch(ctx context.Context, cid string) ([]byte, error)
}

// HistoryScanner pages an account's ledger history into decoded memos.
type HistoryScanner interface {
	Scan(ctx context.Context, account string, cursor scan.Cursor, opts ...scan.Option) (scan.Batch, error)
}

// Lifecycle drives a transaction from spec to final state.
type Lifecycle interface {
	Prepare(ctx context.Context, spec txflow.TxSpec) (txflow.Unsigned, error)
	Sign(u txflow.Unsigned, id *identity.Identity) (txflow.Signed, error)
	SubmitAndAwait(ctx context.Context, s txflow.Signed) (txflow.Result, error)
}

// AccountReader is the slice of the ledger client the agent itself
// queries; everything else reaches the ledger through the scanner and
// the lifecycle.
type AccountReader interface {
	AccountInfo(ctx context.Context, address string) (ledger.AccountInfo, error)
}

// CursorStore persists scan progress per account.
type CursorStore interface {
	Get(account string) (storage.Checkpoint, bool)
	Save(cp storage.Checkpoint) error
}

// Deps carries the agent's collaborators. All but Logger are required.
type Deps struct {
	Identity *identity.Identity
	Ledger   AccountReader
	Resolver KeyResolver
	Blobs    BlobWriter
	Gateways BlobReader
	Scanner  HistoryScanner
	Flow     Lifecycle
	Cursors  CursorStore
	Logger   *slog.Logger
}

type Agent struct {
	id       *identity.Identity
	ledger   AccountReader
	resolver KeyResolver
	blobs    BlobWriter
	gateways BlobReader
	scanner  HistoryScanner
	flow     Lifecycle
	cursors  CursorStore
	log      *slog.Logger
}

func New(deps Deps) (*Agent, error) {
	switch {
	case deps.Identity == nil:
		return nil, errors.New("agent: identity is required")
	case deps.Ledger == nil:
		return nil, errors.New("agent: ledger reader is required")
	case deps.Resolver == nil:
		return nil, errors.New("agent: key resolver is required")
	case deps.Blobs == nil:
		return nil, errors.New("agent: blob writer is required")
	case deps.Gateways == nil:
		return nil, errors.New("agent: blob reader is required")
	case deps.Scanner == nil:
		return nil, errors.New("agent: scanner is required")
	case deps.Flow == nil:
		return nil, errors.New("agent: tx lifecycle is required")
	case deps.Cursors == nil:
		return nil, errors.New("agent: cursor store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		id:       deps.Identity,
		ledger:   deps.Ledger,
		resolver: deps.Resolver,
		blobs:    deps.Blobs,
		gateways: deps.Gateways,
		scanner:  deps.Scanner,
		flow:     deps.Flow,
		cursors:  deps.Cursors,
		log:      logger,
	}, nil
}

// Address is the local account the agent sends from and scans.
func (a *Agent) Address() string {
	return a.id.Address
}

// submit runs a spec through the full lifecycle with the agent's
// identity.
func (a *Agent) submit(ctx context.Context, spec txflow.TxSpec) (txflow.Result, error) {
	unsigned, err := a.flow.Prepare(ctx, spec)
	if err != nil {
		return txflow.Result{}, fmt.Errorf("prepare: %w", err)
	}
	signed, err := a.flow.Sign(unsigned, a.id)
	if err != nil {
		return txflow.Result{}, fmt.Errorf("sign: %w", err)
	}
	return a.flow.SubmitAndAwait(ctx, signed)
}

func (a *Agent) cursorLedger() uint32 {
	cp, _ := a.cursors.Get(a.id.Address)
	return cp.LedgerIndex
}
