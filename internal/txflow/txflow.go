// Package txflow drives a transaction through its full lifecycle:
// prepare against live ledger state, sign locally, submit, and wait for
// the network's verdict. Ledgers close on their own schedule, so the
// final word is always the validated ledger, never the submit response.
package txflow

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ledgermsg/go-node/internal/identity"
	"ledgermsg/go-node/internal/ledger"
	"ledgermsg/go-node/internal/memo"
	"ledgermsg/go-node/internal/platform/metrics"
)

var (
	// ErrInvalidSpec means the transaction spec is missing a required
	// field for its type.
	ErrInvalidSpec = errors.New("txflow: invalid transaction spec")
	// ErrSubmitRejected means the network refused the transaction,
	// either at submit time or in the validated ledger's metadata.
	ErrSubmitRejected = errors.New("txflow: transaction rejected")
	// ErrExpiredWindow means the validated ledger passed the
	// transaction's last allowed ledger without including it.
	ErrExpiredWindow = errors.New("txflow: validation window expired")
)

// TxType is the on-wire transaction type code.
type TxType uint16

const (
	TypePayment    TxType = 0
	TypeAccountSet TxType = 3
)

// TxSpec describes what to send before ledger state is consulted.
type TxSpec struct {
	Type    TxType
	Account string

	// Payment fields.
	Destination string
	DropsAmount uint64
	Memos       []memo.Memo

	// AccountSet fields. MessageKey is the prefixed hex key value to
	// publish on the account.
	MessageKey string
}

// Unsigned is a spec bound to live ledger state, ready to sign.
type Unsigned struct {
	Spec               TxSpec
	Sequence           uint32
	LastLedgerSequence uint32
	FeeDrops           uint64
	// NetworkID is zero when the field is omitted from the wire form.
	NetworkID uint32
}

// Signed carries the submittable blob, its hash, and the detached
// signature.
type Signed struct {
	Unsigned  Unsigned
	Hash      string
	BlobHex   string
	Signature []byte
}

// State is the final word on a submitted transaction.
type State int

const (
	StateCommitted State = iota + 1
	StateRejected
	StateUnresolved
)

func (s State) String() string {
	switch s {
	case StateCommitted:
		return "committed"
	case StateRejected:
		return "rejected"
	case StateUnresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// Result is the lifecycle outcome. LedgerIndex is set for committed
// transactions, Code for rejected ones, and LastChecked records the
// last validated ledger observed when the poll budget ran out.
type Result struct {
	State       State
	Hash        string
	LedgerIndex uint32
	Code        string
	LastChecked uint32
}

// LedgerService is the slice of the ledger client the lifecycle needs.
type LedgerService interface {
	AccountInfo(ctx context.Context, address string) (ledger.AccountInfo, error)
	ServerInfo(ctx context.Context) (ledger.ServerInfo, error)
	Submit(ctx context.Context, txBlobHex string) (ledger.SubmitResult, error)
	Tx(ctx context.Context, hash string) (ledger.TxStatus, error)
	NetworkID() uint32
}

const (
	// validationWindow is how many ledgers past the current validated
	// index a transaction stays eligible.
	validationWindow = 120
	// networkIDThreshold: chains at or below this id predate the
	// NetworkID field and reject transactions that carry it.
	networkIDThreshold = 1024

	defaultFeeDrops = 10

	pollAttempts = 10
	pollInterval = 3 * time.Second
)

type Flow struct {
	svc   LedgerService
	log   *slog.Logger
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func New(svc LedgerService, logger *slog.Logger) *Flow {
	return newFlowWithClock(svc, logger, sleepContext, time.Now)
}

func newFlowWithClock(svc LedgerService, logger *slog.Logger, sleep func(context.Context, time.Duration) error, now func() time.Time) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{svc: svc, log: logger, sleep: sleep, now: now}
}

// Prepare binds a spec to live ledger state: the sender's next sequence,
// a validation window anchored to the current validated ledger, and the
// server-reported base fee.
func (f *Flow) Prepare(ctx context.Context, spec TxSpec) (Unsigned, error) {
	if err := validateSpec(spec); err != nil {
		return Unsigned{}, err
	}

	info, err := f.svc.AccountInfo(ctx, spec.Account)
	if err != nil {
		return Unsigned{}, fmt.Errorf("sender account: %w", err)
	}
	server, err := f.svc.ServerInfo(ctx)
	if err != nil {
		return Unsigned{}, fmt.Errorf("server state: %w", err)
	}

	u := Unsigned{
		Spec:               spec,
		Sequence:           info.Sequence,
		LastLedgerSequence: server.ValidatedLedger + validationWindow,
		FeeDrops:           server.BaseFeeDrops,
	}
	if u.FeeDrops == 0 {
		u.FeeDrops = defaultFeeDrops
	}
	if id := f.svc.NetworkID(); id > networkIDThreshold {
		u.NetworkID = id
	}
	return u, nil
}

func validateSpec(spec TxSpec) error {
	if spec.Account == "" {
		return fmt.Errorf("%w: account is required", ErrInvalidSpec)
	}
	switch spec.Type {
	case TypePayment:
		if spec.Destination == "" {
			return fmt.Errorf("%w: payment needs a destination", ErrInvalidSpec)
		}
		if spec.DropsAmount == 0 {
			return fmt.Errorf("%w: payment needs a positive amount", ErrInvalidSpec)
		}
	case TypeAccountSet:
		if spec.MessageKey == "" {
			return fmt.Errorf("%w: account set needs a message key", ErrInvalidSpec)
		}
	default:
		return fmt.Errorf("%w: unsupported type %d", ErrInvalidSpec, spec.Type)
	}
	return nil
}

// Sign lets a Flow serve the whole lifecycle through one value.
func (f *Flow) Sign(u Unsigned, id *identity.Identity) (Signed, error) {
	return Sign(u, id)
}

// Sign serializes the transaction canonically, signs the prefixed
// payload with the identity's key, and computes the network hash over
// the signed blob. Purely local; nothing is submitted.
func Sign(u Unsigned, id *identity.Identity) (Signed, error) {
	pub := id.PrefixedSigningKey()
	body, err := serialize(u, pub, nil)
	if err != nil {
		return Signed{}, fmt.Errorf("serialize for signing: %w", err)
	}
	payload := make([]byte, 0, len(signingPrefix)+len(body))
	payload = append(payload, signingPrefix...)
	payload = append(payload, body...)
	sig := id.Sign(payload)

	blob, err := serialize(u, pub, sig)
	if err != nil {
		return Signed{}, fmt.Errorf("serialize signed blob: %w", err)
	}
	hash := sha512Half(hashingPrefix, blob)
	return Signed{
		Unsigned:  u,
		Hash:      strings.ToUpper(hex.EncodeToString(hash)),
		BlobHex:   strings.ToUpper(hex.EncodeToString(blob)),
		Signature: sig,
	}, nil
}

// SubmitAndAwait submits the blob and follows it to a final state.
// Terminal engine classes fail immediately; everything else is polled
// against validated ledgers until the transaction lands, its window
// expires, or the poll budget runs out.
func (f *Flow) SubmitAndAwait(ctx context.Context, s Signed) (Result, error) {
	start := f.now()
	submitted, err := f.svc.Submit(ctx, s.BlobHex)
	if err != nil {
		return Result{}, fmt.Errorf("submit: %w", err)
	}
	f.log.Info("transaction submitted",
		"hash", s.Hash,
		"engine_result", submitted.EngineResult,
	)

	if isTerminalReject(submitted.EngineResult) {
		return f.finish(start, Result{
			State: StateRejected,
			Hash:  s.Hash,
			Code:  submitted.EngineResult,
		}, fmt.Errorf("%w: %s", ErrSubmitRejected, submitted.EngineResult))
	}

	var lastChecked uint32
	for attempt := 1; attempt <= pollAttempts; attempt++ {
		if err := f.sleep(ctx, pollInterval); err != nil {
			return Result{}, err
		}

		status, err := f.svc.Tx(ctx, s.Hash)
		switch {
		case err == nil && status.Validated:
			if status.Result == "" || status.Result == "tesSUCCESS" {
				return f.finish(start, Result{
					State:       StateCommitted,
					Hash:        s.Hash,
					LedgerIndex: status.LedgerIndex,
				}, nil)
			}
			return f.finish(start, Result{
				State: StateRejected,
				Hash:  s.Hash,
				Code:  status.Result,
			}, fmt.Errorf("%w: %s", ErrSubmitRejected, status.Result))
		case err != nil && !errors.Is(err, ledger.ErrTxNotFound):
			f.log.Warn("transaction poll failed", "hash", s.Hash, "attempt", attempt, "error", err)
			continue
		}

		server, err := f.svc.ServerInfo(ctx)
		if err != nil {
			f.log.Warn("validated ledger check failed", "attempt", attempt, "error", err)
			continue
		}
		lastChecked = server.ValidatedLedger
		if server.ValidatedLedger > s.Unsigned.LastLedgerSequence {
			return f.finish(start, Result{
				State:       StateRejected,
				Hash:        s.Hash,
				Code:        "expired",
				LastChecked: server.ValidatedLedger,
			}, fmt.Errorf("%w: validated ledger %d passed %d",
				ErrExpiredWindow, server.ValidatedLedger, s.Unsigned.LastLedgerSequence))
		}
	}

	return f.finish(start, Result{
		State:       StateUnresolved,
		Hash:        s.Hash,
		LastChecked: lastChecked,
	}, nil)
}

func (f *Flow) finish(start time.Time, res Result, err error) (Result, error) {
	state := res.State.String()
	if res.Code == "expired" {
		state = "expired"
	}
	metrics.RecordSubmitState(state)
	metrics.ObserveSubmitAwait(f.now().Sub(start))
	f.log.Info("transaction lifecycle finished",
		"hash", res.Hash,
		"state", res.State.String(),
		"code", res.Code,
	)
	return res, err
}

// isTerminalReject classifies a submit-time engine result. Malformed
// (tem), failed (tef), and local (tel) classes can never reach a
// validated ledger; success (tes), retry (ter), and claimed-fee (tec)
// classes still can.
func isTerminalReject(engineResult string) bool {
	for _, prefix := range []string{"tem", "tef", "tel"} {
		if strings.HasPrefix(engineResult, prefix) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
