// Package scan turns an account's ledger history into decoded messages.
// A scan pages forward from a cursor, admits what the filter allows, and
// hands back a cursor that resumes exactly where this one stopped.
package scan

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"ledgermsg/go-node/internal/ledger"
	"ledgermsg/go-node/internal/memo"
	"ledgermsg/go-node/internal/platform/metrics"
)

const paymentType = "Payment"

const (
	defaultPageLimit = 50
	defaultMaxPages  = 10
)

// HistoryReader is the slice of the ledger client scans consume.
type HistoryReader interface {
	AccountTransactions(ctx context.Context, address string, opts ledger.TxHistoryOptions) (ledger.TxHistoryPage, error)
}

// Cursor marks a resumable position in an account's history. LedgerIndex
// is the first ledger the next scan reads; a non-nil Marker resumes a
// partially read window mid-page.
type Cursor struct {
	LedgerIndex uint32
	Marker      json.RawMessage
}

// ScannedMessage is one admitted history record with its decoded memo.
type ScannedMessage struct {
	TxHash          string
	LedgerIndex     uint32
	From            string
	To              string
	DeliveredAmount ledger.Amount
	Timestamp       time.Time
	Decoded         memo.Decoded
	Validated       bool
}

// Batch is the outcome of one scan: the admitted messages and the cursor
// for the next scan. An empty history leaves the cursor untouched.
type Batch struct {
	Messages []ScannedMessage
	Cursor   Cursor
}

type options struct {
	kinds     []string
	allKinds  bool
	envelopes bool
	pageLimit int
	maxPages  int
}

type Option func(*options)

// WithKinds replaces the default CHAT filter with the given kinds, each
// either a canonical name or a raw numeric value.
func WithKinds(kinds ...string) Option {
	return func(o *options) { o.kinds = kinds }
}

// WithAllKinds admits pointer messages of every kind.
func WithAllKinds() Option {
	return func(o *options) { o.allKinds = true }
}

// WithEnvelopes admits inline envelope memos alongside pointers.
func WithEnvelopes() Option {
	return func(o *options) { o.envelopes = true }
}

// WithPageLimit sets the per-request history page size.
func WithPageLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageLimit = n
		}
	}
}

// WithMaxPages bounds the number of history pages one scan reads before
// handing back a mid-window cursor.
func WithMaxPages(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPages = n
		}
	}
}

func (o *options) admits(d memo.Decoded) bool {
	switch d.Schema {
	case memo.SchemaPointer:
		if o.allKinds {
			return true
		}
		for _, want := range o.kinds {
			if memo.KindMatches(d.Pointer.Kind, want) {
				return true
			}
		}
		return false
	case memo.SchemaEnvelope:
		return o.envelopes
	default:
		return false
	}
}

type Scanner struct {
	reader HistoryReader
	log    *slog.Logger
}

func New(reader HistoryReader, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{reader: reader, log: logger}
}

// Scan pages forward from cursor and collects every admitted message.
// Records that fail, are not payments, or carry unusable memos are
// counted and skipped; they never abort the scan. On error the original
// cursor comes back unchanged so the caller can simply retry.
func (s *Scanner) Scan(ctx context.Context, account string, cursor Cursor, opts ...Option) (Batch, error) {
	o := options{kinds: []string{memo.KindChat}, pageLimit: defaultPageLimit, maxPages: defaultMaxPages}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		messages     []ScannedMessage
		seen         = make(map[string]struct{})
		highest      uint32
		sawValidated bool
		marker       = cursor.Marker
	)

	for page := 0; page < o.maxPages; page++ {
		result, err := s.reader.AccountTransactions(ctx, account, ledger.TxHistoryOptions{
			MinLedger: cursor.LedgerIndex,
			Limit:     o.pageLimit,
			Forward:   true,
			Marker:    marker,
		})
		if err != nil {
			return Batch{Cursor: cursor}, err
		}

		for _, tx := range result.Transactions {
			if !tx.Validated {
				metrics.RecordScanSkip("not_validated")
				continue
			}
			if tx.LedgerIndex > highest {
				highest = tx.LedgerIndex
			}
			sawValidated = true

			if _, dup := seen[tx.Hash]; dup {
				metrics.RecordScanSkip("duplicate")
				continue
			}
			seen[tx.Hash] = struct{}{}

			if !tx.Succeeded() {
				metrics.RecordScanSkip("failed_result")
				continue
			}
			if tx.TransactionType != paymentType {
				metrics.RecordScanSkip("not_payment")
				continue
			}
			decoded, ok := s.firstAdmitted(tx, &o)
			if !ok {
				continue
			}

			resultLabel := "success"
			if tx.Result == "" {
				resultLabel = "assumed"
			}
			metrics.RecordScanMessage(resultLabel)
			messages = append(messages, ScannedMessage{
				TxHash:          tx.Hash,
				LedgerIndex:     tx.LedgerIndex,
				From:            tx.Account,
				To:              tx.Destination,
				DeliveredAmount: tx.DeliveredAmount,
				Timestamp:       tx.Timestamp,
				Decoded:         decoded,
				Validated:       tx.Validated,
			})
		}

		marker = result.Marker
		if len(marker) == 0 {
			break
		}
	}

	batch := Batch{Messages: messages, Cursor: cursor}
	switch {
	case len(marker) > 0:
		// Window partially read: same lower bound, resume via marker.
		batch.Cursor = Cursor{
			LedgerIndex: cursor.LedgerIndex,
			Marker:      append(json.RawMessage(nil), marker...),
		}
	case sawValidated:
		batch.Cursor = Cursor{LedgerIndex: highest + 1}
	}
	return batch, nil
}

// firstAdmitted decodes the transaction's memos in order and returns the
// first one the filter admits. One history record yields at most one
// message.
func (s *Scanner) firstAdmitted(tx ledger.Transaction, o *options) (memo.Decoded, bool) {
	for _, m := range tx.Memos {
		if memo.Identify(m.Type, m.Format) == memo.SchemaUnknown {
			metrics.RecordScanSkip("unknown_schema")
			continue
		}
		decoded, err := memo.Decode(m)
		if err != nil {
			metrics.RecordScanSkip("malformed_memo")
			s.log.Debug("skipping malformed memo", "tx", tx.Hash, "error", err)
			continue
		}
		if !o.admits(decoded) {
			metrics.RecordScanSkip("filtered")
			continue
		}
		return decoded, true
	}
	return memo.Decoded{}, false
}
