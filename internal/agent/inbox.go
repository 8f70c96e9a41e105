package agent

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"ledgermsg/go-node/internal/blobstore"
	"ledgermsg/go-node/internal/crypto"
	"ledgermsg/go-node/internal/memo"
	"ledgermsg/go-node/internal/platform/metrics"
	"ledgermsg/go-node/internal/scan"
	"ledgermsg/go-node/internal/storage"
	"ledgermsg/go-node/pkg/models"
)

// errTombstone marks pointers that revoke earlier content; they are
// counted but never rendered.
var errTombstone = errors.New("tombstone pointer")

// errBlobIntegrity means a gateway returned bytes that do not hash to
// the pointer's recorded content hash.
var errBlobIntegrity = errors.New("blob does not match pointer content hash")

// InboxOptions tune one inbox read.
type InboxOptions struct {
	// FromStart ignores the stored cursor and rescans history from the
	// beginning. The stored cursor is never moved backwards by this.
	FromStart bool
	// Kinds widens the default CHAT filter on pointer messages.
	Kinds []string
}

// Inbox scans the local account's history from the stored cursor and
// returns every message it can deliver. Messages whose blob cannot be
// fetched or whose envelope cannot be opened are skipped with a warning
// and a metric; they do not block the rest of the batch. The advanced
// cursor is persisted only after the whole batch has been handled, so
// an interrupted run redelivers rather than drops.
func (a *Agent) Inbox(ctx context.Context, opts InboxOptions) ([]models.Message, error) {
	account := a.id.Address
	var cursor scan.Cursor
	if !opts.FromStart {
		if cp, ok := a.cursors.Get(account); ok {
			cursor = scan.Cursor{LedgerIndex: cp.LedgerIndex, Marker: cp.Marker}
		}
	}

	scanOpts := []scan.Option{scan.WithEnvelopes()}
	if len(opts.Kinds) > 0 {
		scanOpts = append(scanOpts, scan.WithKinds(opts.Kinds...))
	}
	batch, err := a.scanner.Scan(ctx, account, cursor, scanOpts...)
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}

	var out []models.Message
	for _, sm := range batch.Messages {
		// A dead context would make every remaining fetch fail and count
		// the whole tail as undeliverable; abort without moving the
		// cursor instead.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := a.deliver(ctx, sm)
		if err != nil {
			metrics.RecordDelivery(deliveryOutcome(err))
			a.log.Warn("skipping undeliverable message", "tx", sm.TxHash, "error", err)
			continue
		}
		metrics.RecordDelivery("delivered")
		out = append(out, msg)
	}

	advanced := batch.Cursor.LedgerIndex != cursor.LedgerIndex ||
		!bytes.Equal(batch.Cursor.Marker, cursor.Marker)
	if advanced {
		err := a.cursors.Save(storage.Checkpoint{
			Account:     account,
			LedgerIndex: batch.Cursor.LedgerIndex,
			Marker:      batch.Cursor.Marker,
		})
		switch {
		case errors.Is(err, storage.ErrCheckpointRegression):
			// A FromStart rescan read old history; the stored cursor
			// stays where it was.
			a.log.Debug("keeping stored cursor", "account", account, "error", err)
		case err != nil:
			return out, fmt.Errorf("persist cursor: %w", err)
		}
	}
	return out, nil
}

// deliver turns one scanned record into a display message, fetching and
// opening whatever its memo points at.
func (a *Agent) deliver(ctx context.Context, sm scan.ScannedMessage) (models.Message, error) {
	msg := models.Message{
		TxHash:      sm.TxHash,
		LedgerIndex: sm.LedgerIndex,
		From:        sm.From,
		To:          sm.To,
		Direction:   models.DirectionFor(sm.From, a.id.Address),
		Timestamp:   sm.Timestamp,
	}

	switch sm.Decoded.Schema {
	case memo.SchemaPointer:
		p := sm.Decoded.Pointer
		if p.Tombstone() {
			return models.Message{}, errTombstone
		}
		msg.Kind = p.Kind
		msg.CID = p.CID
		msg.TaskID = p.TaskID
		msg.ThreadID = p.ThreadID
		msg.Encrypted = p.Encrypted()

		blob, err := a.gateways.Fetch(ctx, p.CID)
		if err != nil {
			return models.Message{}, fmt.Errorf("fetch blob: %w", err)
		}
		// Pointers written by this node carry the stored blob's hash;
		// a gateway answering with different bytes is not trusted.
		if len(p.ContentHash) != 0 {
			sum := sha256.Sum256(blob)
			if !bytes.Equal(sum[:], p.ContentHash) {
				return models.Message{}, fmt.Errorf("%w: cid %s", errBlobIntegrity, p.CID)
			}
		}
		if !p.Encrypted() {
			msg.Text = string(blob)
			return msg, nil
		}
		text, err := a.openSealed(blob)
		if err != nil {
			return models.Message{}, err
		}
		msg.Text = text
		return msg, nil

	case memo.SchemaEnvelope:
		e := sm.Decoded.Envelope
		msg.Inline = true
		msg.Kind = e.MessageType
		if e.EncryptionMode != memo.EncryptionProtected {
			msg.Text = string(e.InlineMessage)
			return msg, nil
		}
		msg.Encrypted = true
		text, err := a.openSealed(e.InlineMessage)
		if err != nil {
			return models.Message{}, err
		}
		msg.Text = text
		return msg, nil
	}
	return models.Message{}, fmt.Errorf("unsupported memo schema %s", sm.Decoded.Schema)
}

func (a *Agent) openSealed(blob []byte) (string, error) {
	env, err := crypto.UnmarshalEnvelope(blob)
	if err != nil {
		return "", fmt.Errorf("parse envelope: %w", err)
	}
	// Not sealed for this identity; skip without touching key material.
	if !crypto.HasShardFor(env, a.id.EncryptionPublicKey) {
		return "", fmt.Errorf("%w: no shard for this identity", crypto.ErrNoRecipientShard)
	}
	plain, err := crypto.Open(env, a.id.EncryptionPrivateKey, a.id.EncryptionPublicKey)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func deliveryOutcome(err error) string {
	switch {
	case errors.Is(err, blobstore.ErrUnavailable):
		return "fetch_failed"
	case errors.Is(err, errBlobIntegrity):
		return "integrity_failed"
	case errors.Is(err, crypto.ErrNoRecipientShard):
		return "no_shard"
	case errors.Is(err, crypto.ErrDecryptionFailed):
		return "decrypt_failed"
	case errors.Is(err, errTombstone):
		return "tombstone"
	default:
		return "undeliverable"
	}
}
