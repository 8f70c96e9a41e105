package agent

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"ledgermsg/go-node/internal/crypto"
	"ledgermsg/go-node/internal/memo"
	"ledgermsg/go-node/internal/txflow"
	"ledgermsg/go-node/pkg/models"
)

const (
	// dustDrops is the payment amount carrying a memo. The ledger
	// refuses zero-amount payments, so one drop is the floor.
	dustDrops = 1

	// maxInlineDataBytes is the memo data field budget for inline
	// envelopes. Larger messages go through the blob store.
	maxInlineDataBytes = 1024

	pointerSchemaVersion = 1
)

// SendOptions tune one send. The zero value sends an encrypted chat
// message with a fresh task id.
type SendOptions struct {
	// Kind overrides the default CHAT content kind on the pointer.
	Kind string
	// TaskID threads the message into an existing task; empty draws a
	// fresh id.
	TaskID string
	// ThreadID groups the message under a conversation thread.
	ThreadID string
	// Ephemeral marks the pointer so the blob may be dropped after
	// first delivery.
	Ephemeral bool
}

// Send seals text for the recipient, stores the sealed envelope as an
// off-ledger blob, and anchors it with a pointer memo on a one-drop
// payment. The envelope always carries a shard for the local identity
// too, so the sender's own history remains readable.
func (a *Agent) Send(ctx context.Context, to, text string, opts SendOptions) (models.SendReceipt, error) {
	to, err := checkSendInput(to, text)
	if err != nil {
		return models.SendReceipt{}, err
	}
	env, err := a.sealFor(ctx, to, text)
	if err != nil {
		return models.SendReceipt{}, err
	}

	blob := crypto.MarshalEnvelope(env)
	cid, err := a.blobs.Put(ctx, blob)
	if err != nil {
		return models.SendReceipt{}, fmt.Errorf("store blob: %w", err)
	}
	blobHash := sha256.Sum256(blob)

	kind := opts.Kind
	if kind == "" {
		kind = memo.KindChat
	}
	taskID := opts.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	flags := memo.FlagEncrypted
	if opts.Ephemeral {
		flags |= memo.FlagEphemeral
	}
	m, err := memo.EncodePointer(memo.PointerMemo{
		CID:           cid,
		Target:        memo.TargetAccount,
		Kind:          kind,
		SchemaVersion: pointerSchemaVersion,
		TaskID:        taskID,
		ThreadID:      opts.ThreadID,
		Flags:         flags,
		ContentHash:   blobHash[:],
		Size:          uint64(len(blob)),
	})
	if err != nil {
		return models.SendReceipt{}, fmt.Errorf("encode pointer memo: %w", err)
	}

	res, err := a.submit(ctx, txflow.TxSpec{
		Type:        txflow.TypePayment,
		Account:     a.id.Address,
		Destination: to,
		DropsAmount: dustDrops,
		Memos:       []memo.Memo{m},
	})
	if err != nil {
		return models.SendReceipt{}, err
	}
	receipt := models.SendReceipt{TxHash: res.Hash, LedgerIndex: res.LedgerIndex, CID: cid}
	if res.State == txflow.StateUnresolved {
		return receipt, fmt.Errorf("%w: tx %s, last checked ledger %d", ErrUnresolved, res.Hash, res.LastChecked)
	}
	a.log.Info("message sent", "to", to, "tx", res.Hash, "cid", cid, "ledger", res.LedgerIndex)
	return receipt, nil
}

// SendInline seals text for the recipient and carries the sealed
// envelope inside the transaction memo itself, with no blob write. The
// memo data budget is enforced before anything is submitted.
func (a *Agent) SendInline(ctx context.Context, to, text string, opts SendOptions) (models.SendReceipt, error) {
	to, err := checkSendInput(to, text)
	if err != nil {
		return models.SendReceipt{}, err
	}
	env, err := a.sealFor(ctx, to, text)
	if err != nil {
		return models.SendReceipt{}, err
	}

	messageType := opts.Kind
	if messageType == "" {
		messageType = memo.MessageTypeChat
	}
	m, err := memo.EncodeEnvelope(memo.EnvelopeMemo{
		Version:        1,
		ContentHash:    env.ContentHash,
		MessageType:    messageType,
		EncryptionMode: memo.EncryptionProtected,
		InlineMessage:  crypto.MarshalEnvelope(env),
	})
	if err != nil {
		return models.SendReceipt{}, fmt.Errorf("encode envelope memo: %w", err)
	}
	if len(m.Data) > 2*maxInlineDataBytes {
		return models.SendReceipt{}, fmt.Errorf("%w: %d bytes, budget %d",
			ErrInlineTooLarge, len(m.Data)/2, maxInlineDataBytes)
	}

	res, err := a.submit(ctx, txflow.TxSpec{
		Type:        txflow.TypePayment,
		Account:     a.id.Address,
		Destination: to,
		DropsAmount: dustDrops,
		Memos:       []memo.Memo{m},
	})
	if err != nil {
		return models.SendReceipt{}, err
	}
	receipt := models.SendReceipt{TxHash: res.Hash, LedgerIndex: res.LedgerIndex}
	if res.State == txflow.StateUnresolved {
		return receipt, fmt.Errorf("%w: tx %s, last checked ledger %d", ErrUnresolved, res.Hash, res.LastChecked)
	}
	a.log.Info("inline message sent", "to", to, "tx", res.Hash, "ledger", res.LedgerIndex)
	return receipt, nil
}

// PublishEncryptionKey puts the identity's encryption key on the
// account so peers stop depending on the signing-key fallback. The
// update is skipped when the ledger already shows the same key; updated
// reports whether a transaction was committed.
func (a *Agent) PublishEncryptionKey(ctx context.Context) (receipt models.SendReceipt, updated bool, err error) {
	info, err := a.ledger.AccountInfo(ctx, a.id.Address)
	if err != nil {
		return models.SendReceipt{}, false, fmt.Errorf("account state: %w", err)
	}
	want := a.id.MessageKeyHex()
	if strings.EqualFold(info.MessageKey, want) {
		a.log.Info("message key already published", "account", a.id.Address)
		return models.SendReceipt{}, false, nil
	}

	res, err := a.submit(ctx, txflow.TxSpec{
		Type:       txflow.TypeAccountSet,
		Account:    a.id.Address,
		MessageKey: want,
	})
	if err != nil {
		return models.SendReceipt{}, false, err
	}
	receipt = models.SendReceipt{TxHash: res.Hash, LedgerIndex: res.LedgerIndex}
	if res.State == txflow.StateUnresolved {
		return receipt, false, fmt.Errorf("%w: tx %s, last checked ledger %d", ErrUnresolved, res.Hash, res.LastChecked)
	}
	a.log.Info("message key published", "account", a.id.Address, "tx", res.Hash, "ledger", res.LedgerIndex)
	return receipt, true, nil
}

// sealFor resolves the recipient's key and seals text for the
// recipient plus the local identity.
func (a *Agent) sealFor(ctx context.Context, to, text string) (crypto.Envelope, error) {
	recipientKey, err := a.resolver.Resolve(ctx, to)
	if err != nil {
		return crypto.Envelope{}, fmt.Errorf("resolve recipient key: %w", err)
	}
	env, err := crypto.Seal([]byte(text), [][]byte{recipientKey, a.id.EncryptionPublicKey})
	if err != nil {
		return crypto.Envelope{}, fmt.Errorf("seal message: %w", err)
	}
	return env, nil
}

func checkSendInput(to, text string) (string, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return "", errors.New("agent: recipient is required")
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("agent: message text is required")
	}
	return to, nil
}
