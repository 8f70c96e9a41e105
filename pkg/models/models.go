// Package models holds the public data shapes the node hands to its
// callers: decoded messages, send receipts, and runtime status. Nothing
// here carries secret material.
package models

import "time"

// Message is one decoded ledger message, ready for display. For pointer
// messages CID names the off-ledger blob the text came from; inline
// messages leave it empty.
type Message struct {
	TxHash      string    `json:"tx_hash"`
	LedgerIndex uint32    `json:"ledger_index"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Direction   string    `json:"direction"`
	Kind        string    `json:"kind"`
	CID         string    `json:"cid,omitempty"`
	TaskID      string    `json:"task_id,omitempty"`
	ThreadID    string    `json:"thread_id,omitempty"`
	Text        string    `json:"text"`
	Encrypted   bool      `json:"encrypted"`
	Inline      bool      `json:"inline"`
	Timestamp   time.Time `json:"timestamp"`
}

// SendReceipt identifies a sent message on the ledger. LedgerIndex is
// zero until the transaction is seen in a validated ledger.
type SendReceipt struct {
	TxHash      string `json:"tx_hash"`
	LedgerIndex uint32 `json:"ledger_index"`
	CID         string `json:"cid,omitempty"`
}

// IdentityInfo is the shareable view of the node identity.
type IdentityInfo struct {
	Address             string `json:"address"`
	SigningPublicKey    string `json:"signing_public_key"`
	EncryptionPublicKey string `json:"encryption_public_key"`
}

// RuntimeStatus is a snapshot of the daemon's inbox loop.
type RuntimeStatus struct {
	Running             bool      `json:"running"`
	Account             string    `json:"account"`
	CursorLedger        uint32    `json:"cursor_ledger"`
	LastScan            time.Time `json:"last_scan"`
	LastDelivery        time.Time `json:"last_delivery"`
	Delivered           uint64    `json:"delivered"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}
