package ledger

import (
	"encoding/json"
	"time"

	"ledgermsg/go-node/internal/memo"
)

// Seconds between the Unix epoch and the ledger's own epoch
// (2000-01-01T00:00:00Z).
const ledgerEpochOffset int64 = 946684800

// AccountInfo is the account_info view the node exposes: balance,
// sequence, and the optional published message key.
type AccountInfo struct {
	Address      string
	BalanceDrops uint64
	Sequence     uint32
	OwnerCount   uint32
	MessageKey   string
	Validated    bool
}

// ServerInfo summarizes the queried node's view of the network.
type ServerInfo struct {
	NetworkID       uint32
	ValidatedLedger uint32
	BaseFeeDrops    uint64
	ReserveBase     uint64
	ServerState     string
	CompleteLedgers string
}

// Transaction is one account_tx history record, flattened from the
// tx/meta pair the ledger returns.
type Transaction struct {
	Hash            string
	TransactionType string
	Account         string
	Destination     string
	Amount          Amount
	DeliveredAmount Amount
	Fee             string
	Sequence        uint32
	SigningPubKey   string
	Memos           []memo.Memo
	LedgerIndex     uint32
	Timestamp       time.Time
	Validated       bool
	// Result is the meta TransactionResult; empty when the record
	// carries no metadata.
	Result string
}

// Succeeded is permissive: a record without result metadata counts as
// successful so partially populated history is not dropped.
func (t Transaction) Succeeded() bool {
	return t.Result == "" || t.Result == "tesSUCCESS"
}

// TxHistoryPage is one page of account_tx output plus the resumption
// marker for the next page, opaque to callers.
type TxHistoryPage struct {
	Transactions []Transaction
	Marker       json.RawMessage
}

// TxHistoryOptions bound one account_tx request.
type TxHistoryOptions struct {
	MinLedger uint32
	Limit     int
	// Forward asks the node for ascending ledger order, which is what
	// cursor-driven scans want. The default is newest first.
	Forward bool
	Marker  json.RawMessage
}

// SubmitResult is the immediate engine response to a submit call; it
// says nothing about final validation.
type SubmitResult struct {
	EngineResult        string
	EngineResultMessage string
	Accepted            bool
}

// TxStatus is the tx-by-hash view used while polling for validation.
type TxStatus struct {
	Hash        string
	Validated   bool
	Result      string
	LedgerIndex uint32
}

// TrustLine is one issued-currency line from account_lines.
type TrustLine struct {
	Account  string
	Currency string
	Balance  string
	Limit    string
}

// Wire shapes below mirror the node's JSON field names.

type accountDataJSON struct {
	Account    string `json:"Account"`
	Balance    string `json:"Balance"`
	Sequence   uint32 `json:"Sequence"`
	OwnerCount uint32 `json:"OwnerCount"`
	MessageKey string `json:"MessageKey"`
}

type accountInfoResultJSON struct {
	AccountData accountDataJSON `json:"account_data"`
	Validated   bool            `json:"validated"`
}

type serverInfoResultJSON struct {
	Info struct {
		NetworkID       uint32 `json:"network_id"`
		ServerState     string `json:"server_state"`
		CompleteLedgers string `json:"complete_ledgers"`
		ValidatedLedger struct {
			Seq            uint32  `json:"seq"`
			BaseFeeXRP     float64 `json:"base_fee_xrp"`
			ReserveBaseXRP float64 `json:"reserve_base_xrp"`
		} `json:"validated_ledger"`
	} `json:"info"`
}

type memoWrapperJSON struct {
	Memo memo.Memo `json:"Memo"`
}

type txJSON struct {
	Hash            string            `json:"hash"`
	TransactionType string            `json:"TransactionType"`
	Account         string            `json:"Account"`
	Destination     string            `json:"Destination"`
	Amount          *Amount           `json:"Amount"`
	Fee             string            `json:"Fee"`
	Sequence        uint32            `json:"Sequence"`
	SigningPubKey   string            `json:"SigningPubKey"`
	Memos           []memoWrapperJSON `json:"Memos"`
	Date            int64             `json:"date"`
	LedgerIndex     uint32            `json:"ledger_index"`
	InLedger        uint32            `json:"inLedger"`
}

type txMetaJSON struct {
	TransactionResult string  `json:"TransactionResult"`
	DeliveredAmount   *Amount `json:"delivered_amount"`
}

type accountTxItemJSON struct {
	Tx        *txJSON     `json:"tx"`
	Meta      *txMetaJSON `json:"meta"`
	Validated bool        `json:"validated"`
}

type accountTxResultJSON struct {
	Transactions []accountTxItemJSON `json:"transactions"`
	Marker       json.RawMessage     `json:"marker"`
}

type submitResultJSON struct {
	EngineResult        string `json:"engine_result"`
	EngineResultMessage string `json:"engine_result_message"`
	Accepted            bool   `json:"accepted"`
}

type txResultJSON struct {
	Hash        string      `json:"hash"`
	Validated   bool        `json:"validated"`
	LedgerIndex uint32      `json:"ledger_index"`
	Meta        *txMetaJSON `json:"meta"`
}

type accountLinesResultJSON struct {
	Lines []struct {
		Account  string `json:"account"`
		Currency string `json:"currency"`
		Balance  string `json:"balance"`
		Limit    string `json:"limit"`
	} `json:"lines"`
}

func (t *txJSON) toTransaction(meta *txMetaJSON, validated bool) Transaction {
	tx := Transaction{
		Hash:            t.Hash,
		TransactionType: t.TransactionType,
		Account:         t.Account,
		Destination:     t.Destination,
		Fee:             t.Fee,
		Sequence:        t.Sequence,
		SigningPubKey:   t.SigningPubKey,
		LedgerIndex:     t.LedgerIndex,
		Validated:       validated,
	}
	if tx.LedgerIndex == 0 {
		tx.LedgerIndex = t.InLedger
	}
	if t.Amount != nil {
		tx.Amount = *t.Amount
	}
	if t.Date != 0 {
		tx.Timestamp = time.Unix(ledgerEpochOffset+t.Date, 0).UTC()
	}
	for _, w := range t.Memos {
		tx.Memos = append(tx.Memos, w.Memo)
	}
	if meta != nil {
		tx.Result = meta.TransactionResult
		if meta.DeliveredAmount != nil {
			tx.DeliveredAmount = *meta.DeliveredAmount
		} else {
			tx.DeliveredAmount = tx.Amount
		}
	} else {
		tx.DeliveredAmount = tx.Amount
	}
	return tx
}
