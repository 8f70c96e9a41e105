package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ledgermsg/go-node/internal/platform/metrics"
)

var (
	// ErrAccountNotFound means the queried account has no entry on the
	// validated ledger. Callers treat this as a normal condition for
	// fresh, never-funded accounts.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrTxNotFound means the node has no record of the transaction hash.
	ErrTxNotFound = errors.New("ledger: transaction not found")
	// ErrNotSynced means the node answered but is not in sync with the
	// network and its data cannot be trusted.
	ErrNotSynced = errors.New("ledger: node not synced")
	// ErrNoSigningKey means no signed transaction from the account was
	// found, so its public signing key cannot be recovered.
	ErrNoSigningKey = errors.New("ledger: no signing key on record")
	// ErrTransport wraps connectivity failures after every configured
	// endpoint has been tried.
	ErrTransport = errors.New("ledger: all endpoints unreachable")
)

const (
	defaultHTTPTimeout = 15 * time.Second
	defaultRateLimit   = 10
	defaultBaseFee     = 10
	signingProbeLimit  = 20
)

// Config carries the connection settings for a ledger node client.
type Config struct {
	// Endpoints lists JSON-RPC URLs in preference order. The first
	// reachable endpoint serves the request.
	Endpoints []string
	// NetworkID is the chain the client expects to talk to. It is not
	// sent on queries; transaction preparation consumes it.
	NetworkID uint32
	// HTTPTimeout bounds a single request attempt.
	HTTPTimeout time.Duration
	// RequestsPerSecond throttles outbound calls across all endpoints.
	RequestsPerSecond float64
	Logger            *slog.Logger
}

// Client talks XRPL-style JSON-RPC to one of a list of nodes. Node-level
// errors are mapped to sentinels and never retried; transport failures
// fail over to the next endpoint.
type Client struct {
	endpoints []string
	networkID uint32
	httpc     *http.Client
	limiter   *rate.Limiter
	log       *slog.Logger
}

// NewClient validates cfg and builds a client. At least one endpoint is
// required.
func NewClient(cfg Config) (*Client, error) {
	endpoints := make([]string, 0, len(cfg.Endpoints))
	for _, e := range cfg.Endpoints {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		endpoints = append(endpoints, strings.TrimRight(e, "/"))
	}
	if len(endpoints) == 0 {
		return nil, errors.New("ledger: no endpoints configured")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRateLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoints: endpoints,
		networkID: cfg.NetworkID,
		httpc:     &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		log:       logger,
	}, nil
}

// NetworkID reports the chain this client was configured for.
func (c *Client) NetworkID() uint32 {
	return c.networkID
}

// AccountInfo fetches the validated-ledger state of an account.
func (c *Client) AccountInfo(ctx context.Context, address string) (AccountInfo, error) {
	params := map[string]any{
		"account":      address,
		"ledger_index": "validated",
	}
	var result accountInfoResultJSON
	if err := c.call(ctx, "account_info", params, &result); err != nil {
		return AccountInfo{}, err
	}
	info := AccountInfo{
		Address:    result.AccountData.Account,
		Sequence:   result.AccountData.Sequence,
		OwnerCount: result.AccountData.OwnerCount,
		MessageKey: result.AccountData.MessageKey,
		Validated:  result.Validated,
	}
	if result.AccountData.Balance != "" {
		drops, err := strconv.ParseUint(result.AccountData.Balance, 10, 64)
		if err != nil {
			return AccountInfo{}, fmt.Errorf("ledger: parse account balance %q: %w", result.AccountData.Balance, err)
		}
		info.BalanceDrops = drops
	}
	return info, nil
}

// ServerInfo reports the node's view of the network: validated ledger
// sequence, base fee in drops, reserve, and network id.
func (c *Client) ServerInfo(ctx context.Context) (ServerInfo, error) {
	var result serverInfoResultJSON
	if err := c.call(ctx, "server_info", map[string]any{}, &result); err != nil {
		return ServerInfo{}, err
	}
	info := ServerInfo{
		NetworkID:       result.Info.NetworkID,
		ValidatedLedger: result.Info.ValidatedLedger.Seq,
		BaseFeeDrops:    xrpToDrops(result.Info.ValidatedLedger.BaseFeeXRP),
		ReserveBase:     xrpToDrops(result.Info.ValidatedLedger.ReserveBaseXRP),
		ServerState:     result.Info.ServerState,
		CompleteLedgers: result.Info.CompleteLedgers,
	}
	if info.BaseFeeDrops == 0 {
		info.BaseFeeDrops = defaultBaseFee
	}
	return info, nil
}

// AccountTransactions pages through an account's transaction history.
// Paging state travels in the opaque Marker; a nil marker on the
// returned page means the history is exhausted.
func (c *Client) AccountTransactions(ctx context.Context, address string, opts TxHistoryOptions) (TxHistoryPage, error) {
	params := map[string]any{
		"account":          address,
		"ledger_index_max": -1,
	}
	if opts.MinLedger > 0 {
		params["ledger_index_min"] = opts.MinLedger
	} else {
		params["ledger_index_min"] = -1
	}
	if opts.Limit > 0 {
		params["limit"] = opts.Limit
	}
	if opts.Forward {
		params["forward"] = true
	}
	if len(opts.Marker) > 0 {
		params["marker"] = json.RawMessage(opts.Marker)
	}
	var result accountTxResultJSON
	if err := c.call(ctx, "account_tx", params, &result); err != nil {
		return TxHistoryPage{}, err
	}
	page := TxHistoryPage{Marker: result.Marker}
	for _, item := range result.Transactions {
		if item.Tx == nil {
			continue
		}
		page.Transactions = append(page.Transactions, item.Tx.toTransaction(item.Meta, item.Validated))
	}
	return page, nil
}

// SigningPublicKey recovers an account's public signing key from its most
// recent outbound transaction. Accounts that have never signed anything
// yield ErrNoSigningKey.
func (c *Client) SigningPublicKey(ctx context.Context, address string) (string, error) {
	page, err := c.AccountTransactions(ctx, address, TxHistoryOptions{Limit: signingProbeLimit})
	if err != nil {
		return "", err
	}
	for _, tx := range page.Transactions {
		if tx.Account == address && tx.SigningPubKey != "" {
			return tx.SigningPubKey, nil
		}
	}
	return "", ErrNoSigningKey
}

// Submit sends a signed transaction blob to the network and reports the
// node's preliminary engine result.
func (c *Client) Submit(ctx context.Context, txBlobHex string) (SubmitResult, error) {
	params := map[string]any{"tx_blob": txBlobHex}
	var result submitResultJSON
	if err := c.call(ctx, "submit", params, &result); err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{
		EngineResult:        result.EngineResult,
		EngineResultMessage: result.EngineResultMessage,
		Accepted:            result.Accepted,
	}, nil
}

// Tx looks up a transaction by hash and reports whether a validated
// ledger contains it.
func (c *Client) Tx(ctx context.Context, hash string) (TxStatus, error) {
	params := map[string]any{"transaction": hash}
	var result txResultJSON
	if err := c.call(ctx, "tx", params, &result); err != nil {
		return TxStatus{}, err
	}
	status := TxStatus{
		Hash:        result.Hash,
		Validated:   result.Validated,
		LedgerIndex: result.LedgerIndex,
	}
	if result.Meta != nil {
		status.Result = result.Meta.TransactionResult
	}
	return status, nil
}

// AccountLines lists the account's trust lines on the validated ledger.
func (c *Client) AccountLines(ctx context.Context, address string) ([]TrustLine, error) {
	params := map[string]any{
		"account":      address,
		"ledger_index": "validated",
	}
	var result accountLinesResultJSON
	if err := c.call(ctx, "account_lines", params, &result); err != nil {
		return nil, err
	}
	lines := make([]TrustLine, 0, len(result.Lines))
	for _, l := range result.Lines {
		lines = append(lines, TrustLine{
			Account:  l.Account,
			Currency: l.Currency,
			Balance:  l.Balance,
			Limit:    l.Limit,
		})
	}
	return lines, nil
}

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params,omitempty"`
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
}

type rpcStatus struct {
	Status       string `json:"status"`
	ErrorCode    string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

// call performs one JSON-RPC request with endpoint failover. A node that
// answers with an application-level error ends the attempt chain: the
// other endpoints see the same ledger and would answer the same.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(rpcRequest{Method: method, Params: []any{params}})
	if err != nil {
		return fmt.Errorf("ledger: encode %s request: %w", method, err)
	}

	var attemptErrs []error
	for _, endpoint := range c.endpoints {
		raw, err := c.post(ctx, endpoint, body)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("ledger endpoint failed", "endpoint", endpoint, "method", method, "error", err)
			attemptErrs = append(attemptErrs, fmt.Errorf("%s: %w", endpoint, err))
			continue
		}
		if err := decodeResult(method, raw, out); err != nil {
			metrics.RecordLedgerRequest(method, "node_error")
			return err
		}
		metrics.RecordLedgerRequest(method, "ok")
		return nil
	}
	metrics.RecordLedgerRequest(method, "transport")
	return fmt.Errorf("%w: %s: %w", ErrTransport, method, errors.Join(attemptErrs...))
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) (retRaw json.RawMessage, retErr error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	var envelope rpcEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Result) == 0 {
		return nil, errors.New("response has no result")
	}
	return envelope.Result, nil
}

func decodeResult(method string, raw json.RawMessage, out any) error {
	var status rpcStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return fmt.Errorf("ledger: decode %s status: %w", method, err)
	}
	if status.Status == "error" || status.ErrorCode != "" {
		return mapNodeError(method, status)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("ledger: decode %s result: %w", method, err)
	}
	return nil
}

func mapNodeError(method string, status rpcStatus) error {
	switch status.ErrorCode {
	case "actNotFound":
		return ErrAccountNotFound
	case "txnNotFound":
		return ErrTxNotFound
	case "noNetwork", "notSynced", "noCurrent", "noClosed", "tooBusy":
		return fmt.Errorf("%w: %s", ErrNotSynced, status.ErrorCode)
	}
	msg := status.ErrorMessage
	if msg == "" {
		msg = status.ErrorCode
	}
	return fmt.Errorf("ledger: %s rejected: %s", method, msg)
}

func xrpToDrops(xrp float64) uint64 {
	if xrp <= 0 {
		return 0
	}
	return uint64(xrp*1_000_000 + 0.5)
}
