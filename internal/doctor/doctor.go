// Package doctor runs the node's readiness checks: configuration,
// wallet, ledger connectivity, account funding, published key, and the
// blob endpoints. A report never aborts the process; every problem
// surfaces as a failed check with a reason.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledgermsg/go-node/internal/bootstrap/nodeconfig"
	"ledgermsg/go-node/internal/identity"
	"ledgermsg/go-node/internal/ledger"
)

// LedgerReader is the slice of the ledger client the doctor queries.
type LedgerReader interface {
	ServerInfo(ctx context.Context) (ledger.ServerInfo, error)
	AccountInfo(ctx context.Context, address string) (ledger.AccountInfo, error)
}

// Pinger reports whether an HTTP endpoint answers at all.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps carries whatever the caller managed to load. A nil Config or
// Identity is reported as a failing check using the paired error, not
// treated as a caller mistake; commands keep going where normal startup
// would stop.
type Deps struct {
	Config    *nodeconfig.Config
	ConfigErr error

	Identity    *identity.Identity
	IdentityErr error

	Ledger   LedgerReader
	Store    Pinger
	Gateways Pinger

	// Now stamps the report; nil uses the wall clock.
	Now func() time.Time
}

type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type Report struct {
	Ready     bool      `json:"ready"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

// Run executes the checks in order. Checks that depend on an earlier
// failure (account state needs a reachable ledger and a wallet) are
// omitted rather than reported as spurious failures.
func Run(ctx context.Context, deps Deps) Report {
	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}
	report := Report{
		Ready:     true,
		Checks:    make([]Check, 0, 8),
		CheckedAt: now().UTC(),
	}
	appendCheck := func(name string, ok bool, detail string) {
		report.Checks = append(report.Checks, Check{Name: name, OK: ok, Detail: detail})
		if !ok {
			report.Ready = false
		}
	}

	configOK := deps.ConfigErr == nil && deps.Config != nil
	configDetail := loadDetail(configOK, deps.ConfigErr, "configuration not loaded")
	if configOK {
		if err := deps.Config.Validate(); err != nil {
			configOK = false
			configDetail = err.Error()
		}
	}
	appendCheck("config_valid", configOK, configDetail)

	identityOK := deps.IdentityErr == nil && deps.Identity != nil
	appendCheck("identity_present", identityOK, loadDetail(identityOK, deps.IdentityErr, "wallet not initialized; run identity init"))

	var server ledger.ServerInfo
	ledgerOK := false
	switch {
	case deps.Ledger == nil:
		appendCheck("ledger_reachable", false, "ledger client not configured")
	default:
		var err error
		server, err = deps.Ledger.ServerInfo(ctx)
		if err != nil {
			appendCheck("ledger_reachable", false, err.Error())
		} else {
			ledgerOK = true
			appendCheck("ledger_reachable", true, "")
		}
	}

	if ledgerOK && configOK {
		match := server.NetworkID == deps.Config.NetworkID
		appendCheck("network_id_match", match,
			failDetail(!match, fmt.Sprintf("node reports network %d, config says %d", server.NetworkID, deps.Config.NetworkID)))
	}

	if ledgerOK && identityOK {
		info, err := deps.Ledger.AccountInfo(ctx, deps.Identity.Address)
		switch {
		case errors.Is(err, ledger.ErrAccountNotFound):
			appendCheck("account_funded", false, "account not found on the ledger; fund it to activate")
		case err != nil:
			appendCheck("account_funded", false, err.Error())
		default:
			funded := info.BalanceDrops >= server.ReserveBase
			appendCheck("account_funded", funded,
				failDetail(!funded, fmt.Sprintf("balance %d drops below base reserve %d", info.BalanceDrops, server.ReserveBase)))

			published := strings.EqualFold(info.MessageKey, deps.Identity.MessageKeyHex())
			detail := ""
			if !published {
				detail = "message key not published; run publish-key"
				if info.MessageKey != "" {
					detail = "published message key does not match this wallet"
				}
			}
			appendCheck("message_key_published", published, detail)
		}
	}

	appendCheck(pingCheck(ctx, "write_gate_reachable", deps.Store, "blob write gate not configured"))
	appendCheck(pingCheck(ctx, "gateway_reachable", deps.Gateways, "no read gateways configured"))

	return report
}

func pingCheck(ctx context.Context, name string, p Pinger, missing string) (string, bool, string) {
	if p == nil {
		return name, false, missing
	}
	if err := p.Ping(ctx); err != nil {
		return name, false, err.Error()
	}
	return name, true, ""
}

// loadDetail renders a load failure, or the fallback when the caller
// simply had nothing to pass.
func loadDetail(ok bool, err error, fallback string) string {
	if ok {
		return ""
	}
	if err != nil {
		return err.Error()
	}
	return fallback
}

func failDetail(failed bool, detail string) string {
	if !failed {
		return ""
	}
	return detail
}
