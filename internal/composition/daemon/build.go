package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"ledgermsg/go-node/internal/agent"
	"ledgermsg/go-node/internal/blobstore"
	"ledgermsg/go-node/internal/bootstrap/nodeconfig"
	"ledgermsg/go-node/internal/identity"
	"ledgermsg/go-node/internal/keys"
	"ledgermsg/go-node/internal/ledger"
	"ledgermsg/go-node/internal/platform/privacylog"
	"ledgermsg/go-node/internal/scan"
	"ledgermsg/go-node/internal/storage"
	"ledgermsg/go-node/internal/txflow"
	"ledgermsg/go-node/pkg/models"
)

// WalletPassphraseEnv unlocks the wallet for non-interactive
// processes; the CLI also honors it so scripts need no -p flag.
const WalletPassphraseEnv = "LEDGERMSG_WALLET_PASSPHRASE"

// Node bundles the wired subsystems a process needs to operate one
// ledger account.
type Node struct {
	Config   *nodeconfig.Config
	Logger   *slog.Logger
	Identity *identity.Identity
	Ledger   *ledger.Client
	Agent    *agent.Agent
	Runtime  *agent.Runtime
	Cursors  *storage.CheckpointStore
}

// Logger builds the process logger: text on stderr at the configured
// level, with identifying values reduced to fingerprints before they
// reach the handler.
func Logger(cfg *nodeconfig.Config) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	return slog.New(privacylog.WrapHandler(handler))
}

// LoadIdentity opens the wallet for an unattended process, taking the
// passphrase from LEDGERMSG_WALLET_PASSPHRASE. Interactive callers
// prompt for the passphrase themselves and load the wallet directly.
func LoadIdentity(cfg *nodeconfig.Config) (*identity.Identity, error) {
	passphrase := strings.TrimSpace(os.Getenv(WalletPassphraseEnv))
	if passphrase == "" {
		return nil, fmt.Errorf("%w: set %s", identity.ErrPassphraseRequired, WalletPassphraseEnv)
	}
	return identity.NewWallet(WalletPath(ResolveDataDir(cfg.DataDir))).Load(passphrase)
}

// Build wires the full node graph from resolved configuration and a
// loaded identity: ledger client, key resolver, blob endpoints,
// scanner, transaction lifecycle, cursor store, agent, and runtime.
// Runtime deliveries without another consumer land in the log.
func Build(cfg *nodeconfig.Config, id *identity.Identity, logger *slog.Logger) (*Node, error) {
	if cfg == nil {
		return nil, errors.New("daemon: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if id == nil {
		return nil, errors.New("daemon: identity is required")
	}
	if logger == nil {
		logger = Logger(cfg)
	}

	ledgerClient, err := ledger.NewClient(ledger.Config{
		Endpoints:         cfg.LedgerRPCURLs,
		NetworkID:         cfg.NetworkID,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger client: %w", err)
	}
	store, err := blobstore.NewStore(blobstore.StoreConfig{
		BaseURL:   cfg.WriteGateURL,
		TokenPath: cfg.WriteGateTokenPath,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("write gate: %w", err)
	}
	gateway, err := blobstore.NewGateway(blobstore.GatewayConfig{
		Bases:  cfg.GatewayURLs,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("read gateways: %w", err)
	}
	cursors, err := ResolveState(ResolveDataDir(cfg.DataDir), cfg.EncryptState)
	if err != nil {
		return nil, fmt.Errorf("cursor store: %w", err)
	}

	a, err := agent.New(agent.Deps{
		Identity: id,
		Ledger:   ledgerClient,
		Resolver: keys.NewResolver(ledgerClient, 0, logger),
		Blobs:    store,
		Gateways: gateway,
		Scanner:  scan.New(ledgerClient, logger),
		Flow:     txflow.New(ledgerClient, logger),
		Cursors:  cursors,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	runtime := agent.NewRuntime(a, agent.RuntimeConfig{
		ScanInterval: cfg.ScanInterval,
		Deliver: func(m models.Message) {
			logger.Info("inbox message delivered",
				"from", m.From,
				"tx", m.TxHash,
				"ledger_index", m.LedgerIndex,
				"inline", m.Inline,
			)
		},
	})

	return &Node{
		Config:   cfg,
		Logger:   logger,
		Identity: id,
		Ledger:   ledgerClient,
		Agent:    a,
		Runtime:  runtime,
		Cursors:  cursors,
	}, nil
}
