// Package commands implements the ledgermsg CLI. Configuration is
// resolved once in the persistent pre-run; the wallet is unlocked only
// by the commands that need it, so identity init and doctor work on a
// box with nothing set up yet.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"ledgermsg/go-node/internal/bootstrap/nodeconfig"
	"ledgermsg/go-node/internal/composition/daemon"
	"ledgermsg/go-node/internal/identity"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	dataDir    string
	passphrase string

	cfg    nodeconfig.Config
	cfgErr error
)

func Execute() error {
	root := &cobra.Command{
		Use:          "ledgermsg",
		Short:        "Encrypted messaging anchored on ledger transactions",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A broken config is not fatal here; commands that need
			// it fail with the load error, and doctor reports it as
			// a failing check instead.
			cfg, cfgErr = nodeconfig.LoadFromPath(configPath)
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			cfg.DataDir = daemon.ResolveDataDir(cfg.DataDir)
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (optional)")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "node data dir (default ~/.ledgermsg)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "wallet passphrase (or "+daemon.WalletPassphraseEnv+")")

	root.AddCommand(identityCmd(), publishKeyCmd(), sendCmd(), inboxCmd(), doctorCmd(), versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return root.ExecuteContext(ctx)
}

func requireConfig() (*nodeconfig.Config, error) {
	if cfgErr != nil {
		return nil, fmt.Errorf("load config: %w", cfgErr)
	}
	return &cfg, nil
}

func walletPassphrase() (string, error) {
	if p := strings.TrimSpace(passphrase); p != "" {
		return p, nil
	}
	if p := strings.TrimSpace(os.Getenv(daemon.WalletPassphraseEnv)); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("%w: pass -p or set %s", identity.ErrPassphraseRequired, daemon.WalletPassphraseEnv)
}

func openWallet() *identity.Wallet {
	return identity.NewWallet(daemon.WalletPath(cfg.DataDir))
}

func loadIdentity() (*identity.Identity, error) {
	pass, err := walletPassphrase()
	if err != nil {
		return nil, err
	}
	return openWallet().Load(pass)
}

func buildNode() (*daemon.Node, error) {
	c, err := requireConfig()
	if err != nil {
		return nil, err
	}
	id, err := loadIdentity()
	if err != nil {
		return nil, err
	}
	return daemon.Build(c, id, daemon.Logger(c))
}
