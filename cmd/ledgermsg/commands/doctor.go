package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ledgermsg/go-node/internal/blobstore"
	"ledgermsg/go-node/internal/composition/daemon"
	"ledgermsg/go-node/internal/doctor"
	"ledgermsg/go-node/internal/ledger"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check whether this node is ready to send and receive",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps := doctor.Deps{ConfigErr: cfgErr}
			if cfgErr == nil {
				deps.Config = &cfg
			}

			// A missing wallet file is the expected state on a fresh
			// box; only an existing wallet is worth unlocking.
			if openWallet().Exists() {
				deps.Identity, deps.IdentityErr = loadIdentity()
			}

			if cfgErr == nil {
				logger := daemon.Logger(&cfg)
				if client, err := ledger.NewClient(ledger.Config{
					Endpoints:         cfg.LedgerRPCURLs,
					NetworkID:         cfg.NetworkID,
					RequestsPerSecond: cfg.RequestsPerSecond,
					Logger:            logger,
				}); err == nil {
					deps.Ledger = client
				}
				if store, err := blobstore.NewStore(blobstore.StoreConfig{
					BaseURL:   cfg.WriteGateURL,
					TokenPath: cfg.WriteGateTokenPath,
					Logger:    logger,
				}); err == nil {
					deps.Store = store
				}
				if gw, err := blobstore.NewGateway(blobstore.GatewayConfig{
					Bases:  cfg.GatewayURLs,
					Logger: logger,
				}); err == nil {
					deps.Gateways = gw
				}
			}

			report := doctor.Run(cmd.Context(), deps)

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, c := range report.Checks {
				status := "ok"
				if !c.OK {
					status = "FAIL"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, status, c.Detail)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if report.Ready {
				fmt.Fprintln(out, "\nNode is ready.")
			} else {
				fmt.Fprintln(out, "\nNode is not ready.")
			}
			return nil
		},
	}
}
