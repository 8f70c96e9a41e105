package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ledgermsg/go-node/internal/agent"
)

func publishKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish-key",
		Short: "Publish the wallet's encryption key on its ledger account",
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := buildNode()
			if err != nil {
				return err
			}
			receipt, updated, err := node.Agent.PublishEncryptionKey(cmd.Context())
			out := cmd.OutOrStdout()
			if errors.Is(err, agent.ErrUnresolved) {
				fmt.Fprintf(out, "Submitted %s; outcome unresolved, check the hash later.\n", receipt.TxHash)
				return nil
			}
			if err != nil {
				return err
			}
			if !updated {
				fmt.Fprintln(out, "Message key already published.")
				return nil
			}
			fmt.Fprintf(out, "Published message key in ledger %d\nTx: %s\n", receipt.LedgerIndex, receipt.TxHash)
			return nil
		},
	}
}
