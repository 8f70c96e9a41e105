package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ledgermsg/go-node/internal/agent"
	"ledgermsg/go-node/pkg/models"
)

func sendCmd() *cobra.Command {
	var (
		to       string
		text     string
		inline   bool
		taskID   string
		threadID string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Seal a message for a peer and anchor it on the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := buildNode()
			if err != nil {
				return err
			}
			opts := agent.SendOptions{TaskID: taskID, ThreadID: threadID}
			var receipt models.SendReceipt
			if inline {
				receipt, err = node.Agent.SendInline(cmd.Context(), to, text, opts)
			} else {
				receipt, err = node.Agent.Send(cmd.Context(), to, text, opts)
			}
			out := cmd.OutOrStdout()
			if errors.Is(err, agent.ErrUnresolved) {
				fmt.Fprintf(out, "Submitted %s; outcome unresolved, check the hash later.\n", receipt.TxHash)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Committed in ledger %d\nTx: %s\n", receipt.LedgerIndex, receipt.TxHash)
			if receipt.CID != "" {
				fmt.Fprintf(out, "CID: %s\n", receipt.CID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient account address")
	cmd.Flags().StringVar(&text, "text", "", "message text")
	cmd.Flags().BoolVar(&inline, "inline", false, "carry the sealed message in the memo itself, no blob")
	cmd.Flags().StringVar(&taskID, "task", "", "task id to thread under (default: fresh)")
	cmd.Flags().StringVar(&threadID, "thread", "", "thread id to group under")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
