package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ledgermsg/go-node/internal/agent"
	"ledgermsg/go-node/pkg/models"
)

func inboxCmd() *cobra.Command {
	var (
		sinceReset bool
		kinds      []string
		direction  string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Scan the account's history and print decrypted messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := buildNode()
			if err != nil {
				return err
			}
			msgs, err := node.Agent.Inbox(cmd.Context(), agent.InboxOptions{
				FromStart: sinceReset,
				Kinds:     kinds,
			})
			if err != nil {
				return err
			}
			if direction != "" {
				want := models.NormalizeDirection(direction)
				kept := msgs[:0]
				for _, m := range msgs {
					if m.Direction == want {
						kept = append(kept, m)
					}
				}
				msgs = kept
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(msgs)
			}
			if len(msgs) == 0 {
				fmt.Fprintln(out, "No new messages.")
				return nil
			}
			for _, m := range msgs {
				tag := ""
				if !m.Encrypted {
					tag = " (plain)"
				}
				fmt.Fprintf(out, "[%s] %s%s: %s\n", m.Timestamp.Format(time.RFC3339), m.From, tag, m.Text)
			}
			fmt.Fprintf(out, "%d message(s).\n", len(msgs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&sinceReset, "since-reset", false, "ignore the stored cursor and rescan history from the start")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "additional content kinds to include")
	cmd.Flags().StringVar(&direction, "direction", "", "show only inbound or outbound messages")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
