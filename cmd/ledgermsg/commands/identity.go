package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ledgermsg/go-node/pkg/models"
)

func identityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage the node's wallet",
	}
	cmd.AddCommand(identityInitCmd(), identityShowCmd(), identityRecoverCmd())
	return cmd
}

func identityInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate a wallet and print the backup mnemonic",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := walletPassphrase()
			if err != nil {
				return err
			}
			mnemonic, id, err := openWallet().Create(pass)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Address: %s\n", id.Address)
			fmt.Fprintf(out, "Message key: %s\n", id.MessageKeyHex())
			fmt.Fprintf(out, "Backup mnemonic (shown once, write it down):\n  %s\n", mnemonic)
			return nil
		},
	}
}

func identityShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the wallet's address and public keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := loadIdentity()
			if err != nil {
				return err
			}
			info := models.IdentityInfo{
				Address:             id.Address,
				SigningPublicKey:    id.SigningPublicKeyHex(),
				EncryptionPublicKey: id.MessageKeyHex(),
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Fprintf(out, "Address: %s\n", info.Address)
			fmt.Fprintf(out, "Signing key: %s\n", info.SigningPublicKey)
			fmt.Fprintf(out, "Message key: %s\n", info.EncryptionPublicKey)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func identityRecoverCmd() *cobra.Command {
	var mnemonic string
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Restore a wallet from its backup mnemonic",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := walletPassphrase()
			if err != nil {
				return err
			}
			phrase := strings.TrimSpace(mnemonic)
			if phrase == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Mnemonic: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				phrase = strings.TrimSpace(line)
				if err != nil && phrase == "" {
					return err
				}
			}
			id, err := openWallet().Import(phrase, pass)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recovered %s\n", id.Address)
			return nil
		},
	}
	cmd.Flags().StringVar(&mnemonic, "mnemonic", "", "backup mnemonic (prompted when omitted)")
	return cmd
}
