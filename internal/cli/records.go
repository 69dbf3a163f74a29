package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"ConfidentialLedger/internal/proofs"
)

// NewShowCommand 输出记录的公开元数据。
func NewShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show the public metadata of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := opts.client(nil)
			if err != nil {
				return err
			}
			meta, err := client.GetRecord(cmd.Context(), id)
			if err != nil {
				return err
			}
			lines := []string{
				fmt.Sprintf("id:        %d", meta.ID),
				"owner:     " + meta.Owner.Hex(),
				"submitted: " + time.Unix(meta.SubmittedAt, 0).UTC().Format(time.RFC3339),
				fmt.Sprintf("requested: %t", meta.DecryptionRequested),
				fmt.Sprintf("score:     %s (%s)", meta.ScoreHandle.Hex(), meta.ScoreType),
			}
			for _, in := range meta.Inputs {
				lines = append(lines, fmt.Sprintf("input %-10s %s", in.Name, in.Handle.Hex()))
			}
			return newPrinter(cmd, opts).print(meta, lines...)
		},
	}
}

// NewListCommand 列出某个所有者的记录。
func NewListCommand(opts *RootOptions) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List record ids owned by an address",
		Long: `List record ids owned by an address. Without --owner the address of
--key is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := resolveOwner(opts, owner)
			if err != nil {
				return err
			}
			client, err := opts.client(nil)
			if err != nil {
				return err
			}
			ids, err := client.ListRecords(cmd.Context(), addr)
			if err != nil {
				return err
			}
			parts := make([]string, len(ids))
			for i, id := range ids {
				parts[i] = fmt.Sprint(id)
			}
			text := "no records"
			if len(parts) > 0 {
				text = strings.Join(parts, " ")
			}
			return newPrinter(cmd, opts).print(map[string]any{"owner": addr, "ids": ids}, text)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner address")
	return cmd
}

func resolveOwner(opts *RootOptions, raw string) (common.Address, error) {
	if raw != "" {
		return proofs.ParseAddress(raw)
	}
	key, err := opts.signingKey()
	if err != nil {
		return common.Address{}, err
	}
	if key == nil {
		return common.Address{}, fmt.Errorf("pass --owner or --key")
	}
	return proofs.Address(key), nil
}
