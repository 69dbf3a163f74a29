package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewWithdrawCommand 由提取者清空累计费用。
func NewWithdrawCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw",
		Short: "Drain the accumulated fees to the withdrawer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := opts.requireKey()
			if err != nil {
				return err
			}
			client, err := opts.client(key)
			if err != nil {
				return err
			}
			amount, err := client.Withdraw(cmd.Context())
			if err != nil {
				return err
			}
			return newPrinter(cmd, opts).print(map[string]string{"amount": amount.String()}, "withdrawn: "+amount.String())
		},
	}
}

// NewBalanceCommand 输出当前累计费用。
func NewBalanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the accumulated fee balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(nil)
			if err != nil {
				return err
			}
			amount, err := client.Balance(cmd.Context())
			if err != nil {
				return err
			}
			return newPrinter(cmd, opts).print(map[string]string{"amount": amount.String()}, "balance: "+amount.String())
		},
	}
}

// NewKeysCommand 输出账本公开参数。
func NewKeysCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Show the ledger's public parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(nil)
			if err != nil {
				return err
			}
			info, err := client.Keys(cmd.Context())
			if err != nil {
				return err
			}
			lines := []string{
				"identity:    " + info.Identity.Hex(),
				"oracle:      " + info.Oracle.Hex(),
				"withdrawer:  " + info.Withdrawer.Hex(),
				"min payment: " + info.MinPayment,
				"score type:  " + info.ScoreType.String(),
			}
			for _, v := range info.InputVerifiers {
				lines = append(lines, "verifier:    "+v.Hex())
			}
			for _, w := range info.Scoring.Weights {
				lines = append(lines, fmt.Sprintf("weight:      %s +%d", w.Name, w.Value))
			}
			return newPrinter(cmd, opts).print(info, lines...)
		},
	}
}
