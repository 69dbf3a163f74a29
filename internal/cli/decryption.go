package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	ledgersdk "ConfidentialLedger/sdk/go/ledger"
)

// NewRequestCommand 请求解密某条记录的评分。
func NewRequestCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "request <id>",
		Short: "Request threshold decryption of a record's score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			key, err := opts.requireKey()
			if err != nil {
				return err
			}
			client, err := opts.client(key)
			if err != nil {
				return err
			}
			requestID, err := client.RequestDecryption(cmd.Context(), id)
			if err != nil {
				return err
			}
			return newPrinter(cmd, opts).print(
				map[string]any{"id": id, "request_id": requestID},
				fmt.Sprintf("decryption of record %d requested (%s)", id, requestID),
			)
		},
	}
}

// NewRetrieveCommand 读取已回填的明文评分。
func NewRetrieveCommand(opts *RootOptions) *cobra.Command {
	var (
		wait     time.Duration
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "retrieve <id>",
		Short: "Read the decrypted score of a record",
		Long: `Read the decrypted score of a record. With --wait the command polls until
the oracle has fulfilled the request or the wait expires.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			key, err := opts.requireKey()
			if err != nil {
				return err
			}
			client, err := opts.client(key)
			if err != nil {
				return err
			}

			var score uint64
			if wait > 0 {
				ctx, cancel := context.WithTimeout(cmd.Context(), wait)
				defer cancel()
				score, err = client.WaitForDecryption(ctx, id, interval)
			} else {
				score, err = client.RetrieveDecryption(cmd.Context(), id)
			}
			if ledgersdk.IsPending(err) {
				return fmt.Errorf("record %d has not been decrypted yet", id)
			}
			if err != nil {
				return err
			}
			return newPrinter(cmd, opts).print(
				map[string]uint64{"id": id, "score": score},
				fmt.Sprintf("record %d score: %d", id, score),
			)
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 0, "poll until fulfilled or this long has passed")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval used with --wait")
	return cmd
}
