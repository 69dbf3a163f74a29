// Package cli implements ledgerctl, the command line client for the
// confidential ledger API.
package cli

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"ConfidentialLedger/internal/proofs"
	ledgersdk "ConfidentialLedger/sdk/go/ledger"
)

// EnvURL 指定默认的账本地址。
const EnvURL = "LEDGER_URL"

// ValidFormats 列出允许的输出格式。
var ValidFormats = []string{"text", "json"}

// RootOptions 保存所有子命令共享的全局参数。
type RootOptions struct {
	URL     string
	KeyFile string
	Format  string
	Timeout time.Duration
}

// NewRootCommand 构造 ledgerctl 根命令。
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Client for the confidential scoring ledger",
		Long: `ledgerctl submits encrypted records to a confidential ledger, requests
threshold decryption of their scores and manages the fee treasury.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	defaultURL := os.Getenv(EnvURL)
	if defaultURL == "" {
		defaultURL = "http://127.0.0.1:8080"
	}
	cmd.PersistentFlags().StringVar(&opts.URL, "url", defaultURL, "ledger API base URL")
	cmd.PersistentFlags().StringVarP(&opts.KeyFile, "key", "k", "", "hex secp256k1 key file used to sign requests")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", ledgersdk.DefaultHTTPTimeout, "per request timeout")

	cmd.AddCommand(NewKeygenCommand(opts))
	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewRequestCommand(opts))
	cmd.AddCommand(NewRetrieveCommand(opts))
	cmd.AddCommand(NewWithdrawCommand(opts))
	cmd.AddCommand(NewBalanceCommand(opts))
	cmd.AddCommand(NewKeysCommand(opts))

	return cmd
}

// signingKey 读取 --key 指定的私钥，未指定时返回 nil。
func (o *RootOptions) signingKey() (*ecdsa.PrivateKey, error) {
	if o.KeyFile == "" {
		return nil, nil
	}
	return proofs.LoadPrivateKey(o.KeyFile)
}

// requireKey 用于必须签名的子命令。
func (o *RootOptions) requireKey() (*ecdsa.PrivateKey, error) {
	key, err := o.signingKey()
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("this command needs a signing key: pass --key")
	}
	return key, nil
}

func (o *RootOptions) client(key *ecdsa.PrivateKey) (*ledgersdk.Client, error) {
	opts := []ledgersdk.Option{}
	if key != nil {
		opts = append(opts, ledgersdk.WithSigner(key))
	}
	if o.Timeout > 0 {
		opts = append(opts, ledgersdk.WithHTTPClient(newHTTPClient(o.Timeout)))
	}
	return ledgersdk.NewClient(o.URL, opts...)
}
