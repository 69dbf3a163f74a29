package cli

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/niclabs/tcpaillier"
	"github.com/spf13/cobra"

	"ConfidentialLedger/internal/fhe"
	"ConfidentialLedger/internal/proofs"
)

// SubmitOptions 保存 submit 子命令参数。
type SubmitOptions struct {
	*RootOptions
	Inputs      []bool
	Payment     string
	VerifierKey string
}

// NewSubmitCommand 在本地加密布尔输入并提交记录。
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Encrypt boolean inputs and create a record",
		Long: `Encrypt boolean inputs under the ledger's public key, attest them with the
input verifier key and submit the record signed by --key.

Inputs are given in scoring table order.

Example:
  ledgerctl submit -k keys/client.key --verifier-key keys/verifier.key \
    --inputs true,false,true --payment 1000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := runSubmit(cmd, opts)
			if err != nil {
				return err
			}
			return newPrinter(cmd, opts.RootOptions).print(map[string]uint64{"id": id}, fmt.Sprintf("record %d created", id))
		},
	}

	cmd.Flags().BoolSliceVar(&opts.Inputs, "inputs", nil, "boolean inputs in table order")
	cmd.Flags().StringVar(&opts.Payment, "payment", "0", "fee attached to the submission")
	cmd.Flags().StringVar(&opts.VerifierKey, "verifier-key", "", "key file of a trusted input verifier")
	_ = cmd.MarkFlagRequired("inputs")
	_ = cmd.MarkFlagRequired("verifier-key")

	return cmd
}

func runSubmit(cmd *cobra.Command, opts *SubmitOptions) (uint64, error) {
	payment, ok := new(big.Int).SetString(opts.Payment, 10)
	if !ok || payment.Sign() < 0 {
		return 0, fmt.Errorf("invalid payment %q", opts.Payment)
	}
	key, err := opts.requireKey()
	if err != nil {
		return 0, err
	}
	verifierKey, err := proofs.LoadPrivateKey(opts.VerifierKey)
	if err != nil {
		return 0, err
	}
	client, err := opts.client(key)
	if err != nil {
		return 0, err
	}

	ctx := cmd.Context()
	info, err := client.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch ledger keys: %w", err)
	}
	if len(opts.Inputs) != len(info.Scoring.Weights) {
		return 0, fmt.Errorf("ledger expects %d inputs (%v), got %d", len(info.Scoring.Weights), info.Scoring.Names(), len(opts.Inputs))
	}
	var pk tcpaillier.PubKey
	if err := json.Unmarshal(info.PublicKey, &pk); err != nil {
		return 0, fmt.Errorf("decode ledger public key: %w", err)
	}

	encryptor := fhe.NewEncryptor(&pk)
	encrypted := make([]*fhe.EncryptedInput, len(opts.Inputs))
	ciphertexts := make([]*fhe.Ciphertext, len(opts.Inputs))
	for i, v := range opts.Inputs {
		in, err := encryptor.EncryptBool(v)
		if err != nil {
			return 0, err
		}
		encrypted[i] = in
		ciphertexts[i] = in.Ciphertext
	}
	proof, err := proofs.NewInputAttester(verifierKey).Attest(proofs.Address(key), encrypted)
	if err != nil {
		return 0, err
	}
	return client.CreateRecord(ctx, ciphertexts, proof, payment)
}
