package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"ConfidentialLedger/internal/fhe"
	"ConfidentialLedger/internal/proofs"
)

// KeygenOptions 保存 keygen 子命令参数。
type KeygenOptions struct {
	Out       string
	Bits      int
	Threshold int
	Parties   int
	Roles     []string
}

// KeygenResult 描述生成的文件与地址。
type KeygenResult struct {
	KeySet    string                    `json:"keyset"`
	PublicKey string                    `json:"public_keyset"`
	Accounts  map[string]common.Address `json:"accounts"`
}

// NewKeygenCommand 生成门限 Paillier 密钥与各角色的签名私钥。
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the threshold keyset and role signing keys",
		Long: `Generate a threshold Paillier keyset plus one secp256k1 key per role.

keyset.json holds every private share and belongs to the oracle only.
public.json carries the public key and is what the ledger and clients load.

Example:
  ledgerctl keygen --out keys --threshold 2 --parties 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := runKeygen(opts)
			if err != nil {
				return err
			}
			lines := []string{
				"keyset:        " + result.KeySet,
				"public keyset: " + result.PublicKey,
			}
			for _, role := range opts.Roles {
				lines = append(lines, fmt.Sprintf("%-14s %s", role+":", result.Accounts[role].Hex()))
			}
			return newPrinter(cmd, rootOpts).print(result, lines...)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "keys", "output directory")
	cmd.Flags().IntVar(&opts.Bits, "bits", 2048, "Paillier modulus size")
	cmd.Flags().IntVar(&opts.Threshold, "threshold", 2, "shares needed to decrypt")
	cmd.Flags().IntVar(&opts.Parties, "parties", 3, "number of key shares")
	cmd.Flags().StringSliceVar(&opts.Roles, "roles", []string{"service", "oracle", "verifier", "client"}, "signing keys to generate")

	return cmd
}

func runKeygen(opts *KeygenOptions) (*KeygenResult, error) {
	if err := os.MkdirAll(opts.Out, 0o700); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	keys, err := fhe.GenerateKeySet(opts.Bits, opts.Threshold, opts.Parties)
	if err != nil {
		return nil, err
	}
	result := &KeygenResult{
		KeySet:    filepath.Join(opts.Out, "keyset.json"),
		PublicKey: filepath.Join(opts.Out, "public.json"),
		Accounts:  make(map[string]common.Address, len(opts.Roles)),
	}
	if err := fhe.SaveKeySet(result.KeySet, keys); err != nil {
		return nil, err
	}
	if err := fhe.SaveKeySet(result.PublicKey, keys.PublicOnly()); err != nil {
		return nil, err
	}
	for _, role := range opts.Roles {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate %s key: %w", role, err)
		}
		if err := proofs.SavePrivateKey(filepath.Join(opts.Out, role+".key"), key); err != nil {
			return nil, fmt.Errorf("save %s key: %w", role, err)
		}
		result.Accounts[role] = proofs.Address(key)
	}
	return result, nil
}
