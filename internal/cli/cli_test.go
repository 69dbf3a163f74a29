package cli

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ConfidentialLedger/internal/acl"
	"ConfidentialLedger/internal/api"
	"ConfidentialLedger/internal/auth"
	"ConfidentialLedger/internal/decryption"
	"ConfidentialLedger/internal/economics"
	"ConfidentialLedger/internal/fhe"
	"ConfidentialLedger/internal/fhe/fhetest"
	"ConfidentialLedger/internal/ledger"
	"ConfidentialLedger/internal/oracle"
	"ConfidentialLedger/internal/proofs"
	"ConfidentialLedger/internal/record"
	"ConfidentialLedger/internal/scoring"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "ledgerctl", cmd.Use)

	for _, name := range []string{"keygen", "submit", "show", "list", "request", "retrieve", "withdraw", "balance", "keys"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "balance", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestInvalidRecordID(t *testing.T) {
	_, err := execute(t, "show", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid record id")
}

type cliEnv struct {
	url      string
	dir      string
	queue    *decryption.MemoryQueue
	coord    *decryption.Coordinator
	client   *ecdsa.PrivateKey
	verifier *ecdsa.PrivateKey
	oracle   *ecdsa.PrivateKey
	treasury *ecdsa.PrivateKey
}

func (e *cliEnv) keyFile(t *testing.T, name string, key *ecdsa.PrivateKey) string {
	t.Helper()
	path := filepath.Join(e.dir, name+".key")
	require.NoError(t, proofs.SavePrivateKey(path, key))
	return path
}

func newCLIEnv(t *testing.T, algebra fhe.Algebra, publicKey json.RawMessage) *cliEnv {
	t.Helper()
	mustKey := func() *ecdsa.PrivateKey {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		return key
	}
	env := &cliEnv{
		dir:      t.TempDir(),
		queue:    decryption.NewMemoryQueue(16),
		client:   mustKey(),
		verifier: mustKey(),
		oracle:   mustKey(),
		treasury: mustKey(),
	}
	store := record.NewMemoryStore()
	manager := acl.NewMemoryManager()
	table := scoring.DefaultTable()
	engine, err := scoring.NewEngine(algebra, table)
	require.NoError(t, err)
	gate, err := economics.NewGate(store, big.NewInt(5), proofs.Address(env.treasury))
	require.NoError(t, err)
	env.coord, err = decryption.NewCoordinator(store, manager, env.queue, proofs.Address(env.oracle))
	require.NoError(t, err)
	svc, err := ledger.New(ledger.Dependencies{
		Store:       store,
		ACL:         manager,
		Algebra:     algebra,
		Engine:      engine,
		Inputs:      proofs.NewInputVerifier(proofs.Address(env.verifier)),
		Gate:        gate,
		Coordinator: env.coord,
		Identity:    common.HexToAddress("0xff"),
	})
	require.NoError(t, err)
	server := api.NewServer(":0", svc, auth.NewAuthenticator(), api.KeyInfo{
		PublicKey:      publicKey,
		InputVerifiers: []common.Address{proofs.Address(env.verifier)},
		Oracle:         proofs.Address(env.oracle),
		Identity:       common.HexToAddress("0xff"),
		Withdrawer:     proofs.Address(env.treasury),
		MinPayment:     "5",
		Scoring:        table,
		ScoreType:      fhe.TypeUint8,
	})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	env.url = ts.URL
	return env
}

func TestReadOnlyCommands(t *testing.T) {
	env := newCLIEnv(t, fhetest.Algebra{}, nil)

	out, err := execute(t, "--url", env.url, "balance")
	require.NoError(t, err)
	assert.Equal(t, "balance: 0\n", out)

	out, err = execute(t, "--url", env.url, "list", "--owner", proofs.Address(env.client).Hex())
	require.NoError(t, err)
	assert.Equal(t, "no records\n", out)

	out, err = execute(t, "--url", env.url, "--format", "json", "keys")
	require.NoError(t, err)
	var info api.KeyInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, proofs.Address(env.oracle), info.Oracle)
	assert.Equal(t, "5", info.MinPayment)

	_, err = execute(t, "--url", env.url, "show", "1")
	require.Error(t, err)
}

func TestSignedCommandsNeedKey(t *testing.T) {
	env := newCLIEnv(t, fhetest.Algebra{}, nil)

	for _, args := range [][]string{{"request", "1"}, {"retrieve", "1"}, {"withdraw"}} {
		_, err := execute(t, append([]string{"--url", env.url}, args...)...)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--key")
	}

	_, err := execute(t, "--url", env.url, "list")
	require.Error(t, err)
}

func TestWithdrawRequiresWithdrawer(t *testing.T) {
	env := newCLIEnv(t, fhetest.Algebra{}, nil)

	_, err := execute(t, "--url", env.url, "-k", env.keyFile(t, "client", env.client), "withdraw")
	require.Error(t, err)

	out, err := execute(t, "--url", env.url, "-k", env.keyFile(t, "treasury", env.treasury), "withdraw")
	require.NoError(t, err)
	assert.Equal(t, "withdrawn: 0\n", out)
}

func TestKeygenWritesFiles(t *testing.T) {
	if testing.Short() {
		t.Skip("生成 Paillier 密钥较慢")
	}
	dir := t.TempDir()
	out, err := execute(t, "--format", "json", "keygen", "--out", dir, "--bits", "512", "--roles", "service,oracle")
	require.NoError(t, err)

	var result KeygenResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Accounts, 2)

	full, err := fhe.LoadKeySet(result.KeySet)
	require.NoError(t, err)
	require.NoError(t, full.Validate(true))

	public, err := fhe.LoadKeySet(result.PublicKey)
	require.NoError(t, err)
	assert.Empty(t, public.Shares)

	oracleKey, err := proofs.LoadPrivateKey(filepath.Join(dir, "oracle.key"))
	require.NoError(t, err)
	assert.Equal(t, result.Accounts["oracle"], proofs.Address(oracleKey))

	_, err = os.Stat(filepath.Join(dir, "verifier.key"))
	assert.True(t, os.IsNotExist(err))
}

func TestSubmitRequestRetrieve(t *testing.T) {
	if testing.Short() {
		t.Skip("生成 Paillier 密钥较慢")
	}
	keys, err := fhe.GenerateKeySet(512, 2, 3)
	require.NoError(t, err)
	algebra, err := fhe.NewPaillierAlgebra(keys.Public)
	require.NoError(t, err)
	publicKey, err := json.Marshal(keys.Public)
	require.NoError(t, err)

	env := newCLIEnv(t, algebra, publicKey)
	decryptor, err := fhe.NewDecryptor(keys)
	require.NoError(t, err)
	processor, err := oracle.NewProcessor(decryptor, env.oracle, env.coord, env.queue)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = processor.Start(ctx) }()

	clientKey := env.keyFile(t, "client", env.client)
	verifierKey := env.keyFile(t, "verifier", env.verifier)

	_, err = execute(t, "--url", env.url, "-k", clientKey, "submit",
		"--verifier-key", verifierKey, "--inputs", "true,false", "--payment", "5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects 3 inputs")

	out, err := execute(t, "--url", env.url, "-k", clientKey, "submit",
		"--verifier-key", verifierKey, "--inputs", "true,false,true", "--payment", "5")
	require.NoError(t, err)
	assert.Equal(t, "record 1 created\n", out)

	out, err = execute(t, "--url", env.url, "-k", clientKey, "request", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "decryption of record 1 requested")

	out, err = execute(t, "--url", env.url, "-k", clientKey, "retrieve", "1", "--wait", "20s", "--interval", "50ms")
	require.NoError(t, err)
	assert.Equal(t, "record 1 score: 80\n", out)

	out, err = execute(t, "--url", env.url, "balance")
	require.NoError(t, err)
	assert.Equal(t, "balance: 5\n", out)
}
