package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http/httptest"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"ConfidentialLedger/internal/acl"
	"ConfidentialLedger/internal/api"
	"ConfidentialLedger/internal/auth"
	"ConfidentialLedger/internal/decryption"
	"ConfidentialLedger/internal/economics"
	"ConfidentialLedger/internal/fhe"
	"ConfidentialLedger/internal/ledger"
	"ConfidentialLedger/internal/oracle"
	"ConfidentialLedger/internal/proofs"
	"ConfidentialLedger/internal/record"
	"ConfidentialLedger/internal/scoring"
	ledgersdk "ConfidentialLedger/sdk/go/ledger"
)

func mustKey() *ecdsa.PrivateKey {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return key
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	keys, err := fhe.GenerateKeySet(1024, 2, 3)
	if err != nil {
		panic(err)
	}
	owner, verifier, oracleKey, service, treasury := mustKey(), mustKey(), mustKey(), mustKey(), mustKey()

	srv, queue, coord := startLedger(keys, proofs.Address(verifier), proofs.Address(oracleKey), proofs.Address(service), proofs.Address(treasury))
	defer srv.Close()

	decryptor, err := fhe.NewDecryptor(keys)
	if err != nil {
		panic(err)
	}
	processor, err := oracle.NewProcessor(decryptor, oracleKey, coord, queue)
	if err != nil {
		panic(err)
	}
	go func() { _ = processor.Start(ctx) }()

	client, err := ledgersdk.NewClient(srv.URL, ledgersdk.WithSigner(owner))
	if err != nil {
		panic(err)
	}
	info, err := client.Keys(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("ledger %s scores %v\n", info.Identity.Hex(), info.Scoring.Names())

	encryptor := fhe.NewEncryptor(keys.Public)
	var inputs []*fhe.EncryptedInput
	for _, v := range []bool{true, true, false} {
		in, err := encryptor.EncryptBool(v)
		if err != nil {
			panic(err)
		}
		inputs = append(inputs, in)
	}
	proof, err := proofs.NewInputAttester(verifier).Attest(proofs.Address(owner), inputs)
	if err != nil {
		panic(err)
	}
	ciphertexts := make([]*fhe.Ciphertext, len(inputs))
	for i, in := range inputs {
		ciphertexts[i] = in.Ciphertext
	}

	id, err := client.CreateRecord(ctx, ciphertexts, proof, big.NewInt(100))
	if err != nil {
		panic(err)
	}
	fmt.Printf("created record %d\n", id)

	requestID, err := client.RequestDecryption(ctx, id)
	if err != nil {
		panic(err)
	}
	fmt.Printf("requested decryption %s\n", requestID)

	score, err := client.WaitForDecryption(ctx, id, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("record %d score %d\n", id, score)
}

func startLedger(keys *fhe.KeySet, verifier, oracleAddr, identity, withdrawer common.Address) (*httptest.Server, *decryption.MemoryQueue, *decryption.Coordinator) {
	store := record.NewMemoryStore()
	manager := acl.NewMemoryManager()
	queue := decryption.NewMemoryQueue(16)

	algebra, err := fhe.NewPaillierAlgebra(keys.Public)
	if err != nil {
		panic(err)
	}
	table := scoring.DefaultTable()
	engine, err := scoring.NewEngine(algebra, table)
	if err != nil {
		panic(err)
	}
	gate, err := economics.NewGate(store, big.NewInt(100), withdrawer)
	if err != nil {
		panic(err)
	}
	coord, err := decryption.NewCoordinator(store, manager, queue, oracleAddr)
	if err != nil {
		panic(err)
	}
	svc, err := ledger.New(ledger.Dependencies{
		Store:       store,
		ACL:         manager,
		Algebra:     algebra,
		Engine:      engine,
		Inputs:      proofs.NewInputVerifier(verifier),
		Gate:        gate,
		Coordinator: coord,
		Identity:    identity,
	})
	if err != nil {
		panic(err)
	}
	publicKey, err := json.Marshal(keys.Public)
	if err != nil {
		panic(err)
	}
	server := api.NewServer(":0", svc, auth.NewAuthenticator(), api.KeyInfo{
		PublicKey:  publicKey,
		Oracle:     oracleAddr,
		Identity:   identity,
		Withdrawer: withdrawer,
		MinPayment: gate.MinPayment().String(),
		Scoring:    table,
		ScoreType:  engine.OutputType(),
	})
	return httptest.NewServer(server.Handler()), queue, coord
}
