package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"ConfidentialLedger/internal/api"
	"ConfidentialLedger/internal/config"
	"ConfidentialLedger/internal/decryption"
	"ConfidentialLedger/internal/economics"
	"ConfidentialLedger/internal/fhe"
	"ConfidentialLedger/internal/ledger"
	"ConfidentialLedger/internal/observability/metrics"
	"ConfidentialLedger/internal/oracle"
	"ConfidentialLedger/internal/proofs"
	"ConfidentialLedger/internal/scoring"
	"ConfidentialLedger/pkg/logger"
	ledgersdk "ConfidentialLedger/sdk/go/ledger"
)

// main 是账本守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("ledgerd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()

	keys, err := fhe.LoadKeySet(cfg.Keys.KeySet)
	if err != nil {
		return err
	}

	queue, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeQuietly("解密任务队列", queue)

	group, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Address != "" {
		group.Go(func() error {
			return ignoreCanceled(metrics.StartServer(ctx, cfg.Metrics.Address))
		})
	}

	// 配置了 ledger_url 时本进程只作为预言机运行，结果通过 HTTP 回填。
	if cfg.Oracle.Enabled && cfg.Oracle.LedgerURL != "" {
		client, err := ledgersdk.NewClient(cfg.Oracle.LedgerURL)
		if err != nil {
			return err
		}
		processor, err := newOracle(cfg, keys, oracle.NewHTTPFulfiller(client), queue)
		if err != nil {
			return err
		}
		logger.L().Info("预言机以独立模式启动",
			slog.String("ledger_url", cfg.Oracle.LedgerURL),
			slog.String("oracle", processor.Address().Hex()))
		group.Go(func() error {
			return ignoreCanceled(processor.Start(ctx))
		})
		return group.Wait()
	}

	svc, info, err := buildLedger(ctx, cfg, keys, queue)
	if err != nil {
		return err
	}

	if cfg.Oracle.Enabled {
		processor, err := newOracle(cfg, keys, svc, queue)
		if err != nil {
			return err
		}
		group.Go(func() error {
			return ignoreCanceled(processor.Start(ctx))
		})
	}

	redriven, err := svc.Redrive(ctx, cfg.Oracle.RedriveSize)
	if err != nil {
		logger.L().Warn("重新投递未完成的解密请求失败", slog.String("error", err.Error()))
	} else if redriven > 0 {
		logger.L().Info("已重新投递未完成的解密请求", slog.Int("count", redriven))
	}

	authenticator, err := newAuthenticator(ctx, cfg)
	if err != nil {
		return err
	}
	server := api.NewServer(cfg.Server.Address, svc, authenticator, info)
	group.Go(func() error {
		return ignoreCanceled(server.Start(ctx))
	})
	return group.Wait()
}

// buildLedger 按配置组装存储、评分、费用与解密协调器。
func buildLedger(ctx context.Context, cfg *config.Config, keys *fhe.KeySet, queue decryption.Queue) (*ledger.Service, api.KeyInfo, error) {
	var info api.KeyInfo

	backend, err := openStore(ctx, cfg)
	if err != nil {
		return nil, info, err
	}
	bus, err := openEvents(ctx, cfg)
	if err != nil {
		return nil, info, err
	}

	algebra, err := fhe.NewPaillierAlgebra(keys.Public)
	if err != nil {
		return nil, info, err
	}
	engine, err := scoring.NewEngine(algebra, cfg.Scoring)
	if err != nil {
		return nil, info, err
	}
	minPayment, err := cfg.MinPayment()
	if err != nil {
		return nil, info, err
	}
	gate, err := economics.NewGate(backend.store, minPayment, cfg.Withdrawer())
	if err != nil {
		return nil, info, err
	}
	verifiers, err := cfg.InputVerifiers()
	if err != nil {
		return nil, info, err
	}
	oracleAddr, err := oracleAddress(cfg)
	if err != nil {
		return nil, info, err
	}
	coord, err := decryption.NewCoordinator(backend.store, backend.acl, queue, oracleAddr, decryption.WithEvents(bus))
	if err != nil {
		return nil, info, err
	}
	serviceKey, err := proofs.LoadPrivateKey(cfg.Keys.ServiceKey)
	if err != nil {
		return nil, info, err
	}

	svc, err := ledger.New(ledger.Dependencies{
		Store:       backend.store,
		ACL:         backend.acl,
		Algebra:     algebra,
		Engine:      engine,
		Inputs:      proofs.NewInputVerifier(verifiers...),
		Gate:        gate,
		Coordinator: coord,
		Events:      bus,
		Identity:    proofs.Address(serviceKey),
	})
	if err != nil {
		return nil, info, err
	}

	publicKey, err := json.Marshal(keys.Public)
	if err != nil {
		return nil, info, fmt.Errorf("序列化公钥失败: %w", err)
	}
	info = api.KeyInfo{
		PublicKey:      publicKey,
		InputVerifiers: verifiers,
		Oracle:         oracleAddr,
		Identity:       svc.ServiceIdentity(),
		Withdrawer:     gate.Withdrawer(),
		MinPayment:     minPayment.String(),
		Scoring:        cfg.Scoring,
		ScoreType:      engine.OutputType(),
	}
	logger.L().Info("账本已初始化",
		slog.String("storage", cfg.Storage.Driver),
		slog.String("queue", cfg.Queue.Driver),
		slog.String("identity", info.Identity.Hex()),
		slog.String("oracle", oracleAddr.Hex()))
	return svc, info, nil
}

// oracleAddress 返回协调器信任的预言机地址。进程内预言机的地址由其私钥推导，
// 同时配置两者时必须一致。
func oracleAddress(cfg *config.Config) (common.Address, error) {
	if !cfg.Oracle.Enabled {
		return common.HexToAddress(cfg.Keys.OracleAddress), nil
	}
	key, err := proofs.LoadPrivateKey(cfg.Oracle.Key)
	if err != nil {
		return common.Address{}, err
	}
	addr := proofs.Address(key)
	if cfg.Keys.OracleAddress != "" && common.HexToAddress(cfg.Keys.OracleAddress) != addr {
		return common.Address{}, fmt.Errorf("keys.oracle_address %s 与 oracle.key 对应地址 %s 不一致", cfg.Keys.OracleAddress, addr.Hex())
	}
	return addr, nil
}

func newOracle(cfg *config.Config, keys *fhe.KeySet, fulfiller oracle.Fulfiller, consumer decryption.Consumer) (*oracle.Processor, error) {
	decryptor, err := fhe.NewDecryptor(keys)
	if err != nil {
		return nil, err
	}
	key, err := proofs.LoadPrivateKey(cfg.Oracle.Key)
	if err != nil {
		return nil, err
	}
	return oracle.NewProcessor(decryptor, key, fulfiller, consumer,
		oracle.WithWorkerCount(cfg.Oracle.Workers),
		oracle.WithRetryPolicy(cfg.Oracle.MaxAttempts, cfg.Oracle.RetryBackoff),
		oracle.WithProcessorLogger(logger.Named("oracle")),
		oracle.WithAlertDispatcher(newAlerter(cfg)),
	)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func closeQuietly(name string, c interface{ Close() error }) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		logger.L().Warn("关闭"+name+"失败", slog.String("error", err.Error()))
	}
}
