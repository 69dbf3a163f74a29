package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"ConfidentialLedger/internal/decryption"
	xerrors "ConfidentialLedger/internal/errors"
	"ConfidentialLedger/internal/events"
	"ConfidentialLedger/internal/scoring"
	"ConfidentialLedger/internal/storage/mysql"
	"ConfidentialLedger/pkg/logger"
)

// EnvPath 指定配置文件路径的环境变量。
const EnvPath = "LEDGER_CONFIG"

// DefaultPath 是未设置环境变量时的配置文件路径。
const DefaultPath = "configs/ledger.yaml"

// Config 描述了账本在启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	Events    EventsConfig    `json:"events" yaml:"events"`
	Scoring   scoring.Table   `json:"scoring" yaml:"scoring"`
	Economics EconomicsConfig `json:"economics" yaml:"economics"`
	Keys      KeysConfig      `json:"keys" yaml:"keys"`
	Oracle    OracleConfig    `json:"oracle" yaml:"oracle"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Logging   logger.Config   `json:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Alerting  AlertingConfig  `json:"alerting" yaml:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址。
type ServerConfig struct {
	Address string `json:"address" yaml:"address"`
}

// StorageConfig 选择记录存储后端。
type StorageConfig struct {
	Driver string       `json:"driver" yaml:"driver"`
	MySQL  mysql.Config `json:"mysql" yaml:"mysql"`
	SQLite SQLiteConfig `json:"sqlite" yaml:"sqlite"`
}

// SQLiteConfig 描述 SQLite 文件位置。
type SQLiteConfig struct {
	Path string `json:"path" yaml:"path"`
}

// QueueConfig 选择解密任务队列。
type QueueConfig struct {
	Driver     string                      `json:"driver" yaml:"driver"`
	MemorySize int                         `json:"memory_size" yaml:"memory_size"`
	Redis      decryption.RedisQueueConfig `json:"redis" yaml:"redis"`
	RabbitMQ   decryption.RabbitMQConfig   `json:"rabbitmq" yaml:"rabbitmq"`
}

// EventsConfig 选择通知通道。
type EventsConfig struct {
	Driver string             `json:"driver" yaml:"driver"`
	Redis  events.RedisConfig `json:"redis" yaml:"redis"`
}

// EconomicsConfig 描述费用与提取者。
type EconomicsConfig struct {
	MinPayment string `json:"min_payment" yaml:"min_payment"`
	Withdrawer string `json:"withdrawer" yaml:"withdrawer"`
}

// KeysConfig 汇总密钥文件与受信任地址。
type KeysConfig struct {
	// KeySet 是门限 Paillier 密钥文件，账本只读取其中的公钥。
	KeySet string `json:"keyset" yaml:"keyset"`
	// ServiceKey 是账本身份私钥文件。
	ServiceKey     string   `json:"service_key" yaml:"service_key"`
	InputVerifiers []string `json:"input_verifiers" yaml:"input_verifiers"`
	OracleAddress  string   `json:"oracle_address" yaml:"oracle_address"`
}

// OracleConfig 控制是否在进程内运行预言机。
type OracleConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Workers     int    `json:"workers" yaml:"workers"`
	Key         string `json:"key" yaml:"key"`
	LedgerURL   string `json:"ledger_url" yaml:"ledger_url"`
	RedriveSize int    `json:"redrive_size" yaml:"redrive_size"`
	// MaxAttempts 是单个任务回填的最多尝试次数，用尽后告警并等待 Redrive。
	MaxAttempts  int           `json:"max_attempts" yaml:"max_attempts"`
	RetryBackoff time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
}

// AuthConfig 控制请求签名校验。
type AuthConfig struct {
	MaxSkew time.Duration `json:"max_skew" yaml:"max_skew"`
	Replay  string        `json:"replay" yaml:"replay"`
}

// MetricsConfig 控制独立的指标端口，为空时仅挂载在 API 上。
type MetricsConfig struct {
	Address string `json:"address" yaml:"address"`
}

// AlertingConfig 配置告警渠道。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// PathFromEnv 返回配置文件路径。
func PathFromEnv() string {
	if path := strings.TrimSpace(os.Getenv(EnvPath)); path != "" {
		return path
	}
	return DefaultPath
}

// Load 按扩展名解析 YAML 或 JSON 配置文件，填充默认值并校验。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(content, &cfg)
	default:
		err = yaml.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = "data/ledger.db"
	}
	c.Storage.SQLite.Path = resolve(baseDir, c.Storage.SQLite.Path)
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.MemorySize <= 0 {
		c.Queue.MemorySize = 256
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if len(c.Scoring.Weights) == 0 {
		c.Scoring = scoring.DefaultTable()
	}
	if c.Scoring.OutputBits == 0 {
		c.Scoring.OutputBits = 8
	}
	if c.Economics.MinPayment == "" {
		c.Economics.MinPayment = "0"
	}
	c.Keys.KeySet = resolve(baseDir, c.Keys.KeySet)
	c.Keys.ServiceKey = resolve(baseDir, c.Keys.ServiceKey)
	c.Oracle.Key = resolve(baseDir, c.Oracle.Key)
	if c.Oracle.Workers <= 0 {
		c.Oracle.Workers = 2
	}
	if c.Oracle.RedriveSize <= 0 {
		c.Oracle.RedriveSize = 1000
	}
	if c.Oracle.MaxAttempts <= 0 {
		c.Oracle.MaxAttempts = 5
	}
	if c.Oracle.RetryBackoff <= 0 {
		c.Oracle.RetryBackoff = time.Second
	}
	if c.Auth.Replay == "" {
		c.Auth.Replay = "memory"
	}
	if c.Logging.Audit.Enabled {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)
	}
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate 检查启动期约束，所有错误均为 CONFIGURATION_INVALID。
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf(format, args...))
	}
	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "mysql":
		if strings.TrimSpace(c.Storage.MySQL.DSN) == "" {
			return invalid("storage.mysql.dsn 不能为空")
		}
	default:
		return invalid("不支持的存储驱动 %q", c.Storage.Driver)
	}
	switch c.Queue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return invalid("不支持的队列驱动 %q", c.Queue.Driver)
	}
	switch c.Events.Driver {
	case "none", "memory", "redis":
	default:
		return invalid("不支持的通知驱动 %q", c.Events.Driver)
	}
	switch c.Auth.Replay {
	case "none", "memory", "redis":
	default:
		return invalid("不支持的防重放后端 %q", c.Auth.Replay)
	}
	if c.Auth.Replay == "redis" && c.Events.Redis.Address == "" && c.Queue.Redis.Address == "" {
		return invalid("auth.replay=redis 需要配置 Redis 地址")
	}
	if err := c.Scoring.Validate(); err != nil {
		return err
	}
	if _, err := c.MinPayment(); err != nil {
		return err
	}
	if !common.IsHexAddress(c.Economics.Withdrawer) {
		return invalid("economics.withdrawer 必须为十六进制地址")
	}
	if _, err := c.InputVerifiers(); err != nil {
		return err
	}
	if c.Keys.KeySet == "" {
		return invalid("keys.keyset 不能为空")
	}
	if c.Keys.ServiceKey == "" {
		return invalid("keys.service_key 不能为空")
	}
	if c.Oracle.Enabled {
		if c.Oracle.Key == "" {
			return invalid("启用预言机时 oracle.key 不能为空")
		}
	} else if !common.IsHexAddress(c.Keys.OracleAddress) {
		return invalid("未启用进程内预言机时 keys.oracle_address 必须为十六进制地址")
	}
	if c.Oracle.LedgerURL != "" {
		if !c.Oracle.Enabled {
			return invalid("oracle.ledger_url 只在 oracle.enabled 时生效")
		}
		// 独立预言机与账本不在同一进程，内存队列收不到账本投递的任务。
		if c.Queue.Driver == "memory" {
			return invalid("独立预言机模式需要 redis 或 rabbitmq 队列")
		}
	}
	return nil
}

// MinPayment 解析最低费用。
func (c *Config) MinPayment() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(c.Economics.MinPayment, 10)
	if !ok || amount.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeConfiguration, "economics.min_payment 必须为非负十进制整数")
	}
	return amount, nil
}

// Withdrawer 返回提取者地址。
func (c *Config) Withdrawer() common.Address {
	return common.HexToAddress(c.Economics.Withdrawer)
}

// InputVerifiers 解析受信任的输入校验方地址。
func (c *Config) InputVerifiers() ([]common.Address, error) {
	if len(c.Keys.InputVerifiers) == 0 {
		return nil, xerrors.New(xerrors.CodeConfiguration, "keys.input_verifiers 不能为空")
	}
	out := make([]common.Address, 0, len(c.Keys.InputVerifiers))
	for _, raw := range c.Keys.InputVerifiers {
		if !common.IsHexAddress(raw) {
			return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("输入校验方地址非法: %q", raw))
		}
		out = append(out, common.HexToAddress(raw))
	}
	return out, nil
}
