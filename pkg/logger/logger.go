// Package logger owns the process-wide slog loggers: the application logger
// and the audit logger that records ledger business events.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Redacted replaces the value of attributes listed in Config.Redact.
const Redacted = "[REDACTED]"

// DefaultRedact lists attribute keys that must never reach a log sink in
// clear: decrypted scores and key material.
var DefaultRedact = []string{"plaintext", "private_key", "key_share"}

// Config describes how the application logger should behave.
type Config struct {
	Level       string   `json:"level" yaml:"level"`
	Format      string   `json:"format" yaml:"format"`
	OutputPaths []string `json:"output_paths" yaml:"output_paths"`
	AddSource   bool     `json:"add_source" yaml:"add_source"`
	// Redact 追加需要脱敏的属性名，DefaultRedact 总是生效。
	Redact []string    `json:"redact" yaml:"redact"`
	Audit  AuditConfig `json:"audit" yaml:"audit"`
}

// AuditConfig controls the audit log, which records business events such as
// record creation, decryption requests and withdrawals.
type AuditConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

type state struct {
	app     *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
	// lazy 表示由 L() 以默认配置创建，允许被 Init 覆盖。
	lazy bool
}

var (
	mu      sync.RWMutex
	current *state
)

// Init configures the global logger instances. Only the first explicit call
// takes effect.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if current != nil && !current.lazy {
		return errors.New("logger already initialised")
	}
	st, err := build(cfg)
	if err != nil {
		return err
	}
	current = st
	return nil
}

func build(cfg Config) (*state, error) {
	st := &state{}
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: redactor(cfg.Redact),
	}
	writer, err := st.sink(cfg.OutputPaths)
	if err != nil {
		st.close()
		return nil, err
	}
	st.app = slog.New(newHandler(cfg.Format, writer, opts))

	if !cfg.Audit.Enabled {
		st.audit = st.app.With(slog.String("stream", "audit"))
		return st, nil
	}
	rotating, err := auditWriter(cfg.Audit)
	if err != nil {
		st.close()
		return nil, err
	}
	st.closers = append(st.closers, rotating)
	auditOpts := &slog.HandlerOptions{Level: slog.LevelInfo, ReplaceAttr: opts.ReplaceAttr}
	st.audit = slog.New(slog.NewJSONHandler(rotating, auditOpts)).With(slog.String("stream", "audit"))
	return st, nil
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// sink 把 stdout、stderr 与文件路径合并为一个 writer。
func (st *state) sink(outputs []string) (io.Writer, error) {
	if len(outputs) == 0 {
		return os.Stdout, nil
	}
	writers := make([]io.Writer, 0, len(outputs))
	for _, out := range outputs {
		switch strings.ToLower(out) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
			file, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", out, err)
			}
			st.closers = append(st.closers, file)
			writers = append(writers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func auditWriter(cfg AuditConfig) (*lumberjack.Logger, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit log path cannot be empty when enabled")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    positive(cfg.MaxSizeMB, 100),
		MaxBackups: positive(cfg.MaxBackups, 7),
		MaxAge:     positive(cfg.MaxAgeDays, 30),
		Compress:   cfg.Compress,
	}, nil
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// redactor 返回 slog 的 ReplaceAttr 钩子，按属性名（忽略大小写）脱敏。
func redactor(extra []string) func(groups []string, a slog.Attr) slog.Attr {
	keys := make([]string, 0, len(DefaultRedact)+len(extra))
	for _, k := range append(slices.Clone(DefaultRedact), extra...) {
		keys = append(keys, strings.ToLower(k))
	}
	return func(_ []string, a slog.Attr) slog.Attr {
		if slices.Contains(keys, strings.ToLower(a.Key)) {
			return slog.String(a.Key, Redacted)
		}
		return a
	}
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "warning":
		return slog.LevelWarn
	case "":
		return slog.LevelInfo
	}
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func (st *state) close() error {
	var err error
	for _, c := range st.closers {
		err = errors.Join(err, c.Close())
	}
	st.closers = nil
	return err
}

func get() *state {
	mu.RLock()
	st := current
	mu.RUnlock()
	if st != nil {
		return st
	}
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		st, _ := build(Config{})
		st.lazy = true
		current = st
	}
	return current
}

// L returns the structured logger instance.
func L() *slog.Logger {
	return get().app
}

// Audit returns the audit logger.
func Audit() *slog.Logger {
	return get().audit
}

// Sync flushes and closes file outputs.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return nil
	}
	return current.close()
}

// Named returns a child logger tagged with the provided component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}
