package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the daemon's log outputs.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig controls the rotated action audit file.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// 审计文件默认轮转参数。
const (
	defaultAuditSizeMB  = 100
	defaultAuditBackups = 7
	defaultAuditAgeDays = 30
)

const redacted = "[REDACTED]"

// 这些键的值可能是私钥或 API 凭据，任何日志都不应原样输出。
var secretKeys = []string{"private_key", "privatekey", "api_key", "apikey", "signer_uuid", "secret", "password", "dsn"}

// sinks 是一次 Init 产生的全部日志出口。
type sinks struct {
	app     *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var (
	mu      sync.Mutex
	active  *sinks
	initErr error
)

// Init 构建全局日志。只有第一次调用生效，之后的调用返回第一次的结果。
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if active != nil || initErr != nil {
		return initErr
	}
	s, err := build(cfg)
	if err != nil {
		initErr = err
		return err
	}
	active = s
	return nil
}

func build(cfg Config) (*sinks, error) {
	s := &sinks{}
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level == slog.LevelDebug,
		ReplaceAttr: redactSecrets,
	}

	w, err := s.appWriter(cfg.OutputPaths)
	if err != nil {
		s.close()
		return nil, err
	}
	if strings.EqualFold(cfg.Format, "text") {
		s.app = slog.New(slog.NewTextHandler(w, opts))
	} else {
		s.app = slog.New(slog.NewJSONHandler(w, opts))
	}

	// 未开启审计文件时，审计记录混入主日志并打上 stream 标记。
	s.audit = s.app.With("stream", "audit")
	if cfg.Audit.Enabled {
		audit, err := buildAuditLogger(cfg.Audit)
		if err != nil {
			s.close()
			return nil, err
		}
		s.audit = audit
	}
	return s, nil
}

func (s *sinks) appWriter(targets []string) (io.Writer, error) {
	if len(targets) == 0 {
		return os.Stdout, nil
	}
	writers := make([]io.Writer, 0, len(targets))
	for _, target := range targets {
		w, err := s.open(target)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

// open 解析 stdout/stderr 或文件路径，文件按追加模式打开。
func (s *sinks) open(target string) (io.Writer, error) {
	switch strings.ToLower(strings.TrimSpace(target)) {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", target, err)
	}
	s.closers = append(s.closers, file)
	return file, nil
}

func (s *sinks) close() error {
	var err error
	for _, c := range s.closers {
		err = errors.Join(err, c.Close())
	}
	s.closers = nil
	return err
}

// buildAuditLogger writes one JSON line per executed action into a
// size-rotated file. The rotating writer is registered so Sync closes it.
func buildAuditLogger(cfg AuditConfig) (*slog.Logger, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit log path cannot be empty when enabled")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	rotated := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    positiveOr(cfg.MaxSizeMB, defaultAuditSizeMB),
		MaxBackups: positiveOr(cfg.MaxBackups, defaultAuditBackups),
		MaxAge:     positiveOr(cfg.MaxAgeDays, defaultAuditAgeDays),
		Compress:   cfg.Compress,
	}
	registerCloser(rotated)
	return slog.New(slog.NewJSONHandler(rotated, &slog.HandlerOptions{
		Level:       slog.LevelInfo,
		ReplaceAttr: redactSecrets,
	})), nil
}

var (
	extraMu      sync.Mutex
	extraClosers []io.Closer
)

func registerCloser(c io.Closer) {
	extraMu.Lock()
	extraClosers = append(extraClosers, c)
	extraMu.Unlock()
}

// redactSecrets 屏蔽凭据类字段的值，键名匹配不区分大小写。
func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, secret := range secretKeys {
		if strings.Contains(key, secret) {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func current() *sinks {
	mu.Lock()
	s := active
	mu.Unlock()
	if s != nil {
		return s
	}
	if err := Init(Config{}); err != nil {
		return &sinks{app: slog.Default(), audit: slog.Default()}
	}
	mu.Lock()
	defer mu.Unlock()
	return active
}

// L returns the daemon logger, initialising a stdout JSON logger on first use.
func L() *slog.Logger {
	return current().app
}

// Audit returns the action audit logger.
func Audit() *slog.Logger {
	return current().audit
}

// Sync closes file outputs so buffered lines reach disk before exit.
func Sync() error {
	mu.Lock()
	var err error
	if active != nil {
		err = active.close()
	}
	mu.Unlock()

	extraMu.Lock()
	defer extraMu.Unlock()
	for _, c := range extraClosers {
		err = errors.Join(err, c.Close())
	}
	extraClosers = nil
	return err
}

// Named returns a child logger tagged with the component name.
func Named(name string) *slog.Logger {
	return L().With("component", name)
}
