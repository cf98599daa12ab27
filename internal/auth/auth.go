package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
)

// 认证失败时返回的错误。
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Mode 描述认证模式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
)

// Service 使用静态 Bearer Token 保护运维接口。
type Service struct {
	mode  Mode
	token []byte
	audit *slog.Logger
}

// Option 定义可选配置。
type Option func(*Service)

// WithAuditLogger 指定审计日志输出。
func WithAuditLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.audit = l
		}
	}
}

// NewService 创建认证服务。token 为空时认证被关闭，所有请求直接放行。
func NewService(token string, opts ...Option) *Service {
	s := &Service{mode: ModeDisabled}
	if token = strings.TrimSpace(token); token != "" {
		s.mode = ModeToken
		s.token = []byte(token)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Mode 返回当前的认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Authenticate 校验 Authorization 头。
func (s *Service) Authenticate(header string) error {
	if s.Mode() == ModeDisabled {
		return nil
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), s.token) != 1 {
		return ErrInvalidToken
	}
	return nil
}
