package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"CrabDAO-Agent/internal/agent"
	"CrabDAO-Agent/internal/auth"
	"CrabDAO-Agent/internal/observability/metrics"
	"CrabDAO-Agent/pkg/logger"
)

// Runtime 是 API 依赖的代理能力。
type Runtime interface {
	Stats() agent.Stats
	ProcessMentions(ctx context.Context) (int, error)
}

// Server 负责暴露 REST 接口，供运维查看与触发代理。
type Server struct {
	addr    string
	runtime Runtime
	metrics *metrics.Collector
	auth    *auth.Service
	logger  *slog.Logger
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithMetrics 替换指标收集器。
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		if c != nil {
			s.metrics = c
		}
	}
}

// WithAuth 使用 Bearer Token 保护会触发代理动作的接口。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, rt Runtime, opts ...Option) *Server {
	s := &Server{addr: addr, runtime: rt, metrics: metrics.Default(), logger: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", s.instrument("/healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/v1/status", s.instrument("/api/v1/status", http.HandlerFunc(s.handleStatus)))
	protect := s.auth.Middleware(auth.MiddlewareConfig{AuditEvent: "mentions.process"})
	mux.Handle("POST /api/v1/mentions/process",
		s.instrument("/api/v1/mentions/process", protect(http.HandlerFunc(s.handleProcessMentions))))
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.runtime == nil {
		http.Error(w, "Agent 未初始化", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.runtime.Stats())
}

func (s *Server) handleProcessMentions(w http.ResponseWriter, r *http.Request) {
	if s.runtime == nil {
		http.Error(w, "Agent 未初始化", http.StatusServiceUnavailable)
		return
	}
	// 客户端断开不应中断进行中的链上部署或回复。
	replied, err := s.runtime.ProcessMentions(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, agent.ErrBusy):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "cycle in progress"})
	case err != nil:
		s.logger.Warn("手动处理提及失败", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]int{"replied": replied})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument 记录请求次数与耗时。
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
