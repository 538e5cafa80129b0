package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"paper-trading-sim/internal/bus"
	"paper-trading-sim/internal/health"
	"paper-trading-sim/internal/models"
	"paper-trading-sim/internal/reporter"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Engine is the command surface the HTTP layer drives. *bot.Simulator
// implements it.
type Engine interface {
	OpenPosition(ctx context.Context, req models.OpenRequest) (models.Position, error)
	ClosePosition(id int64) (models.ClosedRecord, error)
	CloseAll() []models.ClosedRecord
	SetSymbol(ctx context.Context, symbol string) (models.StateView, error)
	Reset(balance, price float64) (models.StateView, error)
	State() models.StateView
	Symbols() []string
	Report() *reporter.Metrics
	Subscribe() *bus.Subscription
	Unsubscribe(sub *bus.Subscription)
}

// Server is the HTTP + SSE + WebSocket front of the simulator.
type Server struct {
	httpServer *http.Server
	engine     Engine
	health     *health.State
	logger     *zap.Logger
	cfg        models.ServerConfig
	heartbeat  time.Duration
	closing    chan struct{}
	closeOnce  sync.Once
}

// NewServer registers every route and wraps the mux with the middleware chain.
func NewServer(cfg models.ServerConfig, engine Engine, hs *health.State, logger *zap.Logger) *Server {
	s := &Server{
		engine:    engine,
		health:    hs,
		logger:    logger.Named("http"),
		cfg:       cfg,
		heartbeat: time.Duration(cfg.HeartbeatSec) * time.Second,
		closing:   make(chan struct{}),
	}
	if s.heartbeat <= 0 {
		s.heartbeat = 15 * time.Second
	}

	mux := http.NewServeMux()

	// 探针
	mux.HandleFunc("GET /livez", s.handleLive)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	// 查询
	mux.HandleFunc("GET /api/symbols", s.handleSymbols)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/report", s.handleReport)

	// 命令
	mux.HandleFunc("POST /api/symbol", s.handleSetSymbol)
	mux.HandleFunc("POST /api/order", s.handleOrder)
	mux.HandleFunc("POST /api/close", s.handleClose)
	mux.HandleFunc("POST /api/close_all", s.handleCloseAll)
	mux.HandleFunc("POST /api/reset", s.handleReset)

	// 推送
	mux.HandleFunc("GET /api/stream", s.handleStream)
	mux.HandleFunc("GET /ws", s.handleWS)

	var h http.Handler = mux
	h = recoverer(s.logger)(h)
	h = requestLogger(s.logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the full middleware-wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start binds the listen address and serves in the background. Bind errors
// are returned synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	s.logger.Info("HTTP 服务已启动", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP 服务异常退出", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown ends all streams, then waits for in-flight requests within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	s.logger.Info("HTTP 服务正在关闭")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
