// Package api is the HTTP surface used by staff devices: effective status,
// enqueue, replay, connectivity and export endpoints.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"go.uber.org/zap"

	"gownqueue/internal/blob"
	"gownqueue/internal/core"
	"gownqueue/internal/export"
	"gownqueue/internal/network"
	"gownqueue/internal/queue"
	"gownqueue/internal/replay"
	"gownqueue/pkg/domain"
)

// Service is what the handlers need from the core service.
type Service interface {
	Enqueue(ctx context.Context, req domain.EnqueueRequest) (string, error)
	EffectiveStatus(ctx context.Context, entityID string) (domain.EffectiveStatus, error)
	Operations(entityID string, state domain.OperationState) []domain.Operation
	Retry(ctx context.Context, id string) (domain.Operation, error)
	Discard(ctx context.Context, id string) (domain.Operation, error)
	ClearErrored(ctx context.Context, entityID string) (int, error)
	Network() network.State
	SetOnline(online bool) bool
	Replay(ctx context.Context, timeout time.Duration) (replay.Report, bool, error)
	EnterReturnsMode() bool
	ReturnsMode() bool
	ExitReturnsMode(ctx context.Context) (replay.Report, bool, error)
	Export(ctx context.Context) (export.Result, error)
	Exports(ctx context.Context) ([]blob.Info, error)
	OpenExport(ctx context.Context, name string) (blob.Info, io.ReadCloser, error)
	StatExport(ctx context.Context, name string) (blob.Info, error)
	DeleteExport(ctx context.Context, name string) error
	Stats() queue.Stats
}

var _ Service = (*core.Service)(nil)

type Options struct {
	Address        string
	DisableReqLogs bool
	// Metrics is mounted at /metrics and Vars at /debug/vars when set.
	Metrics http.Handler
	Vars    http.Handler
	Logger  *zap.Logger
}

// Server wraps the echo application.
type Server struct {
	opts Options
	app  *echo.Echo
	svc  Service
}

var _ http.Handler = (*Server)(nil)

func NewServer(svc Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{opts: opts, app: echo.New(), svc: svc}
	s.setup()
	return s
}

func (s *Server) setup() {
	s.app.HideBanner = true
	s.app.HidePort = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	if !s.opts.DisableReqLogs {
		s.app.Use(requestLogger(s.opts.Logger))
	}
	s.app.HTTPErrorHandler = newHTTPErrorHandler(s.opts.Logger)

	s.app.GET("/healthz", s.health)
	if s.opts.Metrics != nil {
		s.app.GET("/metrics", echo.WrapHandler(s.opts.Metrics))
	}
	if s.opts.Vars != nil {
		s.app.GET("/debug/vars", echo.WrapHandler(s.opts.Vars))
	}

	v1 := s.app.Group("/v1")
	h := handlers{svc: s.svc}
	v1.GET("/entities/:id/status", h.status)
	v1.DELETE("/entities/:id/errors", h.clearErrors)

	v1.POST("/operations", h.enqueue)
	v1.GET("/operations", h.list)
	v1.POST("/operations/:id/retry", h.retry)
	v1.DELETE("/operations/:id", h.discard)

	v1.GET("/network", h.network)
	v1.PUT("/network", h.setNetwork)
	v1.POST("/replay", h.replay)

	v1.GET("/returns-mode", h.returnsMode)
	v1.POST("/returns-mode", h.enterReturnsMode)
	v1.DELETE("/returns-mode", h.exitReturnsMode)

	v1.POST("/exports", h.export)
	v1.GET("/exports", h.exports)
	v1.GET("/exports/:name", h.downloadExport)
	v1.HEAD("/exports/:name", h.statExport)
	v1.DELETE("/exports/:name", h.deleteExport)
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.opts.Logger.Info("http server listening", zap.String("addr", s.opts.Address))
	if err := s.app.Start(s.opts.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"status":       "ok",
		"queue":        s.svc.Stats(),
		"network":      s.svc.Network(),
		"returns_mode": s.svc.ReturnsMode(),
	})
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Info("request", fields...)
			return nil
		},
	})
}
