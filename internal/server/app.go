// Package server 以 HTTP 与 WebSocket 暴露连接、结构、图谱、指标、演化和指令接口
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"data-intelligence/internal/command"
	"data-intelligence/internal/engine"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultMetricsInterval /ws/metrics 默认推送间隔
const DefaultMetricsInterval = 2 * time.Second

// App 服务依赖
type App struct {
	svc        *engine.Service
	dispatcher *command.Dispatcher
	interval   time.Duration
	staticDir  string
	upgrader   websocket.Upgrader
	logger     *zap.SugaredLogger
}

// Option 服务选项
type Option func(*App)

// WithMetricsInterval 指标推送间隔
func WithMetricsInterval(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithStaticDir 前端静态文件目录
func WithStaticDir(dir string) Option {
	return func(a *App) { a.staticDir = dir }
}

// WithLogger 设置日志
func WithLogger(l *zap.SugaredLogger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewApp 创建服务
func NewApp(svc *engine.Service, opts ...Option) *App {
	a := &App{
		svc:      svc,
		interval: DefaultMetricsInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.dispatcher = command.NewDispatcher(svc, command.WithLogger(a.logger))
	return a
}

// Handler 路由
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(a.requestLogger)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/actions", a.handleActions)

		r.Route("/connections", func(r chi.Router) {
			r.Get("/", a.handleListConnections)
			r.Post("/", a.handleOpenConnection)

			r.Route("/{conn}", func(r chi.Router) {
				r.Delete("/", a.handleCloseConnection)
				r.Get("/schema", a.handleSchema)
				r.Put("/cluster-method", a.handleClusterMethod)
				r.Get("/graph", a.handleGraph)
				r.Get("/metrics", a.handleMetrics)
				r.Get("/anomalies", a.handleAnomalies)
				r.Put("/thresholds", a.handleThresholds)
				r.Get("/evolution", a.handleEvolution)
				r.Get("/evolution/snapshot", a.handleSnapshot)
				r.Get("/evolution/keyframes", a.handleKeyframes)
				r.Post("/gravity/recalculate", a.handleRecalculate)
				r.Get("/gravity/records", a.handleRecordGravity)
				r.Get("/render", a.handleRender)
				r.Post("/commands", a.handleCommand)
			})
		})
	})

	r.Get("/ws/metrics", a.handleMetricsSocket)
	r.Get("/ws/commands", a.handleCommandSocket)

	if a.staticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(a.staticDir)))
	}
	return r
}

// requestLogger 请求日志
func (a *App) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debugw("HTTP 请求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// corsMiddleware 允许前端跨端口调用
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run 监听 addr 直到 ctx 取消，随后优雅关闭
func (a *App) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Infow("HTTP 服务启动", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.logger.Infow("HTTP 服务关闭中")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
