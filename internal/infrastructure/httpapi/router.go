package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"RegScanner/internal/domain"
	"RegScanner/internal/rollup"
	"RegScanner/internal/usecase"
)

// ItemReader is the read side of the item store the API needs.
type ItemReader interface {
	Ping(ctx context.Context) error
	List(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, error)
	Get(ctx context.Context, id int64) (domain.Item, error)
	SelectHighImpact(ctx context.Context) ([]domain.Item, error)
	SelectRecent(ctx context.Context, window time.Duration) ([]domain.Item, error)
	Stats(ctx context.Context) (domain.StoreStats, error)
}

// Runner is the pipeline surface exposed over HTTP.
type Runner interface {
	Start(ctx context.Context, opts usecase.RunOptions) (string, error)
	State() usecase.Stage
	LastRun() (usecase.RunReport, bool)
	Report(ctx context.Context, opts usecase.ReportOptions) (rollup.Report, error)
}

// RouterConfig wires the handlers' collaborators.
type RouterConfig struct {
	Store          ItemReader
	Pipeline       Runner
	Logger         *slog.Logger
	AllowedOrigins []string
	// RunContext outlives individual requests; background runs use it.
	RunContext context.Context
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "httpapi")

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), otelgin.Middleware("regscanner"))

	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.AllowedOrigins,
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type"},
		}))
	}

	runCtx := cfg.RunContext
	if runCtx == nil {
		runCtx = context.Background()
	}
	h := &handler{store: cfg.Store, pipeline: cfg.Pipeline, logger: logger, runCtx: runCtx}

	router.GET("/health", h.GetHealth)
	router.GET("/status", h.GetStatus)

	items := router.Group("/items")
	items.GET("", h.ListItems)
	items.GET("/high-impact", h.GetHighImpact)
	items.GET("/recent", h.GetRecent)
	items.GET("/:id", h.GetItem)

	rollups := router.Group("/rollups")
	rollups.GET("/digest", h.GetDigest)
	rollups.GET("/backlog", h.GetBacklog)
	rollups.GET("/changelog", h.GetChangelog)

	router.POST("/runs", h.StartRun)

	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(started))
	}
}

// Server runs the router with graceful shutdown.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer binds handler to addr.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With("component", "httpapi"),
	}
}

// ListenAndServe blocks until the server stops; a graceful Shutdown is not an error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http api listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
