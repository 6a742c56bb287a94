// Package api serves the vault over HTTP: a single POST endpoint whose JSON
// body names an action, plus health and metrics endpoints.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/systmms/secretvault/internal/authz"
	"github.com/systmms/secretvault/internal/health"
	"github.com/systmms/secretvault/internal/logging"
	"github.com/systmms/secretvault/internal/telemetry"
	"github.com/systmms/secretvault/internal/vault"
)

// ActionPath is the vault endpoint.
const ActionPath = "/v1/integration-secrets"

const maxBodyBytes = 64 << 10

// HealthChecker reports database health for /healthz.
type HealthChecker interface {
	Check(ctx context.Context) health.Result
}

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	MetricsEnabled bool
	MetricsPath    string
}

// Server routes HTTP requests to the vault service.
type Server struct {
	router  *gin.Engine
	svc     *vault.Service
	gate    *authz.Gate
	health  HealthChecker
	metrics *telemetry.Metrics
	logger  *logging.Logger
}

// NewServer builds the router.
func NewServer(svc *vault.Service, gate *authz.Gate, checker HealthChecker, opts Options, logger *logging.Logger) *Server {
	if !logger.DebugEnabled() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:  gin.New(),
		svc:     svc,
		gate:    gate,
		health:  checker,
		metrics: telemetry.NewMetrics(),
		logger:  logger,
	}

	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("Recovered from panic: %v", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}))
	s.router.Use(requestID())
	s.router.Use(requestLogger(logger))
	s.router.Use(cors.New(corsConfig(opts.AllowedOrigins)))
	s.router.Use(requestTimeout(opts.RequestTimeout))

	s.router.POST(ActionPath, s.handleAction)
	s.router.GET("/healthz", s.handleHealth)
	if opts.MetricsEnabled && opts.MetricsPath != "" {
		telemetry.InitMetrics()
		s.router.GET(opts.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
	return s
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{http.MethodPost, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", requestIDHeader}
	cfg.ExposeHeaders = []string{requestIDHeader}
	cfg.MaxAge = 12 * time.Hour

	all := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			all = true
		}
	}
	if all {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	result := s.health.Check(c.Request.Context())
	if !result.Healthy {
		s.logger.Warn("Health check failed: %s", result.Message)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": result.Message})
		return
	}
	status := "ok"
	if result.Degraded {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "message": result.Message})
}
