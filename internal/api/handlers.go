package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/predatorfx/hunter/internal/session"
)

const (
	appName    = "predatory-hunter"
	appVersion = "1.0.0"
)

// Runner starts one bounded session and returns its report, matching
// session.Orchestrator.Run's signature so handlers stay mockable in tests.
type Runner interface {
	Run(ctx context.Context) (session.Report, error)
}

// Server exposes the engine's HTTP trigger surface: a session-run
// endpoint a scheduler calls once per cadence, plus health/ready/metrics
// mirroring cmd/tradsys/main.go's router.
type Server struct {
	runner      Runner
	rateLimiter *RateLimiter
	logger      *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewServer constructs a Server; Router builds the gin engine with every
// route registered.
func NewServer(runner Runner, logger *zap.Logger) *Server {
	return &Server{
		runner:      runner,
		rateLimiter: NewRateLimiter(logger),
		logger:      logger,
	}
}

// Router assembles the gin engine. Kept separate from NewServer so tests
// can hit it directly with httptest without binding a real port.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.rateLimiter.Middleware())

	router.GET("/health", s.handleHealth)
	router.GET("/ready", s.handleReady)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/sessions/run", s.handleRunSession)

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": appName,
		"version": appVersion,
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handleReady(c *gin.Context) {
	s.mu.Lock()
	busy := s.running
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"components": gin.H{
			"session_orchestrator": readyLabel(!busy),
		},
	})
}

func readyLabel(idle bool) string {
	if idle {
		return "ready"
	}
	return "busy"
}

// handleRunSession triggers exactly one session. A second concurrent
// call is rejected with 409 rather than queued, since the engine is
// built to run one instrument-set sweep at a time.
func (s *Server) handleRunSession(c *gin.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "a session is already running"})
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	report, err := s.runner.Run(c.Request.Context())
	if err != nil {
		s.logger.Error("session run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": report})
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report})
}
