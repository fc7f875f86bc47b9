package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/config"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/journal"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/logging"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/resilience"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/scheduler"
)

// Server exposes the operational surface: health, session status and the
// halt-clear control. It never takes trading decisions.
type Server struct {
	http    *http.Server
	session *scheduler.SessionState
	layer   *resilience.Layer
	journal *journal.Journal
	logger  logging.Logger
}

// New builds the HTTP server. journal may be nil when journaling is
// disabled.
func New(cfg *config.Config, session *scheduler.SessionState, layer *resilience.Layer, jnl *journal.Journal, logger logging.Logger) *Server {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		session: session,
		layer:   layer,
		journal: jnl,
		logger:  logger.WithComponent("api"),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", s.health)
	router.GET("/status", s.status)
	router.GET("/outcomes", s.outcomes)
	router.GET("/outcomes/:symbol", s.lastOutcome)
	router.POST("/halt/clear", s.clearHalt)

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown. It blocks.
func (s *Server) Start() error {
	s.logger.WithFields(map[string]interface{}{"addr": s.http.Addr}).Info("status server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"session":      s.session.View(time.Now()),
		"dependencies": s.layer.Stats(),
		"cache":        s.layer.CacheStats(),
	})
}

func (s *Server) outcomes(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journaling disabled"})
		return
	}
	n, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || n < 1 || n > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be 1..500"})
		return
	}
	outcomes, err := s.journal.Recent(c.Request.Context(), n)
	if err != nil {
		s.logger.WithError(err).Error("failed to read journal")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
}

func (s *Server) lastOutcome(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journaling disabled"})
		return
	}
	symbol := c.Param("symbol")
	outcome, err := s.journal.Last(c.Request.Context(), symbol)
	if err != nil {
		s.logger.WithError(err).Error("failed to read journal")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal unavailable"})
		return
	}
	if outcome == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no outcome journaled for %s", symbol)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

func (s *Server) clearHalt(c *gin.Context) {
	if !s.session.Halted() {
		c.JSON(http.StatusOK, gin.H{"halted": false})
		return
	}
	reason := s.session.HaltReason()
	s.session.ClearHalt()
	s.logger.WithFields(map[string]interface{}{"was": reason}).Warn("halt cleared by operator")
	c.JSON(http.StatusOK, gin.H{"halted": false, "cleared_reason": reason})
}
