// Package api serves the stored benefits over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"benefits_fetcher/internal/config"
	"benefits_fetcher/internal/logger"
	"benefits_fetcher/internal/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const recentRuns = 5

// Reader is the read side of the store.
type Reader interface {
	ListBySource(ctx context.Context, collection string) ([]models.BenefitRecord, error)
	ListAll(ctx context.Context, collections map[string]string) (map[string][]models.BenefitRecord, error)
	CollectionStats(ctx context.Context, collection string) (map[string]any, error)
	RecentRuns(ctx context.Context, source string, limit int64) ([]models.RunHistory, error)
}

type Server struct {
	config *config.FetcherConfig
	reader Reader
	router *gin.Engine
	log    *logger.Logger
}

func NewServer(cfg *config.FetcherConfig, reader Reader, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}

	router := gin.New()
	// browsers on any origin may read the listings
	router.Use(gin.Recovery(), cors.Default(), requestLogger(log))

	s := &Server{config: cfg, reader: reader, router: router, log: log}

	api := router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("", s.handleListAll)
		api.GET("/:source", s.handleListSource)
		api.GET("/:source/stats", s.handleSourceStats)
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(addr string) error {
	s.log.Info("api listening", "addr", addr)
	return s.router.Run(addr)
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListAll(c *gin.Context) {
	collections := make(map[string]string, len(s.config.Sources))
	for _, key := range s.config.SourceNames() {
		src := s.config.Sources[key]
		collections[src.Name] = src.Collection
	}

	all, err := s.reader.ListAll(c.Request.Context(), collections)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, all)
}

func (s *Server) handleListSource(c *gin.Context) {
	src, ok := s.lookup(c)
	if !ok {
		return
	}

	records, err := s.reader.ListBySource(c.Request.Context(), src.Collection)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) handleSourceStats(c *gin.Context) {
	src, ok := s.lookup(c)
	if !ok {
		return
	}

	summary, err := s.reader.CollectionStats(c.Request.Context(), src.Collection)
	if err != nil {
		s.fail(c, err)
		return
	}
	runs, err := s.reader.RecentRuns(c.Request.Context(), src.Name, recentRuns)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"source":     src.Name,
		"collection": src.Collection,
		"stats":      summary,
		"runs":       runs,
	})
}

func (s *Server) lookup(c *gin.Context) (config.SourceConfig, bool) {
	name := c.Param("source")
	src, ok := s.config.Lookup(name)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": config.ErrUnknownSource.Error() + ": " + name})
		return config.SourceConfig{}, false
	}
	return src, true
}

func (s *Server) fail(c *gin.Context, err error) {
	s.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
