// Package httpapi exposes the ledger over HTTP.
//
// Public: /health, /ready
// Authenticated (X-API-Key when configured): everything under /v1
package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/logline/internal/export"
	"github.com/roach88/logline/internal/ledger"
	"github.com/roach88/logline/internal/query"
)

// Server holds the dependencies of the handlers.
type Server struct {
	ledger   *ledger.Ledger
	query    *query.Engine
	exporter *export.Exporter
	apiKey   string
	actor    string
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithAPIKey requires every /v1 request to carry key in X-API-Key.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithActor sets the actor recorded when a request names none.
func WithActor(actor string) Option {
	return func(s *Server) { s.actor = actor }
}

// WithExporter replaces the exporter used by /v1/export.
func WithExporter(x *export.Exporter) Option {
	return func(s *Server) { s.exporter = x }
}

// WithNow replaces the clock used for default query ranges.
func WithNow(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New returns a Server over l and q.
func New(l *ledger.Ledger, q *query.Engine, opts ...Option) *Server {
	s := &Server{
		ledger:   l,
		query:    q,
		exporter: export.New(),
		actor:    "api",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", s.ready)

	v1 := r.Group("/v1")
	if s.apiKey != "" {
		v1.Use(apiKeyMiddleware(s.apiKey))
	}

	v1.POST("/events", s.appendEvent)
	v1.GET("/events", s.eventsInRange)
	v1.GET("/days/:day/events", s.eventsForDay)
	v1.GET("/days/:day/verify", s.verifyDay)
	v1.GET("/days/:day/manifest", s.manifest)
	v1.GET("/days/:day/proof/:id", s.proof)
	v1.GET("/entities", s.entities)
	v1.GET("/entities/:name/aggregate", s.aggregate)
	v1.GET("/entities/:name/events", s.entityEvents)
	v1.GET("/search", s.search)
	v1.GET("/top", s.top)
	v1.GET("/export", s.export)

	return r
}

// Readiness: the index must answer a ping. A ledger without an index is
// ready but reports it.
func (s *Server) ready(c *gin.Context) {
	idx := s.ledger.Index()
	if idx == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "index": "disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
	defer cancel()
	if err := idx.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func apiKeyMiddleware(key string) gin.HandlerFunc {
	want := []byte(key)
	return func(c *gin.Context) {
		got := []byte(strings.TrimSpace(c.GetHeader("X-API-Key")))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("UNAUTHORIZED", "missing or invalid X-API-Key"))
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
