// Package relayserver exposes a relay.Mailbox over HTTP and websockets so
// that devices can reach it with relay.Client.
//
// Routes:
//
//	PUT    /v1/entries/*path   write a document
//	GET    /v1/entries/*path   read a document
//	PATCH  /v1/entries/*path   merge top-level fields
//	DELETE /v1/entries/*path   remove a document
//	GET    /v1/watch/*path     websocket change feed of a subtree
//	GET    /healthz
//	GET    /metrics
package relayserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/olahol/melody"

	"github.com/Harry0M/oikos-sub001/internal/auth"
	"github.com/Harry0M/oikos-sub001/internal/metrics"
	"github.com/Harry0M/oikos-sub001/internal/relay"
)

const maxDocumentSize = 1 << 20

// Config holds the server's collaborators.
type Config struct {
	Mailbox     relay.Mailbox
	JWT         *auth.JWTManager
	Metrics     *metrics.Metrics
	CORSOrigins []string
	Logger      *slog.Logger
}

// Server serves one mailbox to many users.
type Server struct {
	mailbox relay.Mailbox
	jwt     *auth.JWTManager
	metrics *metrics.Metrics
	logger  *slog.Logger
	feeds   *melody.Melody
	router  *gin.Engine
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mailbox: cfg.Mailbox,
		jwt:     cfg.JWT,
		metrics: cfg.Metrics,
		logger:  logger,
	}
	s.feeds = s.newFeeds()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.CORSOrigins))
	router.Use(s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := router.Group("/v1")
	v1.Use(s.requireAuth())
	{
		v1.PUT("/entries/*path", s.allow(canWrite), s.putEntry)
		v1.GET("/entries/*path", s.allow(canRead), s.getEntry)
		v1.PATCH("/entries/*path", s.allow(canRead), s.updateEntry)
		v1.DELETE("/entries/*path", s.allow(canWrite), s.deleteEntry)
		v1.GET("/watch/*path", s.allow(canRead), s.watch)
	}

	s.router = router
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close disconnects every websocket feed.
func (s *Server) Close() error {
	return s.feeds.Close()
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// requestLogger logs each request and counts it by method and status.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if s.metrics != nil {
			s.metrics.RelayRequests.WithLabelValues(c.Request.Method, strconv.Itoa(status)).Inc()
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		} else if status >= http.StatusBadRequest {
			level = slog.LevelWarn
		}
		s.logger.Log(c.Request.Context(), level, "Relay request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"user_id", c.GetString(userIDKey),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) putEntry(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxDocumentSize))
	if err != nil {
		c.String(http.StatusRequestEntityTooLarge, "document too large")
		return
	}
	if !s.checkSender(c, body) {
		return
	}
	if err := s.mailbox.Put(c.Request.Context(), c.GetString(pathKey), body); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getEntry(c *gin.Context) {
	doc, err := s.mailbox.Get(c.Request.Context(), c.GetString(pathKey))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

func (s *Server) updateEntry(c *gin.Context) {
	var fields map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Request.Body, maxDocumentSize))
	if err := dec.Decode(&fields); err != nil || len(fields) == 0 {
		c.String(http.StatusBadRequest, "body must be a non-empty JSON object")
		return
	}
	if err := s.mailbox.Update(c.Request.Context(), c.GetString(pathKey), fields); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteEntry(c *gin.Context) {
	if !s.checkSender(c, nil) {
		return
	}
	if err := s.mailbox.Delete(c.Request.Context(), c.GetString(pathKey)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// fail maps mailbox errors to status codes.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, relay.ErrNotFound):
		c.String(http.StatusNotFound, err.Error())
	case errors.Is(err, relay.ErrInvalidPath), errors.Is(err, relay.ErrMalformed):
		c.String(http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("Mailbox operation failed", "method", c.Request.Method, "path", c.GetString(pathKey), "error", err)
		c.String(http.StatusInternalServerError, "internal error")
	}
}
