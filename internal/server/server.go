// file: internal/server/server.go
// version: 1.4.0
// guid: 6b1d9e3f-7c4a-42f8-a5d2-0e8b3c6f9a15

// Package server exposes the cache engine over HTTP for the reader UI.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mangadeck/mangadeck/internal/engine"
	"github.com/mangadeck/mangadeck/internal/metrics"
	"github.com/mangadeck/mangadeck/internal/prefetch"
	"github.com/mangadeck/mangadeck/internal/realtime"
)

// Server is the HTTP front of the proxy.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine

	engine *engine.Engine
	worker *prefetch.Worker
	hub    *realtime.EventHub
}

// Config holds the listen address and timeouts.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer wires the router over the engine, caching worker and event hub.
func NewServer(eng *engine.Engine, worker *prefetch.Worker, hub *realtime.EventHub) *Server {
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	metrics.Register()

	s := &Server{
		router: router,
		engine: eng,
		worker: worker,
		hub:    hub,
	}
	s.setupRoutes()
	return s
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start runs the server until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) Start(cfg Config) error {
	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:        s.router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Printf("[INFO] Listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[ERROR] Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[INFO] Shutting down...")
	if err := s.worker.Shutdown(10 * time.Second); err != nil {
		log.Printf("[WARN] %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Println("[INFO] Server exited")
	return nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/api/health", s.healthCheck)
	s.router.GET("/api/events", s.hub.HandleSSE)

	s.router.GET("/api/status", s.getStatus)
	s.router.GET("/api/settings", s.getSettings)
	s.router.POST("/api/settings", s.updateSettings)
	s.router.POST("/api/offline-mode", s.setOfflineMode)

	s.router.GET("/api/library", s.getLibraries)
	s.router.GET("/api/series/:library", s.getSeries)
	s.router.GET("/api/volumes/:series", s.getVolumes)

	s.router.GET("/api/series-cover/:id", s.getSeriesCover)
	s.router.GET("/api/volumes-cover/:id", s.getVolumeCover)
	s.router.GET("/api/picture/:series/:volume/:chapter/:page", s.getPicture)

	s.router.GET("/api/cache/serie/:id", s.cacheSeries)
	s.router.DELETE("/api/cache/serie/:id", s.removeSeriesCache)
	s.router.GET("/api/clear-cache", s.clearCache)
	s.router.GET("/api/update-lib", s.updateServerLibrary)

	s.router.GET("/api/read-volume/:series/:volume", s.markVolumeRead)
	s.router.GET("/api/unread-volume/:series/:volume", s.markVolumeUnread)
}

// corsMiddleware lets the reader UI call the API from any origin; the proxy
// binds to loopback, the browser still enforces its own rules.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
