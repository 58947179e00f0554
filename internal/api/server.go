// Package api implements the optional read-only REST status endpoint
// described in §10.3: liveness and per-slot relay state, never control.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/winter-snowfall/wookiee-unicaster/internal/config"
	"github.com/winter-snowfall/wookiee-unicaster/internal/registry"
)

// SlotSource is whatever can produce a point-in-time view of the relay's
// slot table — relay.Server.Registry() on SERVER, relay.Client.Snapshot
// on CLIENT. It decouples this package from the relay engine's concrete
// types, the same single-method-interface seam the reference project's
// manager/API boundary uses.
type SlotSource interface {
	Snapshot() []registry.Snapshot
}

// Server is the REST status server.
type Server struct {
	cfg     *config.Config
	role    config.Role
	startAt time.Time
	slots   SlotSource
	log     zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the REST status server. slots is queried on every
// request; the server never caches or mutates relay state.
func NewServer(cfg *config.Config, role config.Role, slots SlotSource, log zerolog.Logger) *Server {
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		role:    role,
		startAt: time.Now(),
		slots:   slots,
		log:     log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/healthz", s.handleHealthz)
	router.GET("/status", s.handleStatus)
	router.GET("/status/slots/:index", s.handleSlotStatus)

	return router
}

// Start binds and serves the status endpoint until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.API.Addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.cfg.API.Addr).Msg("status API starting")

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status API: %w", err)
	}
	return nil
}
