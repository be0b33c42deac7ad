// Package api implements the client-facing HTTP surface: the Messages
// endpoint with its streaming variant, token counting, the proxied
// model list and a few operational routes.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oa2a/oa2a/internal/config"
	"github.com/oa2a/oa2a/internal/logging"
	"github.com/oa2a/oa2a/internal/servertools"
	"github.com/oa2a/oa2a/internal/tokenizer"
	"github.com/oa2a/oa2a/internal/upstream"
	"github.com/oa2a/oa2a/internal/usage"
)

// Server wires the HTTP routes to the upstream client and the server
// tool orchestrator.
type Server struct {
	engine       *gin.Engine
	store        *config.Store
	client       *upstream.Client
	registry     *servertools.Registry
	orchestrator *servertools.Orchestrator
	counter      tokenizer.Counter
	recorder     *usage.Recorder
}

// NewServer builds the router. recorder may be nil when usage
// accounting is disabled.
func NewServer(store *config.Store, client *upstream.Client, recorder *usage.Recorder) *Server {
	registry := servertools.NewRegistry(servertools.NewWebSearchTool())
	s := &Server{
		engine:       gin.New(),
		store:        store,
		client:       client,
		registry:     registry,
		orchestrator: servertools.NewOrchestrator(client, registry),
		recorder:     recorder,
	}
	s.engine.Use(logging.GinLogger())
	s.engine.Use(logging.GinRecovery())
	s.engine.Use(corsMiddleware(store.Current))
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)

	auth := s.engine.Group("/", authMiddleware(s.store.Current))
	auth.POST("/v1/messages", s.handleMessages)
	auth.POST("/v1/messages/count_tokens", s.handleCountTokens)
	auth.GET("/v1/models", s.handleModels)
	auth.GET("/v1/usage/stats", s.handleUsageStats)
	auth.POST("/api/event_logging/batch", s.handleEventLogging)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then drains with a grace period.
func (s *Server) Run(ctx context.Context) error {
	settings := s.store.Current()
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", settings.Host, settings.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	}
}
