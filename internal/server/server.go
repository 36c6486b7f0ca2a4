// Package server exposes the pipeline over a JSON HTTP API.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/almanac/internal/pipeline"
	"github.com/zulandar/almanac/internal/scheduler"
	"go.uber.org/zap"
)

// Opts holds configuration for the API server.
type Opts struct {
	Service    *pipeline.Service
	Scheduler  *scheduler.Scheduler // optional
	Port       int
	CronSecret string
	Logger     *zap.Logger
	Out        io.Writer
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts Opts) (*gin.Engine, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("server: service is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger), actorMiddleware())
	registerRoutes(router, &handlers{
		svc:   opts.Service,
		st:    opts.Service.Store(),
		sched: opts.Scheduler,
		log:   opts.Logger,
	}, opts.CronSecret)
	return router, nil
}

// Start runs the API server. It blocks until ctx is cancelled, then shuts
// down gracefully.
func Start(ctx context.Context, opts Opts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
