// Package api exposes the scheduling engine over a JSON HTTP surface. Domain
// events and notifications go out only after a mutation has committed.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/phaseline/phaseline/internal/events"
	"github.com/phaseline/phaseline/internal/notify"
	"github.com/phaseline/phaseline/internal/schedule"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB          *gorm.DB
	Scheduler   *schedule.Scheduler
	Coordinator *schedule.Coordinator
	Sink        events.Sink
	Notifier    *notify.Notifier
	Logger      *zap.Logger
	Port        int
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("api: db is required")
	}
	if opts.Scheduler == nil {
		return fmt.Errorf("api: scheduler is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if opts.Sink == nil {
		opts.Sink = events.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Coordinator == nil {
		opts.Coordinator = schedule.NewCoordinator(opts.Scheduler)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger))

	h := &handlers{
		db:          opts.DB,
		scheduler:   opts.Scheduler,
		coordinator: opts.Coordinator,
		sink:        opts.Sink,
		notifier:    opts.Notifier,
		logger:      opts.Logger,
	}
	registerRoutes(router, h)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	opts.Logger.Info("api listening", zap.Int("port", opts.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// requestLogger logs each request with zap after it completes.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}
