// Package server exposes stored readings and the fetch/ingest pipeline over
// HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sensor_report_loader/logger"
	"sensor_report_loader/mailbox"
	"sensor_report_loader/report"
	"sensor_report_loader/scanner"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker is an interface for components that can report their health status.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// MailFetcher downloads report attachments to the staging directory.
type MailFetcher interface {
	Fetch(ctx context.Context) (*mailbox.Result, error)
}

// DirectoryScanner ingests a staging directory.
type DirectoryScanner interface {
	ScanDirectory(ctx context.Context, dir string) (*scanner.Summary, error)
}

// Options wires the collaborators of an App. Fetcher may be nil when no
// mail credentials are configured; fetch requests then answer 503.
type Options struct {
	Addr       string
	Mode       string
	Store      HealthChecker
	Reports    *report.Service
	Fetcher    MailFetcher
	Scanner    DirectoryScanner
	StagingDir string
}

// App holds the state shared by the HTTP handlers.
type App struct {
	Engine *gin.Engine
	Addr   string

	store      HealthChecker
	reports    *report.Service
	fetcher    MailFetcher
	scanner    DirectoryScanner
	stagingDir string
	tasks      *Tasks
}

// PipelineResult is the result of a fetch or ingest job.
type PipelineResult struct {
	Fetch  *mailbox.Result  `json:"fetch,omitempty"`
	Ingest *scanner.Summary `json:"ingest,omitempty"`
}

// New builds the engine and registers routes. Background jobs are bound to
// ctx and cancelled when it is done.
func New(ctx context.Context, opts Options) *App {
	// Set Gin mode based on configuration
	switch opts.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case gin.TestMode:
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	app := &App{
		Engine:     r,
		Addr:       opts.Addr,
		store:      opts.Store,
		reports:    opts.Reports,
		fetcher:    opts.Fetcher,
		scanner:    opts.Scanner,
		stagingDir: opts.StagingDir,
	}
	app.tasks = NewTasks(ctx, app.taskFinished)

	r.GET("/health", app.healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/sensors", app.HandleListSensors)
	v1.GET("/sensors/:selector/readings", app.HandleReadings)
	v1.GET("/sensors/:selector/export", app.HandleExport)
	v1.POST("/fetch", app.HandleFetch)
	v1.POST("/ingest", app.HandleIngest)
	v1.GET("/jobs/:id", app.HandleJob)

	return app
}

func requestLogger() gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugw("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (a *App) taskFinished(t Task) {
	if t.Status == StatusSucceeded {
		logger.Infow("task finished", "id", t.ID, "kind", t.Kind, "status", t.Status)
		return
	}
	logger.Warnw("task finished", "id", t.ID, "kind", t.Kind, "status", t.Status, "error", t.Error)
}

func (a *App) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	// Check database connectivity
	if a.store != nil {
		if err := a.store.Ping(ctx); err != nil {
			logger.Errorw("Health check failed: database unreachable", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database unreachable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "connected",
	})
}

// Run serves until ctx is done, then shuts down the listener and waits for
// background tasks.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Addr,
		Handler:           a.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Infow("Starting HTTP Server...", "address", a.Addr)

	go func() {
		<-ctx.Done()
		logger.Infow("Stopping HTTP Server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("HTTP Server forced to shutdown", "error", err)
		}
	}()

	err := srv.ListenAndServe()
	a.tasks.Shutdown()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown cancels background tasks and waits for them.
func (a *App) Shutdown() {
	a.tasks.Shutdown()
}
