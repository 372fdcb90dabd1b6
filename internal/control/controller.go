// Package control exposes the batch engine to a local browser: one
// HTML page, a server-sent event stream and a small JSON API that
// starts, observes and stops jobs.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/twmd/internal/config"
	"github.com/iconidentify/twmd/internal/domain"
	"github.com/iconidentify/twmd/internal/history"
	"github.com/iconidentify/twmd/internal/job"
	"github.com/iconidentify/twmd/internal/session"
)

// CommandResult is the outcome of a proxied single-shot command.
type CommandResult struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	OK       bool   `json:"ok"`
}

// CommandRunner executes one CLI-style subcommand on behalf of the
// controller. The login, whoami and logout endpoints proxy through it.
type CommandRunner func(ctx context.Context, args []string) CommandResult

// DownloadRequest is the POST /api/download body. UserRetry is a
// pointer so an explicit 0 is distinguishable from an absent field,
// which falls back to the configured default.
type DownloadRequest struct {
	Users          []string `json:"users"`
	OutputDir      string   `json:"outputDir"`
	Kinds          string   `json:"kinds"`
	MaxTweets      int      `json:"maxTweets"`
	Concurrency    int      `json:"concurrency"`
	Retry          int      `json:"retry"`
	UserRetry      *int     `json:"userRetry"`
	UserDelayMs    int      `json:"userDelayMs"`
	RequestDelayMs int      `json:"requestDelayMs"`
	Engine         string   `json:"engine"`
}

// LoginRequest is the POST /api/login body.
type LoginRequest struct {
	Cookies string `json:"cookies"`
}

// Controller is the web controller.
type Controller struct {
	logger  *slog.Logger
	cfg     *config.Config
	store   *session.Store
	orch    *job.Orchestrator
	history *history.Store
	runner  CommandRunner
	hub     *eventHub

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New creates a controller. The history store and command runner are
// optional.
func New(logger *slog.Logger, cfg *config.Config, store *session.Store, hist *history.Store, runner CommandRunner) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		logger:  logger,
		cfg:     cfg,
		store:   store,
		orch:    job.NewOrchestrator(logger),
		history: hist,
		runner:  runner,
		hub:     newEventHub(),
	}
}

// Router builds the HTTP routes.
func (c *Controller) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.CleanPath)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(c.logger))
	r.Use(middleware.Recoverer)

	r.Get("/", c.Index)
	r.Get("/events", c.Events)

	r.Route("/api", func(r chi.Router) {
		r.Post("/download", c.Download)
		r.Post("/stop", c.Stop)
		r.Get("/status", c.Status)
		r.Get("/history", c.History)
		r.Post("/login", c.Login)
		// Kept for page compatibility; a browser has no terminal to
		// prompt on, so this path takes the cookie body as well.
		r.Post("/login-interactive", c.Login)
		r.Post("/whoami", c.command("whoami"))
		r.Post("/logout", c.command("logout"))
	})
	return r
}

// Status handles GET /api/status.
func (c *Controller) Status(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	c.writeJSON(w, http.StatusOK, map[string]bool{"running": running})
}

// History handles GET /api/history.
func (c *Controller) History(w http.ResponseWriter, r *http.Request) {
	if c.history == nil {
		c.writeJSON(w, http.StatusOK, map[string]any{"runs": []any{}})
		return
	}
	runs, err := c.history.Recent(r.Context(), 20)
	if err != nil {
		c.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*history.Run{}
	}
	c.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// Download handles POST /api/download. Exactly one job may run at a
// time; a second request is answered with 409.
func (c *Controller) Download(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	kinds, err := domain.ParseMediaKinds(req.Kinds)
	if err != nil {
		c.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := c.jobOptions(req, kinds)

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.writeError(w, http.StatusConflict, domain.ErrJobRunning.Error())
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	run, err := c.orch.Start(ctx, opts)
	if err != nil {
		cancel()
		c.mu.Unlock()
		status := http.StatusInternalServerError
		if domain.ClassifyError(err) == domain.KindUsage {
			status = http.StatusBadRequest
		}
		c.writeError(w, status, err.Error())
		return
	}
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()

	startedAt := time.Now()
	go c.consume(ctx, cancel, run, req, startedAt)

	c.hub.broadcast("job", map[string]any{"type": "started", "users": len(req.Users)})
	c.writeJSON(w, http.StatusAccepted, map[string]any{"started": true})
}

// jobOptions maps a download request onto job options, filling in the
// configured defaults for fields the request left unset.
func (c *Controller) jobOptions(req DownloadRequest, kinds []domain.MediaKind) job.Options {
	opts := job.Options{
		Store:            c.store,
		Users:            req.Users,
		OutputDir:        req.OutputDir,
		MediaKinds:       kinds,
		Engine:           req.Engine,
		BearerToken:      c.cfg.Scraper.BearerToken,
		MaxTweetsPerUser: req.MaxTweets,
		Concurrency:      req.Concurrency,
		RetryCount:       req.Retry,
		UserRetryCount:   c.cfg.Download.UserRetryCount,
		UserDelay:        time.Duration(req.UserDelayMs) * time.Millisecond,
		PerRequestDelay:  time.Duration(req.RequestDelayMs) * time.Millisecond,
	}
	if req.UserRetry != nil {
		opts.UserRetryCount = *req.UserRetry
	}
	if opts.Engine == "" {
		opts.Engine = c.cfg.Scraper.Engine
	}
	return opts
}

// Stop handles POST /api/stop.
func (c *Controller) Stop(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	cancel := c.cancel
	running := c.running
	c.mu.Unlock()

	if !running {
		c.writeJSON(w, http.StatusOK, map[string]bool{"stopped": false})
		return
	}
	cancel()
	c.writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

// Login handles POST /api/login. The page submits the cookie blob in
// the body and it is forwarded to the login subcommand; interactive
// prompting stays on the CLI, where a terminal exists.
func (c *Controller) Login(w http.ResponseWriter, r *http.Request) {
	if c.runner == nil {
		c.writeError(w, http.StatusNotImplemented, "command execution not wired")
		return
	}
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Cookies) == "" {
		c.writeError(w, http.StatusBadRequest, "cookies are required")
		return
	}
	res := c.runner(r.Context(), []string{"login", "--cookies", req.Cookies})
	c.writeJSON(w, http.StatusOK, res)
}

// consume drains the job's event stream into the SSE hub and records
// the run when it ends.
func (c *Controller) consume(ctx context.Context, cancel context.CancelFunc, run *job.Run, req DownloadRequest, startedAt time.Time) {
	defer cancel()

	for ev := range run.Events() {
		c.hub.broadcast("log", map[string]any{
			"stream": "stdout",
			"line":   ev.Message,
			"parsed": ev,
		})
	}
	result := run.Wait()

	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	switch {
	case result == nil:
		c.hub.broadcast("job", map[string]any{"type": "error", "message": "job cancelled"})
	case result.HasFinalFailures():
		c.hub.broadcast("job", map[string]any{
			"type": "finished", "ok": false, "result": result,
		})
	default:
		c.hub.broadcast("job", map[string]any{
			"type": "finished", "ok": true, "result": result,
		})
	}

	if c.history != nil {
		engine := req.Engine
		if engine == "" {
			engine = c.cfg.Scraper.Engine
		}
		hctx, hcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer hcancel()
		if _, err := c.history.Record(hctx, startedAt, req.Users, engine, req.OutputDir, result); err != nil {
			c.logger.Warn("failed to record job history", "error", err)
		}
	}
}

// command builds a handler proxying one single-shot subcommand.
func (c *Controller) command(args ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.runner == nil {
			c.writeError(w, http.StatusNotImplemented, "command execution not wired")
			return
		}
		res := c.runner(r.Context(), args)
		c.writeJSON(w, http.StatusOK, res)
	}
}

func (c *Controller) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		c.logger.Error("failed to encode response", "error", err)
	}
}

func (c *Controller) writeError(w http.ResponseWriter, status int, msg string) {
	c.writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger logs each request with its status and duration.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

// Serve runs the controller HTTP server until ctx is cancelled.
func (c *Controller) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:        c.cfg.Web.Address(),
		Handler:     c.Router(),
		ReadTimeout: c.cfg.Web.ReadTimeout,
		// No write timeout: /events is a long-lived stream.
	}

	errCh := make(chan error, 1)
	go func() {
		c.logger.Info("controller listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown controller: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
