// Package job runs batch media-harvesting jobs: it drives one scraper
// sequentially across handles, fans downloads out through the
// downloader, and reports progress as an ordered event stream.
package job

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iconidentify/twmd/internal/domain"
	"github.com/iconidentify/twmd/internal/downloader"
	"github.com/iconidentify/twmd/internal/session"
	"github.com/iconidentify/twmd/pkg/twitter"
)

// Engine names the inventory engines a job can run on.
const (
	EngineGraphQL    = "graphql"
	EnginePlaywright = "playwright"
)

// Scraper is the inventory contract the orchestrator consumes. Both the
// GraphQL engine and the headless-browser engine satisfy it.
type Scraper interface {
	Initialize(ctx context.Context, sess *session.Session) error
	FetchUserMedia(ctx context.Context, username string, opts twitter.FetchOptions) ([]domain.MediaItem, error)
	Close() error
}

// Downloader fetches a batch of media items to disk.
type Downloader interface {
	DownloadBatch(ctx context.Context, opts downloader.Options) (*downloader.Result, error)
}

// Options configures one batch job.
type Options struct {
	Store      *session.Store
	Users      []string
	OutputDir  string
	MediaKinds []domain.MediaKind

	// Engine selects the scraper implementation when none is injected.
	Engine      string
	BearerToken string

	MaxTweetsPerUser int
	Concurrency      int
	RetryCount       int
	UserRetryCount   int // extra scrape attempts per user, default 1
	UserDelay        time.Duration
	PerRequestDelay  time.Duration

	// Scraper and Downloader override the engine selection; used by the
	// controller for reuse and by tests for stubbing.
	Scraper    Scraper
	Downloader Downloader
}

// Run is a handle on an in-flight job. Events must be drained; the
// stream is single-pass and closes when the job ends. Wait returns the
// final result, or nil when the job was cancelled.
type Run struct {
	events chan domain.JobEvent
	done   chan struct{}
	result *domain.JobResult
}

// Events returns the ordered event stream.
func (r *Run) Events() <-chan domain.JobEvent { return r.events }

// Wait blocks until the job has ended and returns the final result.
// A cancelled job yields nil.
func (r *Run) Wait() *domain.JobResult {
	<-r.done
	return r.result
}

// Orchestrator starts batch jobs.
type Orchestrator struct {
	logger *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{logger: logger, sleep: sleepCtx}
}

// Start validates the options, loads the session, initializes the
// scraper and launches the job goroutine. Validation and initialization
// failures are returned synchronously; everything after that flows
// through the event stream.
func (o *Orchestrator) Start(ctx context.Context, opts Options) (*Run, error) {
	if len(opts.Users) == 0 {
		return nil, domain.UsageErrorf("no users given")
	}
	if opts.OutputDir == "" {
		return nil, domain.UsageErrorf("output directory is required")
	}
	if opts.UserRetryCount < 0 {
		opts.UserRetryCount = 0
	}

	sess, err := o.loadSession(opts.Store)
	if err != nil {
		return nil, err
	}

	scraper := opts.Scraper
	if scraper == nil {
		switch opts.Engine {
		case EnginePlaywright:
			scraper = twitter.NewBrowserScraper(o.logger)
		case EngineGraphQL, "":
			scraper = twitter.NewGraphQLScraper(twitter.Config{BearerToken: opts.BearerToken}, o.logger)
		default:
			return nil, domain.UsageErrorf("unknown engine %q", opts.Engine)
		}
	}
	if err := scraper.Initialize(ctx, sess); err != nil {
		scraper.Close()
		return nil, fmt.Errorf("initialize scraper: %w", err)
	}

	dl := opts.Downloader
	if dl == nil {
		dl = downloader.NewEngine(twitter.UserAgent, o.logger)
	}

	run := &Run{events: make(chan domain.JobEvent), done: make(chan struct{})}
	go o.execute(ctx, opts, sess, scraper, dl, run)
	return run, nil
}

// loadSession reads the stored session; a missing or empty session
// becomes an anonymous one so guest endpoints can still be tried.
func (o *Orchestrator) loadSession(store *session.Store) (*session.Session, error) {
	if store == nil {
		return session.NewAnonymous(), nil
	}
	sess, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || len(sess.Cookies) == 0 {
		o.logger.Debug("no stored session, running anonymously")
		return session.NewAnonymous(), nil
	}
	return sess, nil
}

func (o *Orchestrator) execute(ctx context.Context, opts Options, sess *session.Session, scraper Scraper, dl Downloader, run *Run) {
	defer close(run.done)
	defer close(run.events)
	defer func() {
		if err := scraper.Close(); err != nil {
			o.logger.Warn("failed to close scraper", "error", err)
		}
	}()

	result := &domain.JobResult{TotalUsers: len(opts.Users)}

	if !o.emit(ctx, run, domain.JobEvent{
		Type:    domain.EventJobStarted,
		Message: fmt.Sprintf("starting job for %d users", len(opts.Users)),
	}) {
		return
	}

	for i, raw := range opts.Users {
		if ctx.Err() != nil {
			return
		}
		username := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "@"))
		if username == "" {
			result.FailedUsers++
			if !o.emit(ctx, run, domain.JobEvent{
				Type:    domain.EventWarning,
				Message: fmt.Sprintf("skipping empty username at position %d", i+1),
			}) {
				return
			}
			continue
		}

		if !o.processUser(ctx, opts, scraper, dl, run, result, username) {
			return
		}

		if opts.UserDelay > 0 && i < len(opts.Users)-1 {
			o.sleep(ctx, opts.UserDelay)
		}
	}

	progress := result.ProgressSnapshot()
	if !o.emit(ctx, run, domain.JobEvent{
		Type:     domain.EventJobFinished,
		Message:  fmt.Sprintf("job finished: %d/%d users succeeded", result.SucceededUsers, result.TotalUsers),
		Progress: &progress,
	}) {
		return
	}
	run.result = result
}

// processUser runs the scrape-then-download cycle for one handle with
// user-level retry. It returns false when the job was cancelled.
func (o *Orchestrator) processUser(ctx context.Context, opts Options, scraper Scraper, dl Downloader, run *Run, result *domain.JobResult, username string) bool {
	if !o.emit(ctx, run, domain.JobEvent{
		Type:     domain.EventUserStarted,
		Message:  fmt.Sprintf("processing @%s", username),
		Username: username,
	}) {
		return false
	}

	maxAttempts := opts.UserRetryCount + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		items, err := scraper.FetchUserMedia(ctx, username, twitter.FetchOptions{
			MaxTweets: opts.MaxTweetsPerUser,
			Kinds:     opts.MediaKinds,
		})
		if err == nil {
			err = o.downloadUser(ctx, opts, dl, run, result, username, items)
			if err == nil {
				return true
			}
			if errDone := ctx.Err(); errDone != nil {
				return false
			}
		}

		result.FailureDetails = append(result.FailureDetails, domain.FailureDetail{
			Scope:     domain.FailureScopeUser,
			Username:  username,
			Message:   err.Error(),
			Attempts:  attempt,
			Timestamp: domain.Timestamp(),
		})

		if attempt < maxAttempts {
			if !o.emit(ctx, run, domain.JobEvent{
				Type:     domain.EventWarning,
				Message:  fmt.Sprintf("attempt %d/%d failed for @%s: %v", attempt, maxAttempts, username, err),
				Username: username,
			}) {
				return false
			}
			o.sleep(ctx, userRetryBackoff(attempt))
			continue
		}

		result.FailedUsers++
		o.logger.Error("user failed", "username", username, "attempts", attempt, "error", err)
		return o.emit(ctx, run, domain.JobEvent{
			Type:     domain.EventError,
			Message:  fmt.Sprintf("giving up on @%s after %d attempts: %v", username, attempt, err),
			Username: username,
		})
	}
	return true
}

// downloadUser emits media_found, runs the download batch and emits the
// trailing download_progress and user_finished events. A cancelled emit
// surfaces as ctx.Err() in the caller.
func (o *Orchestrator) downloadUser(ctx context.Context, opts Options, dl Downloader, run *Run, result *domain.JobResult, username string, items []domain.MediaItem) error {
	if !o.emit(ctx, run, domain.JobEvent{
		Type:     domain.EventMediaFound,
		Message:  fmt.Sprintf("found %d media items for @%s", len(items), username),
		Username: username,
	}) {
		return ctx.Err()
	}

	dlRes, err := dl.DownloadBatch(ctx, downloader.Options{
		Items:           items,
		OutputDir:       opts.OutputDir,
		Concurrency:     opts.Concurrency,
		RetryCount:      opts.RetryCount,
		Username:        username,
		PerRequestDelay: opts.PerRequestDelay,
	})
	if err != nil {
		return fmt.Errorf("download batch: %w", err)
	}

	result.TotalMedia += dlRes.Total
	result.Downloaded += dlRes.Downloaded
	result.Failed += dlRes.Failed
	result.Skipped += dlRes.Skipped
	result.FailureDetails = append(result.FailureDetails, dlRes.FailureDetails...)
	result.SucceededUsers++

	progress := domain.Progress{
		Total:      dlRes.Total,
		Downloaded: dlRes.Downloaded,
		Failed:     dlRes.Failed,
		Skipped:    dlRes.Skipped,
	}
	if !o.emit(ctx, run, domain.JobEvent{
		Type:     domain.EventDownloadProgress,
		Message:  fmt.Sprintf("@%s: %d downloaded, %d failed, %d skipped", username, dlRes.Downloaded, dlRes.Failed, dlRes.Skipped),
		Username: username,
		Progress: &progress,
	}) {
		return ctx.Err()
	}
	if !o.emit(ctx, run, domain.JobEvent{
		Type:     domain.EventUserFinished,
		Message:  fmt.Sprintf("finished @%s", username),
		Username: username,
	}) {
		return ctx.Err()
	}
	return nil
}

// userRetryBackoff doubles per attempt with a 500ms floor.
func userRetryBackoff(attempt int) time.Duration {
	ms := 500 * (1 << (attempt - 1))
	if ms < 500 {
		ms = 500
	}
	return time.Duration(ms) * time.Millisecond
}

func (o *Orchestrator) emit(ctx context.Context, run *Run, ev domain.JobEvent) bool {
	if ev.Timestamp == "" {
		ev.Timestamp = domain.Timestamp()
	}
	select {
	case run.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
