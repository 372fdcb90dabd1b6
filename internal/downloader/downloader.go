package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/iconidentify/twmd/internal/domain"
)

// Options configures one batch download run.
type Options struct {
	Items           []domain.MediaItem
	OutputDir       string
	Concurrency     int           // default 4
	RetryCount      int           // extra attempts per item, default 2
	Username        string        // default "unknown"
	PerRequestDelay time.Duration // fixed pacing before each request
}

// Result aggregates a batch download run. The counters always satisfy
// downloaded + failed + skipped == total == len(items).
type Result struct {
	Total          int
	Downloaded     int
	Failed         int
	Skipped        int
	FailureDetails []domain.FailureDetail
}

// Engine fetches media items with bounded concurrency, per-item retry
// and de-duplication against the on-disk ledger.
type Engine struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewEngine creates a download engine.
func NewEngine(userAgent string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: 30 * time.Second},
		},
		userAgent: userAgent,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// statusError carries the HTTP status of a failed fetch.
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.status)
}

// DownloadBatch runs the batch. Per-item failures are recorded as
// FailureDetails, never surfaced as an error. The ledger is written
// back exactly once, after every worker has stopped.
func (e *Engine) DownloadBatch(ctx context.Context, opts Options) (*Result, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.RetryCount < 0 {
		opts.RetryCount = 0
	}
	if opts.Username == "" {
		opts.Username = "unknown"
	}

	ledger := LoadLedger(opts.OutputDir)
	result := &Result{Total: len(opts.Items)}
	if len(opts.Items) == 0 {
		return result, nil
	}

	queue := make(chan domain.MediaItem, len(opts.Items))
	for _, item := range opts.Items {
		queue <- item
	}
	close(queue)

	workers := opts.Concurrency
	if workers > len(opts.Items) {
		workers = len(opts.Items)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				if ctx.Err() != nil {
					mu.Lock()
					result.Failed++
					result.FailureDetails = append(result.FailureDetails, mediaFailure(opts, item, ctx.Err(), "", 0))
					mu.Unlock()
					continue
				}
				e.processItem(ctx, opts, item, ledger, result, &mu)
			}
		}()
	}
	wg.Wait()

	if err := ledger.Save(); err != nil {
		e.logger.Warn("failed to write media ledger", "error", err, "output_dir", opts.OutputDir)
	}
	return result, nil
}

// processItem handles a single item; a panic counts the item as failed
// so the counters stay conserved and the ledger still gets written.
func (e *Engine) processItem(ctx context.Context, opts Options, item domain.MediaItem, ledger *Ledger, result *Result, mu *sync.Mutex) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while downloading media", "panic", r, "url", item.URL)
			mu.Lock()
			result.Failed++
			result.FailureDetails = append(result.FailureDetails,
				mediaFailure(opts, item, fmt.Errorf("panic: %v", r), "", 0))
			mu.Unlock()
		}
	}()

	key := MediaKey(item)
	if ledger.Has(key) {
		mu.Lock()
		result.Skipped++
		mu.Unlock()
		return
	}

	userDir := filepath.Join(opts.OutputDir, Sanitize(opts.Username))
	if err := os.MkdirAll(userDir, 0755); err != nil {
		mu.Lock()
		result.Failed++
		result.FailureDetails = append(result.FailureDetails, mediaFailure(opts, item, err, "", 0))
		mu.Unlock()
		return
	}

	target := filepath.Join(userDir, BuildFilename(item))
	if _, err := os.Stat(target); err == nil {
		ledger.Add(key)
		mu.Lock()
		result.Skipped++
		mu.Unlock()
		return
	}

	attempts, err := e.fetchWithRetry(ctx, opts, item, target)
	if err != nil {
		code := ""
		var se *statusError
		if errors.As(err, &se) {
			code = fmt.Sprintf("HTTP_%d", se.status)
		}
		e.logger.Warn("media download failed",
			"username", opts.Username, "tweet_id", item.TweetID, "url", item.URL,
			"attempts", attempts, "error", err)
		mu.Lock()
		result.Failed++
		result.FailureDetails = append(result.FailureDetails, mediaFailure(opts, item, err, code, attempts))
		mu.Unlock()
		return
	}

	ledger.Add(key)
	mu.Lock()
	result.Downloaded++
	mu.Unlock()
}

// fetchWithRetry attempts the download up to RetryCount+1 times and
// returns the number of attempts performed.
func (e *Engine) fetchWithRetry(ctx context.Context, opts Options, item domain.MediaItem, target string) (int, error) {
	var lastErr error
	maxAttempts := opts.RetryCount + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if opts.PerRequestDelay > 0 {
			e.sleep(ctx, opts.PerRequestDelay)
		}
		err := e.fetchOnce(ctx, item.URL, target)
		if err == nil {
			return attempt + 1, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == maxAttempts-1 {
			return attempt + 1, lastErr
		}
		e.sleep(ctx, time.Duration(500*(1<<attempt))*time.Millisecond)
	}
	return maxAttempts, lastErr
}

func (e *Engine) fetchOnce(ctx context.Context, rawURL, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Referer", "https://x.com/")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := os.WriteFile(target, body, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// isRetryable permits a retry only for transport-looking errors without
// an HTTP status, or for 429 and 5xx responses.
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	msg := strings.ToLower(err.Error())
	for _, token := range []string{"network", "timeout", "fetch", "connection"} {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

func mediaFailure(opts Options, item domain.MediaItem, err error, code string, attempts int) domain.FailureDetail {
	target := ""
	if opts.OutputDir != "" {
		target = filepath.Join(opts.OutputDir, Sanitize(opts.Username), BuildFilename(item))
	}
	return domain.FailureDetail{
		Scope:    domain.FailureScopeMedia,
		Username: opts.Username,
		Message:  err.Error(),
		Code:     code,
		Media: &domain.FailureMedia{
			TweetID:    item.TweetID,
			MediaID:    item.MediaID,
			URL:        item.URL,
			TargetPath: target,
		},
		Attempts:  attempts,
		Timestamp: domain.Timestamp(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
