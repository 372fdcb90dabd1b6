package control

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iconidentify/twmd/internal/config"
	"github.com/iconidentify/twmd/internal/domain"
	"github.com/iconidentify/twmd/internal/job"
	"github.com/iconidentify/twmd/internal/session"
	"github.com/iconidentify/twmd/pkg/twitter"
)

type blockingScraper struct {
	release chan struct{}
	items   []domain.MediaItem
}

func (s *blockingScraper) Initialize(ctx context.Context, sess *session.Session) error { return nil }

func (s *blockingScraper) FetchUserMedia(ctx context.Context, username string, opts twitter.FetchOptions) ([]domain.MediaItem, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.items, nil
}

func (s *blockingScraper) Close() error { return nil }

func testController(t *testing.T) *Controller {
	t.Helper()
	cfg := &config.Config{
		Scraper:  config.ScraperConfig{Engine: "graphql"},
		Download: config.DownloadConfig{Concurrency: 4, UserRetryCount: 1},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(logger, cfg, nil, nil, nil)
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStatusIdle(t *testing.T) {
	c := testController(t)
	rec := httptest.NewRecorder()
	c.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("content type = %q", ct)
	}
	var body map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["running"] {
		t.Error("fresh controller must not report running")
	}
}

func TestDownloadRejectsBadRequest(t *testing.T) {
	c := testController(t)
	router := c.Router()

	rec := postJSON(t, router, "/api/download", DownloadRequest{OutputDir: "/tmp/x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing users: status = %d, want 400", rec.Code)
	}

	rec = postJSON(t, router, "/api/download", DownloadRequest{
		Users: []string{"a"}, OutputDir: "/tmp/x", Kinds: "hologram",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad kinds: status = %d, want 400", rec.Code)
	}
}

func TestDownloadConflictWhileRunning(t *testing.T) {
	c := testController(t)
	router := c.Router()

	scraper := &blockingScraper{release: make(chan struct{})}
	c.orch = job.NewOrchestrator(c.logger)

	// First job: start directly through the orchestrator path by marking
	// the controller busy the same way Download does.
	c.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	run, err := c.orch.Start(ctx, job.Options{
		Users: []string{"alice"}, OutputDir: t.TempDir(), Scraper: scraper,
	})
	if err != nil {
		c.mu.Unlock()
		t.Fatalf("Start: %v", err)
	}
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()
	go c.consume(ctx, cancel, run, DownloadRequest{Users: []string{"alice"}}, time.Now())

	rec := postJSON(t, router, "/api/download", DownloadRequest{
		Users: []string{"bob"}, OutputDir: t.TempDir(),
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("second job: status = %d, want 409", rec.Code)
	}

	// Stop the running job and wait for the controller to go idle.
	rec = postJSON(t, router, "/api/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: status = %d", rec.Code)
	}
	waitIdle(t, c)
}

func TestStopWithoutJob(t *testing.T) {
	c := testController(t)
	rec := postJSON(t, c.Router(), "/api/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]bool
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["stopped"] {
		t.Error("stop without a job must report stopped=false")
	}
}

func TestCommandEndpoints(t *testing.T) {
	c := testController(t)
	var gotArgs []string
	c.runner = func(ctx context.Context, args []string) CommandResult {
		gotArgs = args
		return CommandResult{ExitCode: 0, Stdout: "logged in as @alice\n", OK: true}
	}

	rec := postJSON(t, c.Router(), "/api/whoami", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(gotArgs) != 1 || gotArgs[0] != "whoami" {
		t.Errorf("args = %v", gotArgs)
	}
	var res CommandResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.OK || !strings.Contains(res.Stdout, "alice") {
		t.Errorf("result = %+v", res)
	}
}

func TestCommandEndpointsUnwired(t *testing.T) {
	c := testController(t)
	rec := postJSON(t, c.Router(), "/api/login", LoginRequest{Cookies: "auth_token=a; ct0=b"})
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}

func TestLoginForwardsCookies(t *testing.T) {
	c := testController(t)
	var gotArgs []string
	c.runner = func(ctx context.Context, args []string) CommandResult {
		gotArgs = args
		return CommandResult{ExitCode: 0, Stdout: "session saved\n", OK: true}
	}

	blob := "auth_token=tokA; ct0=csrfA"
	rec := postJSON(t, c.Router(), "/api/login", LoginRequest{Cookies: blob})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	want := []string{"login", "--cookies", blob}
	if len(gotArgs) != 3 || gotArgs[0] != want[0] || gotArgs[1] != want[1] || gotArgs[2] != want[2] {
		t.Errorf("args = %v, want %v", gotArgs, want)
	}
	var res CommandResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.OK || !strings.Contains(res.Stdout, "session saved") {
		t.Errorf("result = %+v", res)
	}
}

func TestLoginRejectsMissingCookies(t *testing.T) {
	c := testController(t)
	called := false
	c.runner = func(ctx context.Context, args []string) CommandResult {
		called = true
		return CommandResult{OK: true}
	}

	for _, body := range []any{LoginRequest{}, LoginRequest{Cookies: "   "}} {
		rec := postJSON(t, c.Router(), "/api/login", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %+v: status = %d, want 400", body, rec.Code)
		}
	}
	if called {
		t.Error("runner must not be invoked without cookies")
	}
}

func TestJobOptionsUserRetry(t *testing.T) {
	c := testController(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"absent falls back to config", `{}`, 1},
		{"explicit zero disables retry", `{"userRetry":0}`, 0},
		{"explicit value wins", `{"userRetry":3}`, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req DownloadRequest
			if err := json.Unmarshal([]byte(tt.body), &req); err != nil {
				t.Fatalf("decode: %v", err)
			}
			opts := c.jobOptions(req, nil)
			if opts.UserRetryCount != tt.want {
				t.Errorf("UserRetryCount = %d, want %d", opts.UserRetryCount, tt.want)
			}
		})
	}
}

func TestEventsStreamDeliversJobEvents(t *testing.T) {
	c := testController(t)
	srv := httptest.NewServer(c.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// Give the handler a moment to register its subscription.
	deadline := time.Now().Add(time.Second)
	for {
		c.hub.mu.Lock()
		n := len(c.hub.subs)
		c.hub.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.hub.broadcast("log", map[string]any{"stream": "stdout", "line": "hello"})
	c.hub.broadcast("job", map[string]any{"type": "finished", "ok": true})

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 6 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v (got %v)", err, lines)
		}
		lines = append(lines, strings.TrimRight(line, "\n"))
	}

	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "event: log") || !strings.Contains(joined, `"line":"hello"`) {
		t.Errorf("log event missing:\n%s", joined)
	}
	if !strings.Contains(joined, "event: job") || !strings.Contains(joined, `"type":"finished"`) {
		t.Errorf("job event missing:\n%s", joined)
	}
}

func TestIndexServesHTML(t *testing.T) {
	c := testController(t)
	rec := httptest.NewRecorder()
	c.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "text/html") {
		t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "EventSource('/events')") {
		t.Error("page must subscribe to the event stream")
	}
	if !strings.Contains(rec.Body.String(), "/api/login") {
		t.Error("page must offer a cookie login form")
	}
}

func waitIdle(t *testing.T, c *Controller) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		running := c.running
		c.mu.Unlock()
		if !running {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("controller never went idle")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
