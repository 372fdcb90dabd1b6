package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/iconidentify/twmd/internal/config"
	"github.com/iconidentify/twmd/internal/control"
	"github.com/iconidentify/twmd/internal/domain"
	"github.com/iconidentify/twmd/internal/history"
	"github.com/iconidentify/twmd/internal/job"
	"github.com/iconidentify/twmd/internal/report"
	"github.com/iconidentify/twmd/internal/session"
)

// app carries the global CLI state shared by every subcommand.
type app struct {
	stdout io.Writer
	stderr io.Writer

	quiet      bool
	noColor    bool
	outputMode string
	configPath string

	// homeDir overrides the session directory; used by tests.
	homeDir string

	logger *slog.Logger
	cfg    *config.Config
	store  *session.Store
}

func run(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr, outputMode: "text"}

	top := flag.NewFlagSet("twmd", flag.ContinueOnError)
	top.SetOutput(stderr)
	a.bindGlobals(top)
	top.Usage = func() { a.usage(stderr) }
	if err := top.Parse(args); err != nil {
		return domain.ExitUsage
	}

	rest := top.Args()
	if len(rest) == 0 {
		a.usage(stderr)
		return domain.ExitUsage
	}
	cmd, sub := rest[0], rest[1:]

	if cmd == "help" {
		a.usage(stdout)
		return domain.ExitOK
	}

	if err := a.init(); err != nil {
		return a.fail(err)
	}

	var err error
	switch cmd {
	case "login":
		err = a.cmdLogin(sub)
	case "whoami":
		err = a.cmdWhoami(sub)
	case "logout":
		err = a.cmdLogout(sub)
	case "download":
		err = a.cmdDownload(sub)
	case "gui":
		err = a.cmdGUI(sub)
	case "version":
		fmt.Fprintf(a.stdout, "twmd %s (built %s)\n", Version, BuildTime)
	default:
		err = domain.UsageErrorf("unknown command %q, run 'twmd help'", cmd)
	}
	if err != nil {
		return a.fail(err)
	}
	return domain.ExitOK
}

func (a *app) bindGlobals(fs *flag.FlagSet) {
	fs.BoolVar(&a.quiet, "quiet", a.quiet, "Suppress progress output")
	fs.BoolVar(&a.noColor, "no-color", a.noColor, "Disable colored output")
	fs.StringVar(&a.outputMode, "output-format", a.outputMode, "Output format: text or json")
	fs.StringVar(&a.configPath, "config", a.configPath, "Path to config file")
}

// newFlagSet creates a subcommand flag set carrying the global flags
// so they may appear on either side of the subcommand.
func (a *app) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	a.bindGlobals(fs)
	return fs
}

func (a *app) init() error {
	switch a.outputMode {
	case "text", "json":
	default:
		return domain.UsageErrorf("unknown output format %q (want text or json)", a.outputMode)
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		if a.configPath != "" {
			return domain.UsageErrorf("%v", err)
		}
		return err
	}
	a.cfg = cfg

	level := slog.LevelInfo
	if a.quiet {
		level = slog.LevelWarn
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	var handler slog.Handler
	if cfg.Log.Format == "json" || a.outputMode == "json" {
		handler = slog.NewJSONHandler(a.stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level})
	}
	a.logger = slog.New(handler)

	if a.homeDir != "" {
		a.store = session.NewStoreAt(config.AppName, a.homeDir)
	} else {
		store, err := session.NewStore(config.AppName)
		if err != nil {
			return fmt.Errorf("locate session store: %w", err)
		}
		a.store = store
	}
	return nil
}

func (a *app) cmdLogin(args []string) error {
	fs := a.newFlagSet("login")
	cookies := fs.String("cookies", "", "Cookie header or Netscape jar content")
	cookiesFile := fs.String("cookies-file", "", "Path to a cookie file")
	interactive := fs.Bool("interactive", false, "Prompt for the cookie string")
	noStrict := fs.Bool("no-strict", false, "Accept sessions missing required cookies")
	if err := fs.Parse(args); err != nil {
		return domain.UsageErrorf("%v", err)
	}

	blob := *cookies
	switch {
	case blob != "" && *cookiesFile != "":
		return domain.UsageErrorf("--cookies and --cookies-file are mutually exclusive")
	case *cookiesFile == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read cookies from stdin: %w", err)
		}
		blob = string(data)
	case *cookiesFile != "":
		data, err := os.ReadFile(*cookiesFile)
		if err != nil {
			return domain.UsageErrorf("read cookies file: %v", err)
		}
		blob = string(data)
	case blob == "" && *interactive:
		read, err := promptCookies(a.stderr)
		if err != nil {
			return fmt.Errorf("read cookie input: %w", err)
		}
		blob = read
	case blob == "":
		return domain.UsageErrorf("one of --cookies, --cookies-file or --interactive is required")
	}

	sess, err := session.FromCookieBlob(blob, !*noStrict)
	if err != nil {
		if errors.Is(err, domain.ErrMissingCookies) {
			return domain.NewCodedError(domain.KindAuth, err)
		}
		return err
	}
	if err := a.store.Save(sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	a.result(map[string]any{
		"message": fmt.Sprintf("logged in, %d cookies stored", len(sess.Cookies)),
		"path":    a.store.Path(),
		"valid":   sess.Valid,
	})
	return nil
}

// promptCookies reads the cookie string from the terminal without echo,
// falling back to a plain line read when stdin is not a terminal.
func promptCookies(prompt io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(prompt, "Paste cookie string (input hidden): ")
		data, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *app) cmdWhoami(args []string) error {
	fs := a.newFlagSet("whoami")
	if err := fs.Parse(args); err != nil {
		return domain.UsageErrorf("%v", err)
	}

	sess, err := a.store.Load()
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil || len(sess.Cookies) == 0 {
		return domain.NewCodedError(domain.KindAuth,
			fmt.Errorf("%w: run 'twmd login' first", domain.ErrSessionNotFound))
	}
	if err := session.ValidateRequired(sess.Cookies, nil); err != nil {
		return domain.NewCodedError(domain.KindAuth, err)
	}

	// Names and domains only, cookie values never leave the store.
	names := make([]string, 0, len(sess.Cookies))
	for _, c := range sess.Cookies {
		entry := session.CookieName(c)
		if d := session.CookieDomain(c); d != "" {
			entry += " (" + d + ")"
		}
		names = append(names, entry)
	}

	a.result(map[string]any{
		"message":    fmt.Sprintf("session valid: %s", strings.Join(names, ", ")),
		"path":       a.store.Path(),
		"cookies":    names,
		"updated_at": sess.UpdatedAt,
	})
	return nil
}

func (a *app) cmdLogout(args []string) error {
	fs := a.newFlagSet("logout")
	if err := fs.Parse(args); err != nil {
		return domain.UsageErrorf("%v", err)
	}
	if err := a.store.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	a.result(map[string]any{"message": "logged out", "path": a.store.Path()})
	return nil
}

func (a *app) cmdDownload(args []string) error {
	fs := a.newFlagSet("download")
	users := fs.String("users", "", "Comma-separated handles")
	usersFile := fs.String("users-file", "", "File with one handle per line")
	out := fs.String("out", "", "Output directory (required)")
	kindsFlag := fs.String("kinds", "", "Media kinds to keep: image,video,gif (default all)")
	maxTweets := fs.Int("max-tweets", a.cfg.Scraper.MaxTweets, "Max tweets inspected per user")
	concurrency := fs.Int("concurrency", a.cfg.Download.Concurrency, "Parallel downloads per user")
	retry := fs.Int("retry", a.cfg.Download.RetryCount, "Extra attempts per media item")
	userRetry := fs.Int("user-retry", a.cfg.Download.UserRetryCount, "Extra scrape attempts per user")
	userDelayMs := fs.Int("user-delay-ms", int(a.cfg.Download.UserDelay/time.Millisecond), "Delay between users")
	requestDelayMs := fs.Int("request-delay-ms", int(a.cfg.Download.PerRequestDelay/time.Millisecond), "Delay before each media request")
	engine := fs.String("engine", a.cfg.Scraper.Engine, "Inventory engine: graphql or playwright")
	jsonReport := fs.String("json-report", "", "Write a JSON report to this path")
	csvReport := fs.String("csv-report", "", "Write a CSV report to this path")
	failuresReport := fs.String("failures-report", "", "Write a failures-only JSON report to this path")
	if err := fs.Parse(args); err != nil {
		return domain.UsageErrorf("%v", err)
	}

	userList, err := resolveUsers(*users, *usersFile)
	if err != nil {
		return err
	}
	if *out == "" {
		return domain.UsageErrorf("--out is required")
	}
	kinds, err := domain.ParseMediaKinds(*kindsFlag)
	if err != nil {
		return domain.UsageErrorf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch := job.NewOrchestrator(a.logger)
	startedAt := time.Now()
	jobRun, err := orch.Start(ctx, job.Options{
		Store:            a.store,
		Users:            userList,
		OutputDir:        *out,
		MediaKinds:       kinds,
		Engine:           *engine,
		BearerToken:      a.cfg.Scraper.BearerToken,
		MaxTweetsPerUser: *maxTweets,
		Concurrency:      *concurrency,
		RetryCount:       *retry,
		UserRetryCount:   *userRetry,
		UserDelay:        time.Duration(*userDelayMs) * time.Millisecond,
		PerRequestDelay:  time.Duration(*requestDelayMs) * time.Millisecond,
	})
	if err != nil {
		return err
	}

	for ev := range jobRun.Events() {
		a.printEvent(ev)
	}
	result := jobRun.Wait()

	if a.cfg.History.Path != "" {
		a.recordHistory(startedAt, userList, *engine, *out, result)
	}
	if result == nil {
		return domain.NewCodedError(domain.KindInternal, errors.New("job cancelled"))
	}

	for _, rep := range []struct {
		path  string
		write func(string, *domain.JobResult) error
	}{
		{*jsonReport, report.WriteJSON},
		{*csvReport, report.WriteCSV},
		{*failuresReport, report.WriteFailuresJSON},
	} {
		if rep.path == "" {
			continue
		}
		if err := rep.write(rep.path, result); err != nil {
			return err
		}
	}

	a.result(map[string]any{
		"message": fmt.Sprintf("%d/%d users succeeded, %d downloaded, %d failed, %d skipped",
			result.SucceededUsers, result.TotalUsers, result.Downloaded, result.Failed, result.Skipped),
		"summary": result,
	})

	if result.HasFinalFailures() {
		return domain.NewCodedError(domain.KindPartial,
			fmt.Errorf("job completed with %d failed users and %d failed downloads",
				result.FailedUsers, result.Failed))
	}
	return nil
}

func (a *app) recordHistory(startedAt time.Time, users []string, engine, outputDir string, result *domain.JobResult) {
	store, err := history.Open(a.cfg.History.Path)
	if err != nil {
		a.logger.Warn("failed to open history db", "error", err)
		return
	}
	defer store.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := store.Record(ctx, startedAt, users, engine, outputDir, result); err != nil {
		a.logger.Warn("failed to record job history", "error", err)
	}
}

func resolveUsers(usersFlag, usersFile string) ([]string, error) {
	if usersFlag != "" && usersFile != "" {
		return nil, domain.UsageErrorf("--users and --users-file are mutually exclusive")
	}
	if usersFlag == "" && usersFile == "" {
		return nil, domain.UsageErrorf("one of --users or --users-file is required")
	}

	var raw []string
	if usersFlag != "" {
		raw = strings.Split(usersFlag, ",")
	} else {
		data, err := os.ReadFile(usersFile)
		if err != nil {
			return nil, domain.UsageErrorf("read users file: %v", err)
		}
		raw = strings.Split(string(data), "\n")
	}

	var users []string
	for _, u := range raw {
		u = strings.TrimSpace(u)
		if u == "" || strings.HasPrefix(u, "#") {
			continue
		}
		users = append(users, u)
	}
	if len(users) == 0 {
		return nil, domain.UsageErrorf("no usable handles given")
	}
	return users, nil
}

func (a *app) cmdGUI(args []string) error {
	fs := a.newFlagSet("gui")
	if err := fs.Parse(args); err != nil {
		return domain.UsageErrorf("%v", err)
	}

	var hist *history.Store
	if a.cfg.History.Path != "" {
		h, err := history.Open(a.cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open history db: %w", err)
		}
		defer h.Close()
		hist = h
	}

	// The login/whoami/logout buttons re-enter the CLI in process.
	runner := func(ctx context.Context, cmdArgs []string) control.CommandResult {
		var out, errBuf strings.Builder
		code := run(cmdArgs, &out, &errBuf)
		return control.CommandResult{
			ExitCode: code,
			Stdout:   out.String(),
			Stderr:   errBuf.String(),
			OK:       code == domain.ExitOK,
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return control.New(a.logger, a.cfg, a.store, hist, runner).Serve(ctx)
}

func (a *app) printEvent(ev domain.JobEvent) {
	if a.outputMode == "json" {
		if a.quiet && ev.Type != domain.EventWarning && ev.Type != domain.EventError {
			return
		}
		a.writeJSONLine(a.stdout, map[string]any{"level": "event", "event": ev})
		return
	}

	if a.quiet && ev.Type != domain.EventWarning && ev.Type != domain.EventError {
		return
	}
	line := fmt.Sprintf("[%s] %s", ev.Type, ev.Message)
	switch ev.Type {
	case domain.EventError:
		fmt.Fprintln(a.stdout, a.colorize(line, "\x1b[31m"))
	case domain.EventWarning:
		fmt.Fprintln(a.stdout, a.colorize(line, "\x1b[33m"))
	default:
		fmt.Fprintln(a.stdout, line)
	}
}

func (a *app) colorize(s, code string) string {
	if a.noColor {
		return s
	}
	return code + s + "\x1b[0m"
}

// result prints a final subcommand outcome on stdout in the selected
// output format.
func (a *app) result(fields map[string]any) {
	if a.outputMode == "json" {
		fields["level"] = "info"
		a.writeJSONLine(a.stdout, fields)
		return
	}
	if msg, ok := fields["message"].(string); ok {
		fmt.Fprintln(a.stdout, msg)
	}
}

func (a *app) writeJSONLine(w io.Writer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(a.stderr, "encode output: %v\n", err)
		return
	}
	fmt.Fprintln(w, string(data))
}

// fail reports an error in the selected output format and returns its
// exit code.
func (a *app) fail(err error) int {
	kind := domain.ClassifyError(err)
	code := kind.ExitCode()
	msg := err.Error()
	if errors.Is(err, domain.ErrBrowserNotFound) {
		msg += " (install Chrome or Chromium to use the playwright engine)"
	}

	if a.outputMode == "json" {
		a.writeJSONLine(a.stderr, map[string]any{
			"level": "error", "code": string(kind), "exit": code, "message": msg,
		})
		return code
	}
	fmt.Fprintf(a.stderr, "Error [%s] (exit=%d): %s\n", kind, code, msg)
	return code
}

func (a *app) usage(w io.Writer) {
	fmt.Fprint(w, `twmd - batch media downloader for X/Twitter

Usage:
  twmd [global flags] <command> [flags]

Commands:
  login      Store session cookies (--cookies, --cookies-file, --interactive)
  whoami     Show the stored session state
  logout     Remove the stored session
  download   Run a batch download job
  gui        Start the local web controller
  help       Show this help

Download flags:
  --users a,b            Comma-separated handles (or --users-file <path>)
  --out <dir>            Output directory (required)
  --kinds image,video    Media kinds to keep (default all)
  --max-tweets <n>       Max tweets inspected per user
  --concurrency <n>      Parallel downloads per user
  --retry <n>            Extra attempts per media item
  --user-retry <n>       Extra scrape attempts per user
  --user-delay-ms <n>    Delay between users
  --request-delay-ms <n> Delay before each media request
  --engine <name>        graphql or playwright
  --json-report <path>   Write a JSON report
  --csv-report <path>    Write a CSV report
  --failures-report <path> Write a failures-only report

Global flags:
  --quiet                Suppress progress output
  --no-color             Disable colored output
  --output-format <fmt>  text or json
  --config <path>        Config file

Exit codes: 0 ok, 2 usage, 3 auth, 4 partial success, 5 internal.
`)
}
