package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors.
var (
	// ErrSessionNotFound is returned when no session file exists.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMissingCookies is returned when required cookies are absent.
	ErrMissingCookies = errors.New("missing required cookies")

	// ErrNoScraperResult is returned when a scraper yields no result at all.
	ErrNoScraperResult = errors.New("scraper returned no result")

	// ErrJobRunning is returned when a second job is started while one runs.
	ErrJobRunning = errors.New("a job is already running")

	// ErrRateLimited is returned when rate limited by the platform.
	ErrRateLimited = errors.New("rate limited")

	// ErrBrowserNotFound is returned when no browser executable can be
	// located for the browser engine.
	ErrBrowserNotFound = errors.New("browser executable not found")
)

// Exit codes for the CLI and controller surfaces.
const (
	ExitOK       = 0
	ExitUsage    = 2
	ExitAuth     = 3
	ExitPartial  = 4
	ExitInternal = 5
)

// ErrorKind is the stable error class an arbitrary failure maps to.
type ErrorKind string

const (
	KindUsage    ErrorKind = "USAGE"
	KindAuth     ErrorKind = "AUTH"
	KindPartial  ErrorKind = "PARTIAL"
	KindInternal ErrorKind = "INTERNAL"
)

// ExitCode maps a kind to its process exit code.
func (k ErrorKind) ExitCode() int {
	switch k {
	case KindUsage:
		return ExitUsage
	case KindAuth:
		return ExitAuth
	case KindPartial:
		return ExitPartial
	default:
		return ExitInternal
	}
}

// CodedError attaches an error class to an underlying error.
type CodedError struct {
	Kind ErrorKind
	Err  error
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("%s: %v", strings.ToLower(string(e.Kind)), e.Err)
}

func (e *CodedError) Unwrap() error { return e.Err }

// NewCodedError wraps err with an explicit kind.
func NewCodedError(kind ErrorKind, err error) *CodedError {
	return &CodedError{Kind: kind, Err: err}
}

// UsageErrorf builds a usage-class error.
func UsageErrorf(format string, args ...any) *CodedError {
	return &CodedError{Kind: KindUsage, Err: fmt.Errorf(format, args...)}
}

// ClassifyError maps an arbitrary error to its kind. Explicitly coded
// errors win; well-known sentinels map to their class; a missing browser
// executable is reported as usage with an install hint elsewhere.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Kind
	}
	switch {
	case errors.Is(err, ErrMissingCookies), errors.Is(err, ErrSessionNotFound):
		return KindAuth
	case errors.Is(err, ErrBrowserNotFound):
		return KindUsage
	}
	return KindInternal
}
