package twitter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRefreshMetadata(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><script src="%s/responsive-web/client-web/main.f00ba4.js"></script></html>`, srv.URL)
	})
	mux.HandleFunc("/responsive-web/client-web/main.f00ba4.js", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `var x={queryId:"FreshUserMediaId01",operationName:"UserMedia",operationType:"query"};`+
			`fetch("/i/api/graphql/FreshByScreenName1/UserByScreenName");`+
			`var h="Bearer AAAAAAAAAfreshbearer0123456789_token";`)
	})

	s := NewGraphQLScraper(Config{}, testLogger(t))
	s.homes = []string{srv.URL}
	s.bearerIdx = 0 // rotation starts at the shipped default

	if err := s.refreshMetadata(context.Background()); err != nil {
		t.Fatalf("refreshMetadata: %v", err)
	}

	if got := s.opIDs[OpUserMedia][0]; got != "FreshUserMediaId01" {
		t.Errorf("UserMedia query id = %q, want FreshUserMediaId01", got)
	}
	if got := s.opIDs[OpUserByScreenName][0]; got != "FreshByScreenName1" {
		t.Errorf("UserByScreenName query id = %q, want FreshByScreenName1", got)
	}

	// A discovered bearer supplants the rotation: it must be the next
	// token presented, not a trailing fallback.
	if got := s.bearers[0]; got != "AAAAAAAAAfreshbearer0123456789_token" {
		t.Errorf("bearers[0] = %q, want the freshly discovered token (%v)", got, s.bearers)
	}
	if s.bearerIdx != 0 {
		t.Errorf("bearerIdx = %d, want 0 after discovery", s.bearerIdx)
	}
	if got := s.currentBearer(); got != "AAAAAAAAAfreshbearer0123456789_token" {
		t.Errorf("currentBearer() = %q, want the fresh token", got)
	}
	// The shipped defaults stay as fallbacks.
	if len(s.opIDs[OpUserMedia]) < 2 {
		t.Errorf("default UserMedia id was dropped: %v", s.opIDs[OpUserMedia])
	}
	if len(s.bearers) < 2 {
		t.Errorf("default bearer was dropped: %v", s.bearers)
	}
}

func TestScanBundleIgnoresUnknownOperations(t *testing.T) {
	s := NewGraphQLScraper(Config{}, testLogger(t))
	before := len(s.opIDs[OpUserMedia])
	if s.scanBundle(`{queryId:"SomeOtherOperation1",operationName:"HomeTimeline"}`) {
		t.Error("unknown operation should not count as a discovery")
	}
	if len(s.opIDs[OpUserMedia]) != before {
		t.Error("unknown operation must not touch known id lists")
	}
}
