package domain

import (
	"errors"
	"testing"
)

func TestParseMediaKinds(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []MediaKind
		wantErr bool
	}{
		{
			name:  "empty selects all",
			input: "",
			want:  []MediaKind{MediaKindImage, MediaKindVideo, MediaKindGIF},
		},
		{
			name:  "single kind",
			input: "image",
			want:  []MediaKind{MediaKindImage},
		},
		{
			name:  "mixed case and spaces",
			input: " Video , GIF ",
			want:  []MediaKind{MediaKindVideo, MediaKindGIF},
		},
		{
			name:  "duplicates collapse",
			input: "image,image,video",
			want:  []MediaKind{MediaKindImage, MediaKindVideo},
		},
		{
			name:    "unknown kind",
			input:   "audio",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMediaKinds(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseMediaKinds(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMediaKinds(%q) error: %v", tt.input, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseMediaKinds(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("kind[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDedupMediaItems(t *testing.T) {
	items := []MediaItem{
		{TweetID: "t1", MediaID: "m1", Kind: MediaKindImage, URL: "https://a/1.jpg"},
		{TweetID: "t1", MediaID: "m1", Kind: MediaKindImage, URL: "https://a/1.jpg"},
		{TweetID: "t1", MediaID: "m2", Kind: MediaKindImage, URL: "https://a/2.jpg"},
		{TweetID: "t1", MediaID: "m2", Kind: MediaKindVideo, URL: "https://a/2.jpg"},
	}

	got := DedupMediaItems(items)
	if len(got) != 3 {
		t.Fatalf("expected 3 items after dedup, got %d", len(got))
	}

	// Invariant: |L| equals the number of distinct (tweetId, kind, url) keys.
	keys := make(map[string]bool)
	for _, it := range got {
		keys[it.DedupKey()] = true
	}
	if len(keys) != len(got) {
		t.Errorf("dedup left %d items but %d distinct keys", len(got), len(keys))
	}

	// First-seen order preserved.
	if got[0].MediaID != "m1" || got[1].MediaID != "m2" || got[2].Kind != MediaKindVideo {
		t.Errorf("order not preserved: %+v", got)
	}
}

func TestFilterMediaKinds(t *testing.T) {
	items := []MediaItem{
		{TweetID: "t1", Kind: MediaKindImage, URL: "u1"},
		{TweetID: "t2", Kind: MediaKindVideo, URL: "u2"},
		{TweetID: "t3", Kind: MediaKindGIF, URL: "u3"},
	}

	got := FilterMediaKinds(items, []MediaKind{MediaKindVideo, MediaKindGIF})
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0].Kind != MediaKindVideo || got[1].Kind != MediaKindGIF {
		t.Errorf("unexpected kinds: %+v", got)
	}

	if all := FilterMediaKinds(items, nil); len(all) != 3 {
		t.Errorf("empty kind set should keep everything, got %d", len(all))
	}
}

func TestHasFinalFailures(t *testing.T) {
	tests := []struct {
		name   string
		result JobResult
		want   bool
	}{
		{"clean", JobResult{SucceededUsers: 2, Downloaded: 5}, false},
		{"failed user", JobResult{FailedUsers: 1}, true},
		{"failed media", JobResult{Failed: 1}, true},
		{"skips only", JobResult{Skipped: 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.HasFinalFailures(); got != tt.want {
				t.Errorf("HasFinalFailures() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"coded usage", UsageErrorf("bad flag"), KindUsage},
		{"coded auth", NewCodedError(KindAuth, errors.New("401")), KindAuth},
		{"missing cookies sentinel", ErrMissingCookies, KindAuth},
		{"missing browser", ErrBrowserNotFound, KindUsage},
		{"wrapped sentinel", errors.Join(errors.New("outer"), ErrSessionNotFound), KindAuth},
		{"anything else", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorKindExitCodes(t *testing.T) {
	if KindUsage.ExitCode() != 2 || KindAuth.ExitCode() != 3 || KindPartial.ExitCode() != 4 || KindInternal.ExitCode() != 5 {
		t.Errorf("exit code mapping wrong: usage=%d auth=%d partial=%d internal=%d",
			KindUsage.ExitCode(), KindAuth.ExitCode(), KindPartial.ExitCode(), KindInternal.ExitCode())
	}
}
