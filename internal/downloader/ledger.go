package downloader

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/iconidentify/twmd/internal/domain"
)

const (
	ledgerVersion = 1
	ledgerDir     = ".engine-cache"
	ledgerName    = "downloaded-media.json"
)

// ledgerFile is the on-disk shape of the downloaded-media ledger.
type ledgerFile struct {
	Version   int      `json:"version"`
	UpdatedAt string   `json:"updatedAt"`
	MediaKeys []string `json:"mediaKeys"`
}

// Ledger tracks which media keys are already present in an output
// directory. It is shared across jobs targeting the same directory and
// written back once per downloader run.
type Ledger struct {
	path string

	mu   sync.Mutex
	keys map[string]struct{}
}

// LoadLedger reads the ledger for an output directory. Any load or
// parse failure degrades silently to an empty ledger.
func LoadLedger(outputDir string) *Ledger {
	l := &Ledger{
		path: filepath.Join(outputDir, ledgerDir, ledgerName),
		keys: make(map[string]struct{}),
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return l
	}
	var f ledgerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return l
	}
	for _, k := range f.MediaKeys {
		l.keys[k] = struct{}{}
	}
	return l
}

// Has reports whether a media key is recorded.
func (l *Ledger) Has(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.keys[key]
	return ok
}

// Add records a media key.
func (l *Ledger) Add(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys[key] = struct{}{}
}

// Len returns the number of recorded keys.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// Save writes the ledger atomically (write to temp, then rename).
func (l *Ledger) Save() error {
	l.mu.Lock()
	keys := make([]string, 0, len(l.keys))
	for k := range l.keys {
		keys = append(keys, k)
	}
	l.mu.Unlock()
	sort.Strings(keys)

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	data, err := json.MarshalIndent(ledgerFile{
		Version:   ledgerVersion,
		UpdatedAt: domain.Timestamp(),
		MediaKeys: keys,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := renameio.WriteFile(l.path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

// MediaKey builds the ledger key for a media item:
// lower(username)|tweetId|kind|url-without-query.
func MediaKey(item domain.MediaItem) string {
	return strings.ToLower(item.Username) + "|" + item.TweetID + "|" +
		string(item.Kind) + "|" + normalizeURLForKey(item.URL)
}

// normalizeURLForKey drops the query string and fragment so re-signed
// URLs for the same object map to the same key.
func normalizeURLForKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
