package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// Session is the persisted credential bundle: an ordered list of
// normalized single-cookie strings plus bookkeeping.
type Session struct {
	Cookies   []string  `json:"cookies"`
	UpdatedAt time.Time `json:"updated_at"`
	Valid     bool      `json:"valid"`
}

// NewAnonymous returns an empty, invalid session. The scraper may still
// run against guest endpoints with it.
func NewAnonymous() *Session {
	return &Session{Valid: false}
}

// FromCookieBlob normalizes a free-form cookie blob into a session.
// With strict set, the required cookie names must be present.
func FromCookieBlob(blob string, strict bool) (*Session, error) {
	cookies := NormalizeCookies(blob)
	if strict {
		if err := ValidateRequired(cookies, nil); err != nil {
			return nil, err
		}
	}
	return &Session{
		Cookies:   cookies,
		UpdatedAt: time.Now().UTC(),
		Valid:     len(cookies) > 0,
	}, nil
}

// Store persists the session file under the user's home directory.
type Store struct {
	appName string
	homeDir string
}

// NewStore creates a store rooted at <home>/.<appName>/session.json.
func NewStore(appName string) (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	return &Store{appName: appName, homeDir: home}, nil
}

// NewStoreAt creates a store with an explicit home directory. Used in tests.
func NewStoreAt(appName, homeDir string) *Store {
	return &Store{appName: appName, homeDir: homeDir}
}

// Path returns the session file location.
func (s *Store) Path() string {
	return filepath.Join(s.homeDir, "."+s.appName, "session.json")
}

// Exists reports whether a session file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Load reads the session. A missing file returns (nil, nil); a present
// but malformed file fails with a decode error.
func (s *Store) Load() (*Session, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	return &sess, nil
}

// Save writes the session with mode 0600, creating parents as needed.
func (s *Store) Save(sess *Session) error {
	path := s.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := renameio.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// Clear removes the session file. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
