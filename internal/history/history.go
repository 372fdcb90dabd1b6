// Package history persists finished job runs to a local SQLite
// database so past batches can be inspected from the CLI and the web
// controller.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/iconidentify/twmd/internal/domain"
)

// Run is one recorded job run.
type Run struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Users       []string  `json:"users"`
	Engine      string    `json:"engine"`
	OutputDir   string    `json:"output_dir"`
	TotalMedia  int       `json:"total_media"`
	Downloaded  int       `json:"downloaded"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	FailedUsers int       `json:"failed_users"`
	Cancelled   bool      `json:"cancelled"`
}

// Store is the job-history database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS job_runs (
	id TEXT PRIMARY KEY,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	users TEXT NOT NULL,
	engine TEXT NOT NULL,
	output_dir TEXT NOT NULL,
	total_media INTEGER NOT NULL,
	downloaded INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	failed_users INTEGER NOT NULL,
	cancelled INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_job_runs_started ON job_runs(started_at);
`

// Open creates or opens the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Record stores one finished run. A nil result marks a cancelled job.
func (s *Store) Record(ctx context.Context, startedAt time.Time, users []string, engine, outputDir string, result *domain.JobResult) (*Run, error) {
	run := &Run{
		ID:         uuid.NewString(),
		StartedAt:  startedAt.UTC(),
		FinishedAt: time.Now().UTC(),
		Users:      users,
		Engine:     engine,
		OutputDir:  outputDir,
		Cancelled:  result == nil,
	}
	if result != nil {
		run.TotalMedia = result.TotalMedia
		run.Downloaded = result.Downloaded
		run.Failed = result.Failed
		run.Skipped = result.Skipped
		run.FailedUsers = result.FailedUsers
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs
			(id, started_at, finished_at, users, engine, output_dir,
			 total_media, downloaded, failed, skipped, failed_users, cancelled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.FinishedAt, strings.Join(run.Users, ","),
		run.Engine, run.OutputDir, run.TotalMedia, run.Downloaded,
		run.Failed, run.Skipped, run.FailedUsers, boolInt(run.Cancelled))
	if err != nil {
		return nil, fmt.Errorf("record job run: %w", err)
	}
	return run, nil
}

// Recent returns the most recent runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, users, engine, output_dir,
		       total_media, downloaded, failed, skipped, failed_users, cancelled
		FROM job_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query job runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var users string
		var cancelled int
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &users,
			&run.Engine, &run.OutputDir, &run.TotalMedia, &run.Downloaded,
			&run.Failed, &run.Skipped, &run.FailedUsers, &cancelled); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		if users != "" {
			run.Users = strings.Split(users, ",")
		}
		run.Cancelled = cancelled != 0
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
