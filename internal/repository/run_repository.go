package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iconidentify/xstitch/internal/domain"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 500

	// Fixed width, so lexical order matches time order.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// SQLiteRunRepository implements RunRepository on a SQLite file.
type SQLiteRunRepository struct {
	db *sql.DB
}

// NewSQLiteRunRepository opens (creating if needed) the run history at path.
func NewSQLiteRunRepository(path string) (*SQLiteRunRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; the CLI never needs more.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			ref TEXT NOT NULL,
			stage TEXT NOT NULL,
			state TEXT NOT NULL,
			last_error TEXT,
			output TEXT,
			segments INTEGER NOT NULL DEFAULT 0,
			pages INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteRunRepository{db: db}, nil
}

// Save inserts or replaces a run by ID.
func (r *SQLiteRunRepository) Save(ctx context.Context, run *domain.Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, ref, stage, state, last_error, output, segments, pages, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID.String(), run.Ref, run.Stage.String(), string(run.State), run.LastError,
		run.Output, run.Segments, run.Pages,
		formatTime(run.StartedAt), formatTime(run.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// Get retrieves a run by ID.
func (r *SQLiteRunRepository) Get(ctx context.Context, id domain.RunID) (*domain.Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, ref, stage, state, last_error, output, segments, pages, started_at, updated_at
		FROM runs WHERE id = ?
	`, id.String())

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// Recent returns up to limit runs, newest first.
func (r *SQLiteRunRepository) Recent(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ref, stage, state, last_error, output, segments, pages, started_at, updated_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (r *SQLiteRunRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*domain.Run, error) {
	var (
		run                  domain.Run
		id, stage, state     string
		lastError, output    sql.NullString
		startedAt, updatedAt string
	)
	err := s.Scan(&id, &run.Ref, &stage, &state, &lastError, &output,
		&run.Segments, &run.Pages, &startedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	run.ID = domain.RunID(id)
	run.Stage = domain.Stage(stage)
	run.State = domain.RunState(state)
	run.LastError = lastError.String
	run.Output = output.String
	if run.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if run.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
