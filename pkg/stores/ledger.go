// Package stores persists run history in a local SQLite ledger. Every
// apply appends one run row plus a row per step outcome; the ledger is
// the source for `rigup report`.
package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/openrig/rigup/pkg/provision"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ledger is the SQLite-backed run history store.
type Ledger struct {
	db   *sql.DB
	path string
}

// Config holds ledger configuration.
type Config struct {
	Path string
}

// NewLedger creates a ledger over the database at cfg.Path. Call Init
// before use.
func NewLedger(cfg Config) (*Ledger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &Ledger{path: cfg.Path}, nil
}

// Init opens the database, enables WAL mode, and runs migrations.
func (l *Ledger) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_txlock=immediate&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", l.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	l.db = db
	return l.migrate()
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

func (l *Ledger) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(l.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RunRecord is one persisted run.
type RunRecord struct {
	RunID        string     `json:"run_id"`
	Profile      string     `json:"profile"`
	State        string     `json:"state"`
	AbortedStage int        `json:"aborted_stage"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// OutcomeRecord is one persisted step outcome.
type OutcomeRecord struct {
	RunID      string        `json:"run_id"`
	StepID     string        `json:"step_id"`
	Stage      string        `json:"stage"`
	Status     string        `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	ErrorClass string        `json:"error_class,omitempty"`
	ErrorCode  string        `json:"error_code,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// SaveReport persists a finished run and all its outcomes in one
// transaction.
func (l *Ledger) SaveReport(ctx context.Context, profile string, report *provision.RunReport) error {
	if l.db == nil {
		return fmt.Errorf("ledger not initialized")
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	abortedStage := -1
	if report.State == provision.RunAborted {
		abortedStage = report.AbortedStage
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, profile, state, aborted_stage, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		report.RunID, profile, string(report.State), abortedStage,
		report.StartedAt, report.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", report.RunID, err)
	}

	for _, o := range report.Outcomes {
		var errClass, errCode string
		if o.Err != nil {
			errClass = string(o.Err.Class)
			errCode = o.Err.Code
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO step_outcomes (run_id, step_id, stage, status, reason, error_class, error_code, started_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			report.RunID, o.StepID, o.Stage, string(o.Status), o.Reason,
			errClass, errCode, o.StartedAt, o.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("failed to insert outcome for step %s: %w", o.StepID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", report.RunID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if l.db == nil {
		return nil, fmt.Errorf("ledger not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, profile, state, aborted_stage, started_at, completed_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var completed sql.NullTime
		if err := rows.Scan(&r.RunID, &r.Profile, &r.State, &r.AbortedStage,
			&r.StartedAt, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if completed.Valid {
			t := completed.Time
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run with its outcomes.
func (l *Ledger) GetRun(ctx context.Context, runID string) (*RunRecord, []OutcomeRecord, error) {
	if l.db == nil {
		return nil, nil, fmt.Errorf("ledger not initialized")
	}

	var r RunRecord
	var completed sql.NullTime
	err := l.db.QueryRowContext(ctx, `
		SELECT run_id, profile, state, aborted_stage, started_at, completed_at
		FROM runs WHERE run_id = ?`, runID).
		Scan(&r.RunID, &r.Profile, &r.State, &r.AbortedStage, &r.StartedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, provision.NewIOError(
			fmt.Sprintf("run %s not found", runID), nil).WithCode(provision.ErrCodeNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, step_id, stage, status, reason, error_class, error_code, started_at, duration_ms
		FROM step_outcomes WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load outcomes for %s: %w", runID, err)
	}
	defer rows.Close()

	var outcomes []OutcomeRecord
	for rows.Next() {
		var o OutcomeRecord
		var durationMs int64
		if err := rows.Scan(&o.RunID, &o.StepID, &o.Stage, &o.Status, &o.Reason,
			&o.ErrorClass, &o.ErrorCode, &o.StartedAt, &durationMs); err != nil {
			return nil, nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Duration = time.Duration(durationMs) * time.Millisecond
		outcomes = append(outcomes, o)
	}
	return &r, outcomes, rows.Err()
}

// LatestRun returns the most recent run, or a not-found error when the
// ledger is empty.
func (l *Ledger) LatestRun(ctx context.Context) (*RunRecord, []OutcomeRecord, error) {
	runs, err := l.ListRuns(ctx, 1)
	if err != nil {
		return nil, nil, err
	}
	if len(runs) == 0 {
		return nil, nil, provision.NewIOError("no runs recorded", nil).
			WithCode(provision.ErrCodeNotFound)
	}
	return l.GetRun(ctx, runs[0].RunID)
}
