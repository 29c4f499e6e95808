package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/interviewd/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens (or creates) the checkpoint database at dbPath. maxOpen is
// the hard connection limit of the pool.
func NewSQLite(dbPath string, maxOpen int) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	if maxOpen <= 0 {
		maxOpen = 25
	}

	// WAL mode lets readers proceed while a checkpoint is being written.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(min(5, maxOpen))
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		token TEXT PRIMARY KEY,
		step INTEGER NOT NULL,
		snapshot TEXT NOT NULL,
		terminal INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_open ON checkpoints(updated_at) WHERE terminal = 0;

	CREATE TABLE IF NOT EXISTS checkpoint_history (
		token TEXT NOT NULL,
		step INTEGER NOT NULL,
		snapshot TEXT NOT NULL,
		terminal INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (token, step)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Load returns the latest checkpoint for token.
func (s *SQLiteStore) Load(ctx context.Context, token string) (*Record, error) {
	query := `
		SELECT token, step, snapshot, terminal, created_at, updated_at
		FROM checkpoints WHERE token = ?`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("load checkpoint", err)
	}
	return rec, nil
}

// LoadAt returns the historical checkpoint at step.
func (s *SQLiteStore) LoadAt(ctx context.Context, token string, step int64) (*Record, error) {
	query := `
		SELECT token, step, snapshot, terminal, created_at, created_at
		FROM checkpoint_history WHERE token = ? AND step = ?`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, token, step))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("load checkpoint history", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var snapshot string
	var terminal int
	var createdAt, updatedAt int64
	if err := row.Scan(&rec.Token, &rec.Step, &snapshot, &terminal, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.Snapshot = []byte(snapshot)
	rec.Terminal = terminal != 0
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return &rec, nil
}

// Save writes rec as the latest checkpoint and appends it to history in one
// transaction.
func (s *SQLiteStore) Save(ctx context.Context, rec *Record, expectedStep int64) error {
	err := retryBusy(ctx, "save checkpoint", func() error {
		return s.saveOnce(ctx, rec, expectedStep)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrConflict):
		return err
	default:
		return unavailable("save checkpoint", err)
	}
}

func (s *SQLiteStore) saveOnce(ctx context.Context, rec *Record, expectedStep int64) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back checkpoint save", "token", rec.Token, "error", rbErr)
			}
		}
	}()

	terminal := 0
	if rec.Terminal {
		terminal = 1
	}
	snapshot := string(rec.Snapshot)

	var result sql.Result
	if expectedStep == 0 {
		result, err = tx.ExecContext(ctx, `
			INSERT INTO checkpoints (token, step, snapshot, terminal, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(token) DO NOTHING`,
			rec.Token, rec.Step, snapshot, terminal,
			rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli(),
		)
	} else {
		result, err = tx.ExecContext(ctx, `
			UPDATE checkpoints SET step = ?, snapshot = ?, terminal = ?, updated_at = ?
			WHERE token = ? AND step = ?`,
			rec.Step, snapshot, terminal, rec.UpdatedAt.UnixMilli(),
			rec.Token, expectedStep,
		)
	}
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("checkpoint save affected 0 rows", "token", rec.Token, "expected_step", expectedStep)
		err = fmt.Errorf("%w: token %s is no longer at step %d", domain.ErrConflict, rec.Token, expectedStep)
		return err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoint_history (token, step, snapshot, terminal, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(token, step) DO UPDATE SET
			snapshot = excluded.snapshot,
			terminal = excluded.terminal,
			created_at = excluded.created_at`,
		rec.Token, rec.Step, snapshot, terminal, rec.UpdatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("append checkpoint history: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// History lists past checkpoints for token, newest first.
func (s *SQLiteStore) History(ctx context.Context, token string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT token, step, snapshot, terminal, created_at, created_at
		FROM checkpoint_history WHERE token = ?
		ORDER BY step DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, token, limit)
	if err != nil {
		return nil, unavailable("query checkpoint history", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close checkpoint history rows", "error", closeErr)
		}
	}()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable("scan checkpoint history row", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate checkpoint history", err)
	}
	return out, nil
}

// Expire removes open sessions that have not been advanced within ttl.
func (s *SQLiteStore) Expire(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	var deleted int64
	err := retryBusy(ctx, "expire checkpoints", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM checkpoint_history WHERE token IN (
				SELECT token FROM checkpoints WHERE terminal = 0 AND updated_at < ?
			)`, threshold); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("expire checkpoint history: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE terminal = 0 AND updated_at < ?`, threshold)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("expire checkpoints: %w", err)
		}
		if deleted, err = res.RowsAffected(); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("get rows affected: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, unavailable("expire checkpoints", err)
	}
	return deleted, nil
}
