package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"frais/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository owns the process-wide database handle. Query methods come
// from the embedded *Queries and run outside any transaction; use InTx to
// group writes.
type SQLiteRepository struct {
	*Queries
	db   *sql.DB
	path string
}

func dsn(dbPath string) string {
	return dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w: %w", core.ErrConnectivity, err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w: %w", core.ErrConnectivity, err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("SQLite repository ready", "path", dbPath)

	return &SQLiteRepository{
		Queries: New(db),
		db:      db,
		path:    dbPath,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports ErrConnectivity when the database cannot be reached.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w: %w", core.ErrConnectivity, err)
	}
	return nil
}

// InTx runs fn inside one transaction. Any error returned by fn rolls the
// transaction back and is returned unchanged.
func (r *SQLiteRepository) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err))
	}

	if err := fn(r.Queries.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.WarnContext(ctx, "Transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", classify(err))
	}
	return nil
}

func (r *SQLiteRepository) Path() string {
	return r.path
}
