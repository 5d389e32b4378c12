package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devrev/pairdb/txcoordinator/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresTable implements BranchTable on a PostgreSQL table with columns
// xid (primary key), gxid, bxid and created_at.
type PostgresTable struct {
	pool   *pgxpool.Pool
	name   string
	ident  string
	logger *zap.Logger
}

// NewPostgresTable connects to dsn and returns the table named table
func NewPostgresTable(ctx context.Context, dsn, table string, logger *zap.Logger) (*PostgresTable, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresTableWithPool(pool, table, logger), nil
}

// NewPostgresTableWithPool wraps an existing pool. Close closes the pool.
func NewPostgresTableWithPool(pool *pgxpool.Pool, table string, logger *zap.Logger) *PostgresTable {
	if table == "" {
		table = DefaultTableName
	}
	return &PostgresTable{
		pool:   pool,
		name:   table,
		ident:  pgx.Identifier{table}.Sanitize(),
		logger: logger,
	}
}

// EnsureSchema creates the table if it does not exist
func (t *PostgresTable) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			xid        VARCHAR(64) PRIMARY KEY,
			gxid       VARCHAR(32) NOT NULL,
			bxid       VARCHAR(32) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`, t.ident)

	if _, err := t.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.name, err)
	}
	return nil
}

// Insert records a pending branch
func (t *PostgresTable) Insert(ctx context.Context, branch model.PendingBranch) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (xid, gxid, bxid, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (xid) DO NOTHING
	`, t.ident)

	_, err := t.pool.Exec(ctx, query,
		branch.Identifier,
		branch.GlobalID,
		branch.BranchID,
		branch.CreatedAt,
	)
	return err
}

// Exists reports whether identifier is pending
func (t *PostgresTable) Exists(ctx context.Context, identifier string) (bool, error) {
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE xid = $1`, t.ident)

	var one int
	err := t.pool.QueryRow(ctx, query, identifier).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns every pending row
func (t *PostgresTable) List(ctx context.Context) ([]model.PendingBranch, error) {
	query := fmt.Sprintf(`SELECT xid, gxid, bxid, created_at FROM %s`, t.ident)

	rows, err := t.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var branches []model.PendingBranch
	for rows.Next() {
		var b model.PendingBranch
		var createdAt time.Time
		if err := rows.Scan(&b.Identifier, &b.GlobalID, &b.BranchID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending branch: %w", err)
		}
		b.CreatedAt = createdAt
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return branches, nil
}

// DeleteBatch deletes all identifiers inside one local transaction. The pool
// hands out a fresh connection, so no session setting of other callers is
// touched.
func (t *PostgresTable) DeleteBatch(ctx context.Context, identifiers []string) error {
	if len(identifiers) == 0 {
		return nil
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			t.logger.Error("Failed to roll back pending-branch delete", zap.Error(err))
		}
	}()

	query := fmt.Sprintf(`DELETE FROM %s WHERE xid = $1`, t.ident)
	batch := &pgx.Batch{}
	for _, id := range identifiers {
		batch.Queue(query, id)
	}

	results := tx.SendBatch(ctx, batch)
	for range identifiers {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to delete pending branch: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to delete pending branches: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit pending-branch delete: %w", err)
	}
	return nil
}

// Probe checks the catalog for the table
func (t *PostgresTable) Probe(ctx context.Context) (TableState, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)
	`

	var exists bool
	if err := t.pool.QueryRow(ctx, query, t.name).Scan(&exists); err != nil {
		return TableProbeFailed, err
	}
	if !exists {
		return TableNotFound, nil
	}
	return TableExists, nil
}

// Ping checks the database connection
func (t *PostgresTable) Ping(ctx context.Context) error {
	return t.pool.Ping(ctx)
}

// Close closes the connection pool
func (t *PostgresTable) Close() error {
	t.pool.Close()
	return nil
}
