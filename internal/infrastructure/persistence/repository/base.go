package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/pieceflow/internal/application/tenant"
	"github.com/garyjia/pieceflow/internal/infrastructure/persistence/sqlite"
)

// base carries the connection and logger shared by every repository
type base struct {
	db     *sql.DB
	logger *zap.Logger
}

// getExecutor returns the transaction carried by ctx, or the pool
func (b *base) getExecutor(ctx context.Context) sqlite.QueryExecutor {
	return sqlite.Executor(ctx, b.db)
}

// scope resolves the tenant every query is filtered by
func (b *base) scope(ctx context.Context) (string, error) {
	return tenant.FromContext(ctx)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func idPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Time
	return &v
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
