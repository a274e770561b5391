package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

var ErrNotConnected = errors.New("database is not connected")

type Database struct {
	dsn            string
	ConnectionPool *pgxpool.Pool
	logger         *zap.Logger
}

func NewDatabase(dsn string, logger *zap.Logger) *Database {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Database{
		dsn:    dsn,
		logger: logger,
	}
}

// Connect creates the pgx connection pool and verifies it with a ping.
func (db *Database) Connect(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, db.dsn)
	if err != nil {
		return fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("unable to reach database: %w", err)
	}
	db.ConnectionPool = pool
	db.logger.Info("connected to database")
	return nil
}

func (db *Database) Close() {
	if db.ConnectionPool != nil {
		db.ConnectionPool.Close()
	}
}

// EnsureSchema creates the snapshot tables if they do not exist.
func (db *Database) EnsureSchema(ctx context.Context) error {
	if db.ConnectionPool == nil {
		return ErrNotConnected
	}
	if _, err := db.ConnectionPool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	db.logger.Info("database schema is up to date")
	return nil
}

func rollbackOrCommit(ctx context.Context, tx pgx.Tx, err *error, logger *zap.Logger) {
	if *err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			logger.Warn("transaction rollback failed", zap.Error(rbErr), zap.NamedError("original", *err))
		}
		return
	}
	if cmErr := tx.Commit(ctx); cmErr != nil {
		*err = fmt.Errorf("commit failed: %w", cmErr)
	}
}
