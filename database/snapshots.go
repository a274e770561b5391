package database

import (
	"context"
	"errors"
	"fmt"

	"f0oster/groupsync/snapshot"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// SnapshotStore keeps encoded membership snapshots in Postgres. It
// implements snapshot.Store.
type SnapshotStore struct {
	db *Database
}

func NewSnapshotStore(db *Database) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) Upload(ctx context.Context, path string, content []byte) (err error) {
	if s.db.ConnectionPool == nil {
		return ErrNotConnected
	}
	tx, err := s.db.ConnectionPool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollbackOrCommit(ctx, tx, &err, s.db.logger)

	if _, err = tx.Exec(ctx, UpsertSnapshot, path, content, len(content)); err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", path, err)
	}
	if _, err = tx.Exec(ctx, InsertSnapshotEvent, uuid.New(), path, "upload"); err != nil {
		return fmt.Errorf("record upload of %s: %w", path, err)
	}
	s.db.logger.Debug("stored snapshot", zap.String("path", path), zap.Int("bytes", len(content)))
	return nil
}

func (s *SnapshotStore) Download(ctx context.Context, path string) ([]byte, error) {
	if s.db.ConnectionPool == nil {
		return nil, ErrNotConnected
	}
	var content []byte
	err := s.db.ConnectionPool.QueryRow(ctx, GetSnapshot, path).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", snapshot.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", path, err)
	}
	return content, nil
}

func (s *SnapshotStore) Delete(ctx context.Context, path string) (err error) {
	if s.db.ConnectionPool == nil {
		return ErrNotConnected
	}
	tx, err := s.db.ConnectionPool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollbackOrCommit(ctx, tx, &err, s.db.logger)

	tag, err := tx.Exec(ctx, DeleteSnapshot, path)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		err = fmt.Errorf("%w: %s", snapshot.ErrNotFound, path)
		return err
	}
	if _, err = tx.Exec(ctx, InsertSnapshotEvent, uuid.New(), path, "delete"); err != nil {
		return fmt.Errorf("record delete of %s: %w", path, err)
	}
	return nil
}
