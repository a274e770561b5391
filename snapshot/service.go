package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned by a Store when nothing exists at a path.
	ErrNotFound = errors.New("snapshot not found")

	// ErrInvalidSnapshot marks a snapshot that fails validation.
	ErrInvalidSnapshot = errors.New("invalid membership snapshot")
)

// Store persists encoded snapshots between pipeline stages.
type Store interface {
	Upload(ctx context.Context, path string, content []byte) error
	Download(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// Path returns the store path used for a run's merged snapshot.
func Path(runID uuid.UUID) string {
	return fmt.Sprintf("runs/%s/membership.json", runID)
}

// Validate checks the invariants every stage relies on.
func Validate(s *MembershipSnapshot) error {
	if s == nil {
		return fmt.Errorf("%w: nil snapshot", ErrInvalidSnapshot)
	}
	if s.RunID == uuid.Nil {
		return fmt.Errorf("%w: missing run id", ErrInvalidSnapshot)
	}
	if s.DestinationID == "" {
		return fmt.Errorf("%w: missing destination", ErrInvalidSnapshot)
	}
	seen := make(map[string]struct{}, len(s.Members))
	for _, m := range s.Members {
		if m.ID == "" {
			return fmt.Errorf("%w: member with empty id", ErrInvalidSnapshot)
		}
		if _, ok := seen[m.ID]; ok {
			return fmt.Errorf("%w: duplicate member %s", ErrInvalidSnapshot, m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return nil
}

func Encode(s *MembershipSnapshot) ([]byte, error) {
	if err := Validate(s); err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

func Decode(data []byte) (*MembershipSnapshot, error) {
	var s MembershipSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Service saves and loads snapshots through a Store.
type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// Save encodes the snapshot and uploads it to its run path.
func (s *Service) Save(ctx context.Context, snap *MembershipSnapshot) (string, error) {
	content, err := Encode(snap)
	if err != nil {
		return "", err
	}
	path := Path(snap.RunID)
	if err := s.store.Upload(ctx, path, content); err != nil {
		return "", fmt.Errorf("failed to upload snapshot %s: %w", path, err)
	}
	s.logger.Debug("snapshot saved", zap.String("path", path), zap.Int("members", len(snap.Members)))
	return path, nil
}

func (s *Service) Load(ctx context.Context, path string) (*MembershipSnapshot, error) {
	content, err := s.store.Download(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to download snapshot %s: %w", path, err)
	}
	return Decode(content)
}

// Discard deletes a consumed snapshot. A missing snapshot is not an error.
func (s *Service) Discard(ctx context.Context, path string) error {
	if err := s.store.Delete(ctx, path); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete snapshot %s: %w", path, err)
	}
	return nil
}
