package snapshot_test

import (
	"context"
	"testing"

	"f0oster/groupsync/directory"
	"f0oster/groupsync/snapshot"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DedupesAndSorts(t *testing.T) {
	snap := snapshot.New(uuid.New(), []string{"src"}, "dst", []directory.Object{
		directory.User("u3"), directory.User("u1"), directory.User("u3"), directory.User("u2"),
	}, false)

	assert.Equal(t, []directory.Object{directory.User("u1"), directory.User("u2"), directory.User("u3")}, snap.Members)
}

func TestValidate(t *testing.T) {
	runID := uuid.New()

	assert.ErrorIs(t, snapshot.Validate(nil), snapshot.ErrInvalidSnapshot)
	assert.ErrorIs(t, snapshot.Validate(&snapshot.MembershipSnapshot{DestinationID: "d"}), snapshot.ErrInvalidSnapshot)
	assert.ErrorIs(t, snapshot.Validate(&snapshot.MembershipSnapshot{RunID: runID}), snapshot.ErrInvalidSnapshot)
	assert.ErrorIs(t, snapshot.Validate(&snapshot.MembershipSnapshot{
		RunID: runID, DestinationID: "d",
		Members: []directory.Object{directory.User("u1"), directory.User("u1")},
	}), snapshot.ErrInvalidSnapshot)
	assert.NoError(t, snapshot.Validate(snapshot.New(runID, nil, "d", nil, true)))
}

func TestDecode_RejectsMalformed(t *testing.T) {
	_, err := snapshot.Decode([]byte(`{"run_id": 12}`))
	assert.ErrorIs(t, err, snapshot.ErrInvalidSnapshot)
}

func TestService_SaveLoadDiscard(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewMemoryStore()
	svc := snapshot.NewService(store, nil)

	snap := snapshot.New(uuid.New(), []string{"A", "B"}, "dst", []directory.Object{directory.User("u1")}, true)
	path, err := svc.Save(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Path(snap.RunID), path)

	loaded, err := svc.Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)

	require.NoError(t, svc.Discard(ctx, path))
	assert.Zero(t, store.Len())
	assert.NoError(t, svc.Discard(ctx, path), "discarding twice is tolerated")

	_, err = svc.Load(ctx, path)
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
}
