package transfer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"f0oster/groupsync/directory"
	"f0oster/groupsync/snapshot"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(n int) *snapshot.MembershipSnapshot {
	members := make([]directory.Object, 0, n)
	for i := 0; i < n; i++ {
		members = append(members, directory.User(fmt.Sprintf("u%04d", i)))
	}
	return snapshot.New(uuid.New(), []string{"src-a", "src-b"}, "dst", members, false)
}

func TestSplit(t *testing.T) {
	snap := testSnapshot(250)

	chunks, err := Split(snap, 100)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	sizes := []int{100, 100, 50}
	for i, c := range chunks {
		assert.Equal(t, snap.RunID.String(), c.SessionID)
		assert.Equal(t, i, c.Index)
		assert.Equal(t, i == 2, c.IsLastChunk)
		assert.Len(t, c.Payload.Members, sizes[i])
		assert.Equal(t, "dst", c.Payload.DestinationID)
	}
	assert.Len(t, snap.Members, 250, "split must not alter the snapshot")
}

func TestSplit_EmptySnapshot(t *testing.T) {
	chunks, err := Split(testSnapshot(0), 10)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].IsLastChunk)
	assert.Empty(t, chunks[0].Payload.Members)
}

func TestSplit_InvalidInput(t *testing.T) {
	_, err := Split(testSnapshot(3), 0)
	assert.ErrorIs(t, err, ErrInvalidChunkSize)

	_, err = Split(nil, 10)
	assert.ErrorIs(t, err, snapshot.ErrInvalidSnapshot)
}

func TestAggregator_AnyOrderCompletesOnce(t *testing.T) {
	snap := testSnapshot(95)
	chunks, err := Split(snap, 10)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 25; trial++ {
		agg := NewAggregator(nil)
		order := rng.Perm(len(chunks))

		var completes []Result
		for i, idx := range order {
			c := chunks[idx]
			c.DeliveryToken = fmt.Sprintf("t%d", i)
			res, err := agg.HandleChunk(c.SessionID, c)
			require.NoError(t, err)
			if res.State == StateComplete {
				completes = append(completes, res)
			}
		}

		require.Len(t, completes, 1, "order %v", order)
		assert.Equal(t, snap, completes[0].Snapshot)
		assert.Len(t, completes[0].Tokens, len(chunks))
		assert.Zero(t, agg.Pending())
	}
}

func TestAggregator_ConcurrentDeliveryCompletesOnce(t *testing.T) {
	snap := testSnapshot(500)
	chunks, err := Split(snap, 7)
	require.NoError(t, err)

	for trial := 0; trial < 20; trial++ {
		agg := NewAggregator(nil)
		var (
			wg        sync.WaitGroup
			completes atomic.Int32
			mu        sync.Mutex
			merged    *snapshot.MembershipSnapshot
		)
		start := make(chan struct{})
		for _, c := range chunks {
			wg.Add(1)
			go func(c Chunk) {
				defer wg.Done()
				<-start
				res, err := agg.HandleChunk(c.SessionID, c)
				assert.NoError(t, err)
				if res.State == StateComplete {
					completes.Add(1)
					mu.Lock()
					merged = res.Snapshot
					mu.Unlock()
				}
			}(c)
		}
		close(start)
		wg.Wait()

		require.EqualValues(t, 1, completes.Load())
		assert.Equal(t, snap, merged)
	}
}

func TestAggregator_SingleChunkSession(t *testing.T) {
	chunks, err := Split(testSnapshot(3), 10)
	require.NoError(t, err)

	res, err := NewAggregator(nil).HandleChunk(chunks[0].SessionID, chunks[0])
	require.NoError(t, err)
	assert.Equal(t, StateComplete, res.State)
	assert.Len(t, res.Snapshot.Members, 3)
}

func TestAggregator_DuplicateBeforeCompletion(t *testing.T) {
	chunks, err := Split(testSnapshot(30), 10)
	require.NoError(t, err)
	agg := NewAggregator(nil)

	for _, c := range []Chunk{chunks[0], chunks[0], chunks[2], chunks[1]} {
		c.DeliveryToken = uuid.NewString()
		res, err := agg.HandleChunk(c.SessionID, c)
		require.NoError(t, err)
		if c.Index == 1 {
			assert.Equal(t, StateComplete, res.State)
			assert.Len(t, res.Snapshot.Members, 30)
			assert.Len(t, res.Tokens, 4, "duplicate deliveries are acknowledged too")
		} else {
			assert.Equal(t, StatePending, res.State)
		}
	}
}

func TestAggregator_ClaimedSessionIsNoOp(t *testing.T) {
	chunks, err := Split(testSnapshot(20), 10)
	require.NoError(t, err)
	agg := NewAggregator(nil)

	entry := &session{chunks: map[int]Chunk{}, claimed: true}
	agg.sessions.Store(chunks[0].SessionID, entry)

	res, err := agg.HandleChunk(chunks[1].SessionID, chunks[1])
	require.NoError(t, err)
	assert.Equal(t, StateAlreadyClaimed, res.State)
}

func TestAggregator_RejectsInconsistentChunks(t *testing.T) {
	chunks, err := Split(testSnapshot(30), 10)
	require.NoError(t, err)
	agg := NewAggregator(nil)

	_, err = agg.HandleChunk("other", chunks[0])
	assert.ErrorIs(t, err, ErrInvalidChunk)

	_, err = agg.HandleChunk(chunks[0].SessionID, chunks[0])
	require.NoError(t, err)

	bad := chunks[1]
	bad.Payload.DestinationID = "elsewhere"
	_, err = agg.HandleChunk(bad.SessionID, bad)
	assert.ErrorIs(t, err, ErrInvalidChunk)

	res, err := agg.HandleChunk(chunks[2].SessionID, chunks[2])
	require.NoError(t, err)
	assert.Equal(t, StatePending, res.State)

	beyond := chunks[1]
	beyond.Index = 5
	_, err = agg.HandleChunk(beyond.SessionID, beyond)
	assert.ErrorIs(t, err, ErrInvalidChunk, "a chunk past the last index is rejected")

	conflicting := chunks[1]
	conflicting.IsLastChunk = true
	_, err = agg.HandleChunk(conflicting.SessionID, conflicting)
	assert.ErrorIs(t, err, ErrInvalidChunk, "a second, different last chunk is rejected")

	res, err = agg.HandleChunk(chunks[1].SessionID, chunks[1])
	require.NoError(t, err)
	assert.Equal(t, StateComplete, res.State)
	assert.Len(t, res.Snapshot.Members, 30)
}

func TestAggregator_Sweep(t *testing.T) {
	chunks, err := Split(testSnapshot(30), 10)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	agg := NewAggregator(nil)
	agg.now = func() time.Time { return now }

	_, err = agg.HandleChunk(chunks[0].SessionID, chunks[0])
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Pending())

	assert.Zero(t, agg.Sweep(time.Hour))

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, agg.Sweep(time.Hour))
	assert.Zero(t, agg.Pending())
}

func TestReceiver_ReassemblesAndAcknowledges(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	transport := NewMemoryTransport(64)
	got := make(chan *snapshot.MembershipSnapshot, 2)
	receiver := NewReceiver(transport, NewAggregator(nil), func(ctx context.Context, snap *snapshot.MembershipSnapshot) error {
		got <- snap
		return nil
	}, 4, nil)

	runDone := make(chan error, 1)
	go func() { runDone <- receiver.Run(ctx) }()

	snaps := []*snapshot.MembershipSnapshot{testSnapshot(120), testSnapshot(33)}
	for _, snap := range snaps {
		chunks, err := Split(snap, 16)
		require.NoError(t, err)
		for _, c := range chunks {
			require.NoError(t, transport.Send(ctx, c))
		}
	}

	received := map[uuid.UUID]*snapshot.MembershipSnapshot{}
	for range snaps {
		select {
		case snap := <-got:
			received[snap.RunID] = snap
		case <-ctx.Done():
			t.Fatal("timed out waiting for reassembled snapshot")
		}
	}
	for _, snap := range snaps {
		assert.Equal(t, snap, received[snap.RunID])
	}

	transport.Close()
	require.NoError(t, <-runDone)
	assert.Zero(t, transport.Unacked())
}

func TestReceiver_HandlerFailureLeavesSessionUnacked(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	transport := NewMemoryTransport(8)
	called := make(chan struct{})
	receiver := NewReceiver(transport, NewAggregator(nil), func(ctx context.Context, snap *snapshot.MembershipSnapshot) error {
		close(called)
		return fmt.Errorf("store unavailable")
	}, 1, nil)

	runDone := make(chan error, 1)
	go func() { runDone <- receiver.Run(ctx) }()

	chunks, err := Split(testSnapshot(5), 2)
	require.NoError(t, err)
	for _, c := range chunks {
		require.NoError(t, transport.Send(ctx, c))
	}

	<-called
	transport.Close()
	require.NoError(t, <-runDone)
	assert.Equal(t, len(chunks), transport.Unacked())
}

func TestAggregator_LateChunkAfterCompletion(t *testing.T) {
	chunks, err := Split(testSnapshot(30), 10)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	agg := NewAggregator(nil)
	agg.now = func() time.Time { return now }

	var last Result
	for _, c := range chunks {
		last, err = agg.HandleChunk(c.SessionID, c)
		require.NoError(t, err)
	}
	require.Equal(t, StateComplete, last.State)

	res, err := agg.HandleChunk(chunks[0].SessionID, chunks[0])
	require.NoError(t, err)
	assert.Equal(t, StateAlreadyClaimed, res.State)
	assert.Zero(t, agg.Pending(), "late chunk must not open a new session")

	now = now.Add(2 * time.Hour)
	assert.Zero(t, agg.Sweep(time.Hour))

	res, err = agg.HandleChunk(chunks[0].SessionID, chunks[0])
	require.NoError(t, err)
	assert.Equal(t, StatePending, res.State, "swept sessions are forgotten")
}

func TestAggregator_ReleaseAllowsReassembly(t *testing.T) {
	chunks, err := Split(testSnapshot(20), 10)
	require.NoError(t, err)
	agg := NewAggregator(nil)

	for _, c := range chunks {
		_, err := agg.HandleChunk(c.SessionID, c)
		require.NoError(t, err)
	}
	agg.Release(chunks[0].SessionID)

	var last Result
	for _, c := range chunks {
		last, err = agg.HandleChunk(c.SessionID, c)
		require.NoError(t, err)
	}
	assert.Equal(t, StateComplete, last.State)
}

func TestReceiver_AcknowledgesLateRedelivery(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	transport := &countingTransport{MemoryTransport: NewMemoryTransport(8)}
	var handled atomic.Int32
	receiver := NewReceiver(transport, NewAggregator(nil), func(ctx context.Context, snap *snapshot.MembershipSnapshot) error {
		handled.Add(1)
		return nil
	}, 2, nil)

	runDone := make(chan error, 1)
	go func() { runDone <- receiver.Run(ctx) }()

	chunks, err := Split(testSnapshot(6), 2)
	require.NoError(t, err)
	for _, c := range chunks {
		require.NoError(t, transport.Send(ctx, c))
	}
	require.Eventually(t, func() bool { return handled.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, transport.Send(ctx, chunks[1]))
	require.Eventually(t, func() bool { return transport.acked.Load() == int64(len(chunks)+1) }, 5*time.Second, 5*time.Millisecond)

	transport.Close()
	require.NoError(t, <-runDone)
	assert.Equal(t, int32(1), handled.Load())
	assert.Zero(t, transport.Unacked())
}

// countingTransport counts acknowledged tokens.
type countingTransport struct {
	*MemoryTransport
	acked atomic.Int64
}

func (c *countingTransport) AckSession(ctx context.Context, sessionID string, tokens []string) error {
	err := c.MemoryTransport.AckSession(ctx, sessionID, tokens)
	c.acked.Add(int64(len(tokens)))
	return err
}
