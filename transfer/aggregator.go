package transfer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"f0oster/groupsync/directory"
	"f0oster/groupsync/metrics"
	"f0oster/groupsync/snapshot"

	"go.uber.org/zap"
)

// State is the outcome of handing one chunk to the Aggregator.
type State int

const (
	// StatePending means the session is still collecting chunks.
	StatePending State = iota
	// StateComplete is returned to exactly one caller per session.
	StateComplete
	// StateAlreadyClaimed means another caller completed the session.
	StateAlreadyClaimed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateComplete:
		return "complete"
	case StateAlreadyClaimed:
		return "already_claimed"
	default:
		return "unknown"
	}
}

// Result carries the merged snapshot and every delivery token seen for the
// session when State is StateComplete.
type Result struct {
	State    State
	Snapshot *snapshot.MembershipSnapshot
	Tokens   []string
}

type session struct {
	mu      sync.Mutex
	chunks  map[int]Chunk
	tokens  []string
	total   int // 0 until the last chunk is seen
	claimed bool
	started time.Time
}

// Aggregator reassembles chunked snapshots. Each session has its own entry
// and lock; no lock spans sessions. An Aggregator is owned by whoever
// constructs it and must be shared by every delivery worker of a transport.
type Aggregator struct {
	sessions sync.Map // session id -> *session
	claimed  sync.Map // session id -> time.Time the session completed
	logger   *zap.Logger
	now      func() time.Time
}

func NewAggregator(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{logger: logger, now: time.Now}
}

// HandleChunk adds chunk to its session. The session completes once the
// chunk flagged last has arrived and no index before it is missing; the
// caller whose chunk completes it claims the entry, removes it, and alone
// receives StateComplete. Redelivered chunks are idempotent, including
// chunks that arrive after their session completed: those report
// StateAlreadyClaimed until Sweep forgets the session or Release is called.
//
// If processing a completed result fails downstream, the entry is already
// gone; reacquiring the data is the caller's concern.
func (a *Aggregator) HandleChunk(sessionID string, chunk Chunk) (Result, error) {
	if sessionID == "" || chunk.SessionID != sessionID {
		return Result{}, fmt.Errorf("%w: session id %q does not match chunk session %q", ErrInvalidChunk, sessionID, chunk.SessionID)
	}
	if chunk.Index < 0 {
		return Result{}, fmt.Errorf("%w: negative index %d", ErrInvalidChunk, chunk.Index)
	}

	if _, done := a.claimed.Load(sessionID); done {
		return Result{State: StateAlreadyClaimed}, nil
	}

	entry, _ := a.sessions.LoadOrStore(sessionID, &session{
		chunks:  make(map[int]Chunk),
		started: a.now(),
	})
	s := entry.(*session)

	s.mu.Lock()
	if s.claimed {
		s.mu.Unlock()
		return Result{State: StateAlreadyClaimed}, nil
	}
	if err := s.accept(chunk); err != nil {
		s.mu.Unlock()
		return Result{}, err
	}
	if s.total == 0 || len(s.chunks) < s.total {
		s.mu.Unlock()
		return Result{State: StatePending}, nil
	}
	s.claimed = true
	a.claimed.Store(sessionID, a.now())
	chunks, tokens := s.chunks, s.tokens
	s.mu.Unlock()

	a.sessions.CompareAndDelete(sessionID, s)
	metrics.SessionsCompleted.Inc()

	merged := merge(chunks)
	a.logger.Debug("transfer session complete",
		zap.String("session", sessionID),
		zap.Int("chunks", len(chunks)),
		zap.Int("members", len(merged.Members)))
	return Result{State: StateComplete, Snapshot: merged, Tokens: tokens}, nil
}

// accept validates and stores chunk. Caller holds s.mu.
func (s *session) accept(chunk Chunk) error {
	for _, existing := range s.chunks {
		if err := sameHeader(&existing, &chunk); err != nil {
			return err
		}
		break
	}

	if chunk.IsLastChunk {
		total := chunk.Index + 1
		if s.total != 0 && s.total != total {
			return fmt.Errorf("%w: last chunk index %d conflicts with earlier last index %d", ErrInvalidChunk, chunk.Index, s.total-1)
		}
		for idx := range s.chunks {
			if idx >= total {
				return fmt.Errorf("%w: chunk %d received beyond last index %d", ErrInvalidChunk, idx, chunk.Index)
			}
		}
		s.total = total
	} else if s.total != 0 && chunk.Index >= s.total-1 {
		return fmt.Errorf("%w: chunk %d is not flagged last but last index is %d", ErrInvalidChunk, chunk.Index, s.total-1)
	}

	if chunk.DeliveryToken != "" {
		s.tokens = append(s.tokens, chunk.DeliveryToken)
	}
	if _, dup := s.chunks[chunk.Index]; !dup {
		s.chunks[chunk.Index] = chunk
	}
	return nil
}

func merge(chunks map[int]Chunk) *snapshot.MembershipSnapshot {
	indexes := make([]int, 0, len(chunks))
	size := 0
	for idx, c := range chunks {
		indexes = append(indexes, idx)
		size += len(c.Payload.Members)
	}
	sort.Ints(indexes)

	header := chunks[indexes[0]].Payload
	members := make([]directory.Object, 0, size)
	for _, idx := range indexes {
		members = append(members, chunks[idx].Payload.Members...)
	}
	return snapshot.New(header.RunID, header.SourceIDs, header.DestinationID, members, header.Exclusionary)
}

// Pending returns the number of sessions still collecting.
func (a *Aggregator) Pending() int {
	n := 0
	a.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Release forgets that sessionID completed so a redelivery of its chunks
// can reassemble it again. Call it when a completed result could not be
// processed.
func (a *Aggregator) Release(sessionID string) {
	a.claimed.Delete(sessionID)
}

// Sweep drops partial sessions whose first chunk arrived more than maxAge
// ago and returns how many were dropped. Completed sessions older than
// maxAge are forgotten as well; late chunks for either start a new session.
func (a *Aggregator) Sweep(maxAge time.Duration) int {
	cutoff := a.now().Add(-maxAge)
	a.claimed.Range(func(key, value any) bool {
		if value.(time.Time).Before(cutoff) {
			a.claimed.CompareAndDelete(key, value)
		}
		return true
	})

	dropped := 0
	a.sessions.Range(func(key, value any) bool {
		s := value.(*session)
		s.mu.Lock()
		stale := !s.claimed && s.started.Before(cutoff)
		if stale {
			s.claimed = true
		}
		s.mu.Unlock()
		if stale && a.sessions.CompareAndDelete(key, s) {
			dropped++
			a.logger.Warn("dropping stale transfer session", zap.Any("session", key))
		}
		return true
	})
	if dropped > 0 {
		metrics.SessionsSwept.Add(float64(dropped))
	}
	return dropped
}
