package transfer

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrTransportClosed is returned by Receive after Close.
var ErrTransportClosed = errors.New("transport closed")

// Transport delivers chunks with session correlation. Receive assigns each
// delivered chunk a DeliveryToken; AckSession acknowledges all tokens of a
// session in one call once aggregation completes.
type Transport interface {
	Send(ctx context.Context, chunk Chunk) error
	Receive(ctx context.Context) (Chunk, error)
	AckSession(ctx context.Context, sessionID string, tokens []string) error
}

// MemoryTransport is an in-process Transport backed by a buffered channel.
type MemoryTransport struct {
	queue    chan Chunk
	closed   chan struct{}
	once     sync.Once
	mu       sync.Mutex
	inflight map[string]Chunk
}

func NewMemoryTransport(capacity int) *MemoryTransport {
	return &MemoryTransport{
		queue:    make(chan Chunk, capacity),
		closed:   make(chan struct{}),
		inflight: make(map[string]Chunk),
	}
}

func (m *MemoryTransport) Send(ctx context.Context, chunk Chunk) error {
	chunk.DeliveryToken = ""
	select {
	case <-m.closed:
		return ErrTransportClosed
	default:
	}
	select {
	case m.queue <- chunk:
		return nil
	case <-m.closed:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryTransport) Receive(ctx context.Context) (Chunk, error) {
	select {
	case chunk := <-m.queue:
		chunk.DeliveryToken = uuid.NewString()
		m.mu.Lock()
		m.inflight[chunk.DeliveryToken] = chunk
		m.mu.Unlock()
		return chunk, nil
	case <-m.closed:
		return Chunk{}, ErrTransportClosed
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	}
}

func (m *MemoryTransport) AckSession(ctx context.Context, sessionID string, tokens []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, token := range tokens {
		if c, ok := m.inflight[token]; ok && c.SessionID == sessionID {
			delete(m.inflight, token)
		}
	}
	return nil
}

// Unacked returns the number of delivered chunks awaiting acknowledgement.
func (m *MemoryTransport) Unacked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

func (m *MemoryTransport) Close() {
	m.once.Do(func() { close(m.closed) })
}
