package transfer

import (
	"context"
	"errors"
	"fmt"

	"f0oster/groupsync/snapshot"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler consumes a reassembled snapshot.
type Handler func(ctx context.Context, snap *snapshot.MembershipSnapshot) error

// Receiver drains a Transport with a pool of delivery workers sharing one
// Aggregator.
type Receiver struct {
	transport  Transport
	aggregator *Aggregator
	handler    Handler
	workers    int
	logger     *zap.Logger
}

func NewReceiver(transport Transport, aggregator *Aggregator, handler Handler, workers int, logger *zap.Logger) *Receiver {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{
		transport:  transport,
		aggregator: aggregator,
		handler:    handler,
		workers:    workers,
		logger:     logger,
	}
}

// Run receives until ctx is cancelled or the transport closes. Completed
// sessions are passed to the handler and acknowledged only if it succeeds;
// chunks of an already completed session are acknowledged and dropped.
func (r *Receiver) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for range r.workers {
		g.Go(func() error {
			for {
				chunk, err := r.transport.Receive(gctx)
				if err != nil {
					if errors.Is(err, ErrTransportClosed) || gctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("receive chunk: %w", err)
				}
				r.deliver(gctx, chunk)
			}
		})
	}
	return g.Wait()
}

func (r *Receiver) deliver(ctx context.Context, chunk Chunk) {
	result, err := r.aggregator.HandleChunk(chunk.SessionID, chunk)
	if err != nil {
		r.logger.Warn("discarding invalid chunk",
			zap.String("session", chunk.SessionID),
			zap.Int("index", chunk.Index),
			zap.Error(err))
		if ackErr := r.transport.AckSession(ctx, chunk.SessionID, []string{chunk.DeliveryToken}); ackErr != nil {
			r.logger.Warn("failed to acknowledge invalid chunk", zap.String("session", chunk.SessionID), zap.Error(ackErr))
		}
		return
	}
	switch result.State {
	case StatePending:
		return
	case StateAlreadyClaimed:
		if err := r.transport.AckSession(ctx, chunk.SessionID, []string{chunk.DeliveryToken}); err != nil {
			r.logger.Warn("failed to acknowledge late chunk", zap.String("session", chunk.SessionID), zap.Error(err))
		}
		return
	}

	if err := r.handler(ctx, result.Snapshot); err != nil {
		r.logger.Error("failed to process reassembled snapshot",
			zap.String("session", chunk.SessionID),
			zap.Error(err))
		r.aggregator.Release(chunk.SessionID)
		return
	}
	if err := r.transport.AckSession(ctx, chunk.SessionID, result.Tokens); err != nil {
		r.logger.Warn("failed to acknowledge session", zap.String("session", chunk.SessionID), zap.Error(err))
	}
}
