// Package syncrun drives a membership sync run end to end: discover source
// membership, move it through the chunked transport, diff it against the
// destination, gate it and apply it.
package syncrun

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"f0oster/groupsync/applier"
	"f0oster/groupsync/crawler"
	"f0oster/groupsync/diff"
	"f0oster/groupsync/directory"
	"f0oster/groupsync/metrics"
	"f0oster/groupsync/snapshot"
	"f0oster/groupsync/threshold"
	"f0oster/groupsync/transfer"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidJob = errors.New("invalid sync job")

type Options struct {
	Crawler crawler.Options
	Applier applier.Options

	// ChunkSize is the maximum number of members per transfer chunk.
	ChunkSize int

	// TransferWorkers is the number of concurrent delivery workers.
	TransferWorkers int

	// SessionTTL bounds how long a partial transfer session is kept.
	SessionTTL time.Duration

	// CallTimeout bounds the destination membership read.
	CallTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 5000
	}
	if o.TransferWorkers <= 0 {
		o.TransferWorkers = 4
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = time.Hour
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	return o
}

// Service owns the aggregator shared by its delivery workers. Serve must be
// running for Run to make progress past discovery.
type Service struct {
	client     directory.Client
	snapshots  *snapshot.Service
	transport  transfer.Transport
	aggregator *transfer.Aggregator
	applier    *applier.Applier
	notifier   Notifier
	opts       Options
	logger     *zap.Logger

	waiters sync.Map // session id -> chan stored
}

// stored is the outcome of persisting a reassembled snapshot.
type stored struct {
	path string
	err  error
}

func NewService(
	client directory.Client,
	store snapshot.Store,
	transport transfer.Transport,
	notifier Notifier,
	opts Options,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	opts = opts.withDefaults()
	return &Service{
		client:     client,
		snapshots:  snapshot.NewService(store, logger.Named("snapshot")),
		transport:  transport,
		aggregator: transfer.NewAggregator(logger.Named("aggregator")),
		applier:    applier.New(client, opts.Applier, logger.Named("applier")),
		notifier:   notifier,
		opts:       opts,
		logger:     logger,
	}
}

// Serve receives chunks until ctx is cancelled, storing each reassembled
// snapshot and handing its path to the waiting run. Stale partial sessions
// are swept periodically.
func (s *Service) Serve(ctx context.Context) error {
	receiver := transfer.NewReceiver(s.transport, s.aggregator, s.store, s.opts.TransferWorkers, s.logger.Named("receiver"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return receiver.Run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(max(s.opts.SessionTTL/4, time.Second))
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.aggregator.Sweep(s.opts.SessionTTL)
			}
		}
	})
	return g.Wait()
}

// store persists a reassembled snapshot and hands the outcome, failure
// included, to the run waiting on it.
func (s *Service) store(ctx context.Context, snap *snapshot.MembershipSnapshot) error {
	path, err := s.snapshots.Save(ctx, snap)
	if waiter, ok := s.waiters.LoadAndDelete(snap.RunID.String()); ok {
		waiter.(chan stored) <- stored{path: path, err: err}
		return err
	}
	if err != nil {
		return err
	}
	s.logger.Info("stored snapshot with no local run waiting", zap.String("path", path))
	return nil
}

// Run executes job and returns its report. A run that cannot fully apply
// its changes still returns a report with processed and failed counts; an
// error means the run could not reach a verdict.
func (s *Service) Run(ctx context.Context, job Job) (*Report, error) {
	if err := validate(&job); err != nil {
		return nil, err
	}
	start := time.Now()
	logger := s.logger.With(zap.Stringer("run_id", job.RunID), zap.String("destination", job.DestinationGroupID))

	snap, discovery, err := s.Discover(ctx, job)
	if err != nil {
		return nil, err
	}
	logger.Info("source membership discovered",
		zap.Int("members", len(snap.Members)),
		zap.Int64("groups_visited", discovery.GroupsVisited),
		zap.Int("cycles", len(discovery.Cycles)),
		zap.Int64("fetch_failures", discovery.Failures))

	path, err := s.Transfer(ctx, snap)
	if err != nil {
		return nil, err
	}

	report, err := s.Reconcile(ctx, path, job, discovery)
	if err != nil {
		return nil, err
	}
	report.Duration = time.Since(start)
	logger.Info("sync run finished",
		zap.String("status", string(report.Status)),
		zap.Int("to_add", report.ToAdd),
		zap.Int("to_remove", report.ToRemove),
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func validate(job *Job) error {
	if len(job.SourceGroupIDs) == 0 {
		return fmt.Errorf("%w: no source groups", ErrInvalidJob)
	}
	if job.DestinationGroupID == "" {
		return fmt.Errorf("%w: no destination group", ErrInvalidJob)
	}
	if job.ThresholdAddPct < 0 || job.ThresholdRemovePct < 0 {
		return fmt.Errorf("%w: negative threshold", ErrInvalidJob)
	}
	if job.RunID == uuid.Nil {
		job.RunID = uuid.New()
	}
	return nil
}

// Discover crawls every source group concurrently and returns the union of
// users found as a snapshot.
func (s *Service) Discover(ctx context.Context, job Job) (*snapshot.MembershipSnapshot, DiscoveryStats, error) {
	collector := crawler.NewCollector()
	c := crawler.New(s.client, collector, s.opts.Crawler, s.logger.Named("crawler"))

	var (
		mu    sync.Mutex
		stats DiscoveryStats
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, source := range job.SourceGroupIDs {
		g.Go(func() error {
			st, err := c.Crawl(gctx, source)
			mu.Lock()
			stats.add(st)
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("crawl of %s: %w", source, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}
	stats.Cycles = collector.Cycles()

	snap := snapshot.New(job.RunID, job.SourceGroupIDs, job.DestinationGroupID, collector.Users(), job.Exclusionary)
	return snap, stats, nil
}

// Transfer sends snap through the transport and waits until a delivery
// worker has reassembled and stored it, returning the store path.
func (s *Service) Transfer(ctx context.Context, snap *snapshot.MembershipSnapshot) (string, error) {
	chunks, err := transfer.Split(snap, s.opts.ChunkSize)
	if err != nil {
		return "", err
	}

	sessionID := snap.RunID.String()
	waiter := make(chan stored, 1)
	s.waiters.Store(sessionID, waiter)
	defer s.waiters.Delete(sessionID)

	for _, chunk := range chunks {
		if err := s.transport.Send(ctx, chunk); err != nil {
			return "", fmt.Errorf("send chunk %d of session %s: %w", chunk.Index, sessionID, err)
		}
	}

	select {
	case result := <-waiter:
		if result.err != nil {
			return "", fmt.Errorf("store snapshot for session %s: %w", sessionID, result.err)
		}
		return result.path, nil
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for session %s: %w", sessionID, ctx.Err())
	}
}

// Reconcile loads the snapshot at path, diffs it against the destination's
// current members, gates the result and applies it. The snapshot is
// discarded once a verdict is reached.
//
// If discovery failed to read any source group the snapshot may be missing
// members, so an inclusive run withholds every removal and reports
// StatusIncompleteSource.
func (s *Service) Reconcile(ctx context.Context, path string, job Job, discovery DiscoveryStats) (*Report, error) {
	snap, err := s.snapshots.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With(zap.Stringer("run_id", snap.RunID), zap.String("destination", snap.DestinationID))

	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	current, err := s.client.GetChildren(callCtx, snap.DestinationID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("read destination %s: %w", snap.DestinationID, err)
	}

	delta, err := diff.Diff(snap.Members, current, snap.Exclusionary)
	if err != nil {
		return nil, err
	}
	incomplete := discovery.Failures > 0
	withheld := 0
	if incomplete && !snap.Exclusionary && len(delta.ToRemove) > 0 {
		withheld = len(delta.ToRemove)
		delta.ToRemove = nil
		logger.Warn("source discovery incomplete, withholding removals",
			zap.Int64("fetch_failures", discovery.Failures),
			zap.Int("removals_withheld", withheld))
	}
	decision, err := threshold.Evaluate(len(current), delta, job.ThresholdAddPct, job.ThresholdRemovePct)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:              snap.RunID,
		DestinationGroupID: snap.DestinationID,
		Discovery:          discovery,
		SourceMembers:      len(snap.Members),
		DestinationMembers: len(current),
		ToAdd:              len(delta.ToAdd),
		ToRemove:           len(delta.ToRemove),
		RemovalsWithheld:   withheld,
		Decision:           decision,
		GateSkipped:        job.InitialSync,
	}

	switch {
	case decision.Exceeded() && !job.InitialSync:
		report.Status = StatusThresholdExceeded
		if decision.AddExceeded {
			metrics.ThresholdBlocks.WithLabelValues("add").Inc()
		}
		if decision.RemoveExceeded {
			metrics.ThresholdBlocks.WithLabelValues("remove").Inc()
		}
		if err := s.notifier.ThresholdExceeded(ctx, job, report); err != nil {
			logger.Error("failed to send threshold notification", zap.Error(err))
		}
	case job.DryRun:
		report.Status = StatusDryRun
	case delta.Empty():
		report.Status = StatusNoChanges
		if incomplete {
			report.Status = StatusIncompleteSource
		}
	default:
		result, err := s.applier.Apply(ctx, delta, snap.DestinationID)
		report.Apply = &result
		report.Processed = result.Processed()
		report.Failed = len(result.NotFound) + len(result.Failed)
		if err != nil {
			return report, err
		}
		switch {
		case incomplete:
			report.Status = StatusIncompleteSource
		case report.Failed > 0:
			report.Status = StatusPartialFailure
		default:
			report.Status = StatusCompleted
		}
	}

	if err := s.snapshots.Discard(ctx, path); err != nil {
		logger.Warn("failed to discard consumed snapshot", zap.String("path", path), zap.Error(err))
	}
	return report, nil
}
