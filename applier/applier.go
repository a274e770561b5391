// Package applier executes approved membership deltas against the directory
// in bounded, strictly ordered batches.
package applier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"f0oster/groupsync/diff"
	"f0oster/groupsync/directory"
	"f0oster/groupsync/metrics"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBatchSize      = 100
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
	DefaultCallTimeout    = 30 * time.Second
)

type Options struct {
	// BatchSize is the directory API's per-request member limit.
	BatchSize int

	// MaxAttempts caps calls per batch, the first one included.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// BatchesPerSecond paces batch submission. Zero disables pacing.
	BatchesPerSecond float64

	// CallTimeout bounds each AddMembers/RemoveMembers call.
	CallTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = max(DefaultMaxBackoff, o.InitialBackoff)
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	return o
}

// Result aggregates member outcomes for one Apply.
type Result struct {
	SuccessCount          int
	NotFound              []directory.Object
	AlreadyInDesiredState []directory.Object
	// Failed holds members still failing transiently after the last attempt.
	Failed     []directory.Object
	Batches    int
	Duration   time.Duration
	Throughput float64 // processed members per second
}

// Processed counts members that reached a final outcome.
func (r Result) Processed() int {
	return r.SuccessCount + len(r.NotFound) + len(r.AlreadyInDesiredState)
}

type Applier struct {
	client  directory.Client
	opts    Options
	limiter *rate.Limiter
	logger  *zap.Logger
}

func New(client directory.Client, opts Options, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.BatchesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.BatchesPerSecond), 1)
	}
	return &Applier{
		client:  client,
		opts:    opts,
		limiter: limiter,
		logger:  logger,
	}
}

type operation string

const (
	opAdd    operation = "add"
	opRemove operation = "remove"
)

// Apply adds delta.ToAdd and then removes delta.ToRemove on groupID. Batches
// run one at a time. Per-member failures are recorded in the Result and
// never abort the run; an error is returned only for invalid input or when
// ctx ends, in which case the Result holds what was done so far.
func (a *Applier) Apply(ctx context.Context, delta diff.Delta, groupID string) (Result, error) {
	if groupID == "" {
		return Result{}, errors.New("destination group id is empty")
	}

	var result Result
	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
		if secs := result.Duration.Seconds(); secs > 0 {
			result.Throughput = float64(result.Processed()) / secs
		}
	}()

	for _, step := range []struct {
		op      operation
		members []directory.Object
	}{
		{opAdd, delta.ToAdd},
		{opRemove, delta.ToRemove},
	} {
		for _, batch := range partition(step.members, a.opts.BatchSize) {
			if err := a.limiter.Wait(ctx); err != nil {
				return result, fmt.Errorf("waiting to submit %s batch: %w", step.op, err)
			}
			if err := a.applyBatch(ctx, step.op, groupID, batch, &result); err != nil {
				return result, err
			}
			result.Batches++
		}
	}

	a.logger.Info("membership changes applied",
		zap.String("group", groupID),
		zap.Int("success", result.SuccessCount),
		zap.Int("not_found", len(result.NotFound)),
		zap.Int("already_in_desired_state", len(result.AlreadyInDesiredState)),
		zap.Int("failed", len(result.Failed)),
		zap.Int("batches", result.Batches))
	return result, nil
}

func (a *Applier) applyBatch(ctx context.Context, op operation, groupID string, batch []directory.Object, result *Result) error {
	started := time.Now()
	defer func() {
		metrics.BatchDuration.WithLabelValues(string(op)).Observe(time.Since(started).Seconds())
	}()

	pending := batch
	attempt := 0

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.opts.InitialBackoff
	bo.MaxInterval = a.opts.MaxBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
		outcomes, err := a.call(callCtx, op, groupID, pending)
		cancel()

		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				// The group itself is gone; nothing in this batch can succeed.
				for _, m := range pending {
					a.record(op, directory.MemberOutcome{Member: m, Outcome: directory.OutcomeNotFound}, result)
				}
				pending = nil
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, retryable(err)
		}

		var retry []directory.Object
		var lastErr error
		for _, outcome := range matchOutcomes(pending, outcomes) {
			if outcome.Outcome == directory.OutcomeTransient {
				retry = append(retry, outcome.Member)
				lastErr = outcome.Err
				continue
			}
			a.record(op, outcome, result)
		}
		pending = retry
		if len(pending) == 0 {
			return struct{}{}, nil
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("%d members without outcome", len(pending))
		}
		return struct{}{}, retryable(lastErr)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(a.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			a.logger.Warn("retrying membership batch",
				zap.String("op", string(op)),
				zap.String("group", groupID),
				zap.Int("attempt", attempt),
				zap.Int("pending", len(pending)),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)

	if len(pending) > 0 {
		for _, m := range pending {
			a.logger.Warn("membership change failed after retries",
				zap.String("op", string(op)),
				zap.String("group", groupID),
				zap.String("member", m.ID),
				zap.Int("attempts", attempt),
				zap.Error(err))
		}
		result.Failed = append(result.Failed, pending...)
		metrics.MemberOperations.WithLabelValues(string(op), "failed").Add(float64(len(pending)))
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s batch on %s interrupted: %w", op, groupID, ctxErr)
	}
	return nil
}

func (a *Applier) call(ctx context.Context, op operation, groupID string, members []directory.Object) ([]directory.MemberOutcome, error) {
	if op == opAdd {
		return a.client.AddMembers(ctx, groupID, members)
	}
	return a.client.RemoveMembers(ctx, groupID, members)
}

func (a *Applier) record(op operation, outcome directory.MemberOutcome, result *Result) {
	switch outcome.Outcome {
	case directory.OutcomeSuccess:
		result.SuccessCount++
	case directory.OutcomeNotFound:
		result.NotFound = append(result.NotFound, outcome.Member)
	case directory.OutcomeAlreadyInDesiredState:
		result.AlreadyInDesiredState = append(result.AlreadyInDesiredState, outcome.Member)
	}
	metrics.MemberOperations.WithLabelValues(string(op), outcome.Outcome.String()).Inc()
}

// retryable converts a server-provided delay into the backoff library's
// retry-after signal; other errors use the exponential schedule.
func retryable(err error) error {
	if d, ok := directory.RetryAfter(err); ok {
		return &backoff.RetryAfterError{Duration: d}
	}
	return err
}

// matchOutcomes pairs each requested member with its reported outcome.
// Members the client did not report on are treated as transient.
func matchOutcomes(requested []directory.Object, outcomes []directory.MemberOutcome) []directory.MemberOutcome {
	byID := make(map[string]directory.MemberOutcome, len(outcomes))
	for _, o := range outcomes {
		byID[o.Member.ID] = o
	}
	out := make([]directory.MemberOutcome, 0, len(requested))
	for _, m := range requested {
		o, ok := byID[m.ID]
		if !ok {
			o = directory.MemberOutcome{Member: m, Outcome: directory.OutcomeTransient}
		}
		o.Member = m
		out = append(out, o)
	}
	return out
}

func partition(members []directory.Object, size int) [][]directory.Object {
	var batches [][]directory.Object
	for lo := 0; lo < len(members); lo += size {
		batches = append(batches, members[lo:min(lo+size, len(members))])
	}
	return batches
}
