// Package crawler expands nested group membership with a pool of concurrent
// workers, reporting users, groups and membership cycles to an Observer.
package crawler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"f0oster/groupsync/directory"
	"f0oster/groupsync/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultParallelism = 256
	DefaultCallTimeout = 30 * time.Second
)

// ErrEmptyRoot is returned when Crawl is called without a root group.
var ErrEmptyRoot = errors.New("crawl root group id is empty")

type Options struct {
	// Parallelism is the number of concurrent workers. Work is I/O bound, so
	// hundreds are reasonable.
	Parallelism int

	// CallTimeout bounds each GetChildren call.
	CallTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultParallelism
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	return o
}

// Stats summarises one crawl.
type Stats struct {
	GroupsVisited int64
	UsersFound    int64
	Cycles        int64
	Failures      int64
	// Dropped counts visits discarded by a graceful stop.
	Dropped int64
	Stopped bool
}

type Crawler struct {
	client   directory.Client
	observer Observer
	opts     Options
	logger   *zap.Logger
}

// New returns a Crawler reporting to observer. A nil observer discards
// events; Crawl still returns Stats.
func New(client directory.Client, observer Observer, opts Options, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Crawler{
		client:   client,
		observer: observer,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

type counters struct {
	groups, users, cycles, failures, dropped atomic.Int64
}

// Crawl explores every group reachable from rootID and returns once the
// worklist is empty and all workers are idle.
//
// Cancelling ctx stops the crawl gracefully: no new visits are queued, visits
// already in flight finish, and Crawl returns the partial Stats with
// ctx.Err(). A failed child fetch is logged, counted in Stats.Failures and
// skipped; it never aborts the crawl.
func (c *Crawler) Crawl(ctx context.Context, rootID string) (Stats, error) {
	if rootID == "" {
		return Stats{}, ErrEmptyRoot
	}
	if err := ctx.Err(); err != nil {
		return Stats{Stopped: true}, err
	}

	visited := &VisitedSet{}
	work := newWorklist()
	work.push(visit{group: rootID})

	var count counters

	finished := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			count.dropped.Add(int64(work.stop()))
		case <-finished:
		}
	}()

	g := new(errgroup.Group)
	for range c.opts.Parallelism {
		g.Go(func() error {
			for {
				v, ok := work.pop()
				if !ok {
					return nil
				}
				if ctx.Err() != nil {
					count.dropped.Add(1)
					work.done()
					continue
				}
				c.visit(ctx, v, visited, work, &count)
				work.done()
			}
		})
	}
	_ = g.Wait()
	close(finished)
	<-watcherDone

	stats := Stats{
		GroupsVisited: count.groups.Load(),
		UsersFound:    count.users.Load(),
		Cycles:        count.cycles.Load(),
		Failures:      count.failures.Load(),
		Dropped:       count.dropped.Load(),
	}
	if err := ctx.Err(); err != nil {
		stats.Stopped = true
		c.logger.Warn("crawl stopped before completion",
			zap.String("root", rootID),
			zap.Int64("groups_visited", stats.GroupsVisited),
			zap.Int64("dropped", stats.Dropped))
		return stats, err
	}

	c.logger.Info("crawl finished",
		zap.String("root", rootID),
		zap.Int64("groups_visited", stats.GroupsVisited),
		zap.Int64("users_found", stats.UsersFound),
		zap.Int64("cycles", stats.Cycles),
		zap.Int64("failures", stats.Failures))
	return stats, nil
}

func (c *Crawler) visit(ctx context.Context, v visit, visited *VisitedSet, work *worklist, count *counters) {
	if v.path.Contains(v.group) {
		cycle := CycleRecord{Group: v.group, Path: v.path.From(v.group)}
		count.cycles.Add(1)
		metrics.CyclesDetected.Inc()
		c.logger.Debug("membership cycle detected", zap.String("group", v.group), zap.Strings("path", cycle.Path))
		c.observer.OnCycle(cycle)
		return
	}

	if !visited.Add(v.group) {
		return
	}

	count.groups.Add(1)
	metrics.GroupsVisited.Inc()
	c.observer.OnGroup(v.group)

	// A stop does not cancel the call in flight; only the per-call timeout does.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CallTimeout)
	children, err := c.client.GetChildren(callCtx, v.group)
	cancel()
	if err != nil {
		count.failures.Add(1)
		metrics.FetchFailures.Inc()
		c.logger.Warn("failed to fetch group children, skipping",
			zap.String("group", v.group),
			zap.Int("depth", v.path.Len()),
			zap.Error(err))
		return
	}

	next := v.path.Push(v.group)
	stopping := ctx.Err() != nil
	for _, child := range children {
		switch child.Kind {
		case directory.KindGroup:
			if stopping || !work.push(visit{group: child.ID, path: next}) {
				count.dropped.Add(1)
			}
		default:
			count.users.Add(1)
			c.observer.OnUser(child, v.group)
		}
	}
}

// Stream runs Crawl in the background and delivers its events on the
// returned channel, which is closed when the crawl ends. The final Stats and
// error are sent on the second channel. Workers block until each event is
// received; once ctx is cancelled undelivered events are dropped, so a
// consumer may stop reading after cancelling.
func (c *Crawler) Stream(ctx context.Context, rootID string) (<-chan Event, <-chan Result) {
	events := make(chan Event)
	result := make(chan Result, 1)

	streaming := New(c.client, channelObserver{events: events, done: ctx.Done()}, c.opts, c.logger)
	go func() {
		stats, err := streaming.Crawl(ctx, rootID)
		close(events)
		result <- Result{Stats: stats, Err: err}
		close(result)
	}()
	return events, result
}

// Result is the terminal value of Stream.
type Result struct {
	Stats Stats
	Err   error
}
