package syncrun

import (
	"context"
	"time"

	"f0oster/groupsync/applier"
	"f0oster/groupsync/crawler"
	"f0oster/groupsync/threshold"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Job describes one synchronization of a destination group.
type Job struct {
	// RunID is generated when zero.
	RunID              uuid.UUID
	SourceGroupIDs     []string
	DestinationGroupID string
	Exclusionary       bool
	ThresholdAddPct    float64
	ThresholdRemovePct float64
	// DryRun computes the delta and verdict without applying anything.
	DryRun bool
	// InitialSync skips the threshold gate for a destination's first run.
	InitialSync bool
}

type Status string

const (
	StatusCompleted         Status = "completed"
	StatusPartialFailure    Status = "partial_failure"
	StatusThresholdExceeded Status = "threshold_exceeded"
	StatusDryRun            Status = "dry_run"
	StatusNoChanges         Status = "no_changes"
	// StatusIncompleteSource marks a run whose discovery could not read
	// every source group. Additions are applied; removals are withheld.
	StatusIncompleteSource Status = "incomplete_source"
)

// DiscoveryStats sums the crawls of every source group.
type DiscoveryStats struct {
	GroupsVisited int64                 `json:"groups_visited"`
	UsersFound    int64                 `json:"users_found"`
	Failures      int64                 `json:"fetch_failures"`
	Cycles        []crawler.CycleRecord `json:"cycles,omitempty"`
}

func (d *DiscoveryStats) add(s crawler.Stats) {
	d.GroupsVisited += s.GroupsVisited
	d.UsersFound += s.UsersFound
	d.Failures += s.Failures
}

// Report is the user-visible outcome of a run.
type Report struct {
	RunID              uuid.UUID          `json:"run_id"`
	DestinationGroupID string             `json:"destination_group_id"`
	Status             Status             `json:"status"`
	Discovery          DiscoveryStats     `json:"discovery"`
	SourceMembers      int                `json:"source_members"`
	DestinationMembers int                `json:"destination_members"`
	ToAdd              int                `json:"to_add"`
	ToRemove           int                `json:"to_remove"`
	RemovalsWithheld   int                `json:"removals_withheld,omitempty"`
	Decision           threshold.Decision `json:"decision"`
	GateSkipped        bool               `json:"gate_skipped,omitempty"`
	Processed          int                `json:"processed"`
	Failed             int                `json:"failed"`
	Apply              *applier.Result    `json:"apply,omitempty"`
	Duration           time.Duration      `json:"duration"`
}

// Notifier is told when the threshold gate withholds a run.
type Notifier interface {
	ThresholdExceeded(ctx context.Context, job Job, report *Report) error
}

// LogNotifier reports threshold violations as structured warnings.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) ThresholdExceeded(ctx context.Context, job Job, report *Report) error {
	logger := n.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Warn("membership change withheld: threshold exceeded",
		zap.Stringer("run_id", report.RunID),
		zap.String("destination", job.DestinationGroupID),
		zap.Int("to_add", report.ToAdd),
		zap.Int("to_remove", report.ToRemove),
		zap.Float64("add_pct", report.Decision.AddPct),
		zap.Float64("remove_pct", report.Decision.RemovePct),
		zap.Float64("add_threshold", job.ThresholdAddPct),
		zap.Float64("remove_threshold", job.ThresholdRemovePct))
	return nil
}
