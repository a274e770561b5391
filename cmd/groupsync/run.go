package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"f0oster/groupsync/syncrun"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Blocked or incomplete runs exit non-zero after printing their report.
var (
	errThresholdExceeded = errors.New("change threshold exceeded, no changes applied")
	errIncompleteSource  = errors.New("source discovery incomplete, removals withheld")
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one synchronisation job",
		Long: `Crawl the source groups, compute the membership delta against the
destination group and apply it unless a change threshold is exceeded.

Usage:
  groupsync run --source CN=Eng,DC=corp --destination CN=All-Eng,DC=corp
  groupsync run --source A --source B --destination C --dry-run
  groupsync run --source A --destination C --exclusionary --initial-sync`,
		RunE: runSync,
	}

	cmd.Flags().StringArray("source", nil, "Source group id (repeatable)")
	cmd.Flags().String("destination", "", "Destination group id")
	cmd.Flags().Bool("exclusionary", false, "Remove source members from the destination instead of adding them")
	cmd.Flags().Float64("add-threshold", 0, "Maximum additions as a percentage of destination size (default THRESHOLD_ADD_PCT)")
	cmd.Flags().Float64("remove-threshold", 0, "Maximum removals as a percentage of destination size (default THRESHOLD_REMOVE_PCT)")
	cmd.Flags().Bool("dry-run", false, "Compute and report the delta without applying it")
	cmd.Flags().Bool("initial-sync", false, "Skip the threshold gate for a first population")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("destination")

	return cmd
}

// jobFromFlags reads a job from cmd's flags, taking unset thresholds from
// the configuration.
func jobFromFlags(cmd *cobra.Command, defaultAdd, defaultRemove float64) syncrun.Job {
	sources, _ := cmd.Flags().GetStringArray("source")
	destination, _ := cmd.Flags().GetString("destination")
	exclusionary, _ := cmd.Flags().GetBool("exclusionary")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	initialSync, _ := cmd.Flags().GetBool("initial-sync")

	addPct, removePct := defaultAdd, defaultRemove
	if cmd.Flags().Changed("add-threshold") {
		addPct, _ = cmd.Flags().GetFloat64("add-threshold")
	}
	if cmd.Flags().Changed("remove-threshold") {
		removePct, _ = cmd.Flags().GetFloat64("remove-threshold")
	}

	return syncrun.Job{
		SourceGroupIDs:     sources,
		DestinationGroupID: destination,
		Exclusionary:       exclusionary,
		ThresholdAddPct:    addPct,
		ThresholdRemovePct: removePct,
		DryRun:             dryRun,
		InitialSync:        initialSync,
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := a.newService(ctx)
	if err != nil {
		return err
	}

	serveCtx, cancelServe := context.WithCancel(ctx)
	serveDone := make(chan error, 1)
	go func() { serveDone <- svc.Serve(serveCtx) }()
	defer func() {
		cancelServe()
		if err := <-serveDone; err != nil {
			a.logger.Warn("delivery workers stopped with error", zap.Error(err))
		}
	}()

	report, err := svc.Run(ctx, jobFromFlags(cmd, a.cfg.ThresholdAddPct, a.cfg.ThresholdRemovePct))
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	switch report.Status {
	case syncrun.StatusThresholdExceeded:
		return errThresholdExceeded
	case syncrun.StatusIncompleteSource:
		return errIncompleteSource
	}
	return nil
}
