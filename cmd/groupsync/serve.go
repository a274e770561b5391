package main

import (
	"os"
	"os/signal"
	"syscall"

	"f0oster/groupsync/web"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync service with metrics, health and a run API",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (default METRICS_ADDR)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
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

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = a.cfg.MetricsAddr
	}
	server := web.NewServer(svc, addr, a.logger.Named("web"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Serve(gctx) })
	g.Go(func() error { return server.Start(gctx) })
	return g.Wait()
}
