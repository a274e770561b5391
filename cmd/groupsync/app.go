package main

import (
	"context"
	"fmt"

	"f0oster/groupsync/activedirectory"
	"f0oster/groupsync/applier"
	"f0oster/groupsync/config"
	"f0oster/groupsync/crawler"
	"f0oster/groupsync/database"
	"f0oster/groupsync/logging"
	"f0oster/groupsync/objectstore"
	"f0oster/groupsync/snapshot"
	"f0oster/groupsync/syncrun"
	"f0oster/groupsync/transfer"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app holds the process-wide dependencies shared by subcommands.
type app struct {
	cfg     config.GroupSyncConfiguration
	logger  *zap.Logger
	closers []func()
}

func newApp(cmd *cobra.Command) (*app, error) {
	envPath, _ := cmd.Flags().GetString("env")
	cfg, err := config.LoadEnvConfig(envPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.Init(logging.ConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("failed to initialise logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	a.onClose(func() { _ = logger.Sync() })
	return a, nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close runs cleanups in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) openDirectory() (*activedirectory.ActiveDirectoryInstance, error) {
	ad := activedirectory.NewActiveDirectoryInstance(a.cfg.BaseDN, a.cfg.DcFQDN, a.cfg.PageSize, a.cfg.LDAPTimeout, a.logger.Named("ldap"))
	if err := ad.Connect(a.cfg.Username, a.cfg.Password); err != nil {
		return nil, err
	}
	a.onClose(func() { _ = ad.Close() })
	return ad, nil
}

func (a *app) openDatabase(ctx context.Context) (*database.Database, error) {
	db := database.NewDatabase(a.cfg.DSN, a.logger.Named("database"))
	if err := db.Connect(ctx); err != nil {
		return nil, err
	}
	a.onClose(db.Close)
	return db, nil
}

// openStore returns the snapshot store selected by SNAPSHOT_STORE.
func (a *app) openStore(ctx context.Context) (snapshot.Store, error) {
	switch a.cfg.SnapshotStore {
	case "postgres":
		db, err := a.openDatabase(ctx)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return database.NewSnapshotStore(db), nil
	case "gcs":
		client, err := objectstore.NewClient(ctx, a.cfg.GCSBucket, a.cfg.GCSCredentials, a.logger.Named("gcs"))
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = client.Close() })
		return client, nil
	default:
		return snapshot.NewMemoryStore(), nil
	}
}

func (a *app) serviceOptions() syncrun.Options {
	return syncrun.Options{
		Crawler: crawler.Options{
			Parallelism: a.cfg.CrawlParallelism,
			CallTimeout: a.cfg.LDAPTimeout,
		},
		Applier: applier.Options{
			BatchSize:        a.cfg.ApplyBatchSize,
			MaxAttempts:      a.cfg.ApplyMaxAttempts,
			BatchesPerSecond: a.cfg.ApplyRatePerSec,
			CallTimeout:      a.cfg.LDAPTimeout,
		},
		ChunkSize:       a.cfg.ChunkSize,
		TransferWorkers: a.cfg.TransferWorkers,
		CallTimeout:     a.cfg.LDAPTimeout,
	}
}

// newService connects every dependency and builds the sync service.
func (a *app) newService(ctx context.Context) (*syncrun.Service, error) {
	ad, err := a.openDirectory()
	if err != nil {
		return nil, err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	transport := transfer.NewMemoryTransport(a.cfg.TransferWorkers * 4)
	a.onClose(transport.Close)

	notifier := syncrun.LogNotifier{Logger: a.logger.Named("notifier")}
	return syncrun.NewService(ad, store, transport, notifier, a.serviceOptions(), a.logger.Named("syncrun")), nil
}
