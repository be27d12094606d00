package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/hyperengineering/dashsync/internal/config"
	"github.com/hyperengineering/dashsync/internal/remote"
	"github.com/hyperengineering/dashsync/internal/snapshot"
	"github.com/hyperengineering/dashsync/internal/store"
	dashsync "github.com/hyperengineering/dashsync/internal/sync"
	"github.com/hyperengineering/dashsync/internal/worker"
)

// app holds the components shared by the serve and sync commands.
type app struct {
	cfg      *config.Config
	store    store.Store
	remote   *remote.Client
	syncer   *dashsync.Syncer
	uploader snapshot.Uploader
}

// newApp opens the store and wires the remote client into a syncer.
func newApp(cfg *config.Config) (*app, error) {
	loc, err := cfg.Remote.Location()
	if err != nil {
		return nil, err
	}

	uploader, err := snapshot.NewUploader(cfg.Snapshot)
	if err != nil {
		return nil, err
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	client := remote.NewClient(remote.Config{
		BaseURL:  cfg.Remote.BaseURL,
		Username: cfg.Remote.Username,
		Password: cfg.Remote.Password,
		Timeout:  time.Duration(cfg.Remote.Timeout),
		Location: loc,
	})

	syncer := dashsync.NewSyncer(client, db, dashsync.Options{
		ProtectPending: cfg.Sync.ProtectPending,
		Location:       loc,
		Recorder:       db,
	})

	return &app{
		cfg:      cfg,
		store:    db,
		remote:   client,
		syncer:   syncer,
		uploader: uploader,
	}, nil
}

// snapshotPath is the local snapshot file, or "" when snapshots are off.
func (a *app) snapshotPath() string {
	if a.cfg.Snapshot.Dir == "" {
		return ""
	}
	return filepath.Join(a.cfg.Snapshot.Dir, "current.db")
}

// coordinator builds the sync worker, publishing snapshots when a snapshot
// directory is configured.
func (a *app) coordinator() (*worker.SyncCoordinator, error) {
	schedule, err := worker.ParseSchedule(a.cfg.Sync.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse sync schedule: %w", err)
	}

	var publisher worker.Publisher
	if a.cfg.Snapshot.Dir != "" {
		publisher = worker.NewSnapshotPublisher(a.store, a.cfg.Snapshot.Dir, a.uploader)
	}
	return worker.NewSyncCoordinator(a.syncer, schedule, a.cfg.Sync.RunOnStart, publisher), nil
}

// checkRemote logs whether the server answers with the configured
// credentials. An unreachable server does not stop the service.
func (a *app) checkRemote(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(a.cfg.Remote.Timeout))
	defer cancel()
	if err := a.remote.Ping(ctx); err != nil {
		slog.Warn("remote server unreachable",
			"component", "remote",
			"url", a.cfg.Remote.BaseURL,
			"error", err,
		)
		return
	}
	slog.Info("remote server reachable", "component", "remote", "url", a.cfg.Remote.BaseURL)
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}
}
