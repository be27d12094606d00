package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/dashsync/internal/api"
	"github.com/hyperengineering/dashsync/internal/config"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "dashsync",
	Short:         "dashsync - dashboard replica sync service",
	Long:          "Keeps a local SQLite replica of a server's dashboards, items and their content in sync.",
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE:          run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (overrides DASHSYNC_CONFIG_PATH)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
}

// loadConfig loads configuration honouring the --config flag.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadWithPath(configPath)
	}
	return config.Load()
}

// run is the serve command: scheduled sync worker plus status API.
func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	// 3. Initialize logger
	slog.SetDefault(newLogger(cfg.Log, os.Stdout))
	slog.Info("configuration loaded",
		"remote", cfg.Remote.BaseURL,
		"schedule", cfg.Sync.Schedule,
		"level", cfg.Log.Level,
	)

	// 4. Store, remote client, syncer, worker
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)
	a.checkRemote(ctx)

	coordinator, err := a.coordinator()
	if err != nil {
		a.close()
		return err
	}

	// 5. Initialize HTTP router
	handler := api.NewHandler(a.store, coordinator, a.uploader, a.snapshotPath(), cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler)

	// 6. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 7. Workers
	var wg sync.WaitGroup
	startWorker(ctx, &wg, "sync-coordinator", coordinator.Run)

	// 8. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called.
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 9. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 10. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 10a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 10b. Wait for workers to complete
	wg.Wait()

	// 10c. Close store
	a.close()

	slog.Info("shutdown complete")
	return nil
}

// newLogger builds the process logger from log config.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
