package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/publishoor/pkg/config"
	"github.com/ethpandaops/publishoor/pkg/manifest"
	"github.com/ethpandaops/publishoor/pkg/syncer"
	"github.com/ethpandaops/publishoor/pkg/upload"
	"github.com/ethpandaops/publishoor/pkg/walker"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	dryRun    bool
	sourceDir string
)

// newUploader is replaced in tests.
var newUploader = upload.NewS3Uploader

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload changed files to a backend",
	Long: `Walk the source directory and upload every new or changed file to the
selected backend, then record the uploaded digests in the backend's manifest.`,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false,
		"Show what would be uploaded without uploading or saving the manifest")
	syncCmd.PersistentFlags().StringVar(&sourceDir, "source", "",
		"Directory to publish (default from config, "+config.DefaultSourceDir+")")

	syncCmd.AddCommand(backendCommands("Sync the source directory to %s", runSync)...)
}

func runSync(cmd *cobra.Command, backendName string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if sourceDir != "" {
		cfg.SourceDir = sourceDir
	}

	backend, err := cfg.Backend(backendName)
	if err != nil {
		return err
	}

	// Setup context with signal handling.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	_, err = syncBackend(ctx, cfg, backend, dryRun)

	return err
}

// syncBackend runs one sync pass against backend while holding its run lock.
func syncBackend(
	ctx context.Context,
	cfg *config.Config,
	backend *config.BackendConfig,
	dryRun bool,
) (*syncer.Result, error) {
	lock := manifest.NewLock(backend.LockFile)
	if err := lock.TryLock(); err != nil {
		return nil, err
	}

	defer func() {
		if err := lock.Unlock(); err != nil {
			log.WithError(err).Warn("Failed to release lock")
		}
	}()

	uploader := newUploader(log, backend, &cfg.Upload)

	store, err := manifest.NewStore(log, &cfg.Manifest, backend)
	if err != nil {
		return nil, fmt.Errorf("creating manifest store: %w", err)
	}

	if err := store.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting manifest store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop manifest store")
		}
	}()

	w := walker.New(cfg.SourceDir, cfg.Ignore)

	log.WithFields(logrus.Fields{
		"backend":     backend.Name,
		"bucket":      backend.Bucket,
		"public_read": backend.PublicRead(),
		"source":      w.Root(),
		"ignore":      w.Patterns(),
		"lock":        lock.Path(),
	}).Info("Publishing")

	engine := syncer.NewEngine(log, &syncer.Config{
		Uploader: uploader,
		Store:    store,
		Walker:   w,
		DryRun:   dryRun,
	})

	result, err := engine.Sync(ctx)
	if err != nil {
		if result != nil && len(result.Failed) > 0 && !errors.Is(err, context.Canceled) {
			return result, fmt.Errorf("%d of %d files failed: %w",
				len(result.Failed),
				len(result.Failed)+len(result.Uploaded)+len(result.Skipped),
				err)
		}

		return result, fmt.Errorf("syncing %s: %w", backend.Name, err)
	}

	return result, nil
}
