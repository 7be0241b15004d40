package main

import (
	"context"
	"fmt"
	"io"

	"github.com/ethpandaops/publishoor/pkg/config"
	"github.com/ethpandaops/publishoor/pkg/manifest"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Inspect or reset a backend's manifest",
}

var manifestShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the recorded digests as YAML",
}

var manifestResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the recorded digests so the next sync uploads everything",
}

func init() {
	rootCmd.AddCommand(manifestCmd)
	manifestCmd.AddCommand(manifestShowCmd, manifestResetCmd)

	manifestShowCmd.AddCommand(backendCommands("Show the %s manifest",
		func(cmd *cobra.Command, backend string) error {
			return withStore(cmd, backend, func(ctx context.Context, store manifest.Store) error {
				return showManifest(ctx, store, cmd.OutOrStdout())
			})
		})...)

	manifestResetCmd.AddCommand(backendCommands("Reset the %s manifest",
		func(cmd *cobra.Command, backend string) error {
			return withStore(cmd, backend, func(ctx context.Context, store manifest.Store) error {
				if err := store.Reset(ctx); err != nil {
					return fmt.Errorf("resetting manifest: %w", err)
				}

				log.WithField("backend", backend).Info("Manifest reset")

				return nil
			})
		})...)
}

// withStore loads the configuration and runs fn with the backend's started
// manifest store.
func withStore(
	cmd *cobra.Command,
	backendName string,
	fn func(ctx context.Context, store manifest.Store) error,
) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	backend, err := cfg.Backend(backendName)
	if err != nil {
		return err
	}

	return runWithStore(cmd.Context(), cfg, backend, fn)
}

func runWithStore(
	ctx context.Context,
	cfg *config.Config,
	backend *config.BackendConfig,
	fn func(ctx context.Context, store manifest.Store) error,
) error {
	lock := manifest.NewLock(backend.LockFile)
	if err := lock.TryLock(); err != nil {
		return err
	}

	defer func() {
		if err := lock.Unlock(); err != nil {
			log.WithError(err).Warn("Failed to release lock")
		}
	}()

	store, err := manifest.NewStore(log, &cfg.Manifest, backend)
	if err != nil {
		return fmt.Errorf("creating manifest store: %w", err)
	}

	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting manifest store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop manifest store")
		}
	}()

	return fn(ctx, store)
}

// showManifest writes the manifest to w as a YAML mapping sorted by key.
func showManifest(ctx context.Context, store manifest.Store, w io.Writer) error {
	m, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}

	log.WithFields(logrus.Fields{
		"entries": len(m),
	}).Debug("Loaded manifest")

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(map[string]string(m)); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	return enc.Close()
}
