package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Verify that a backend is reachable and writable",
	Long: `Write and remove a small test object in the backend's bucket using the
configured endpoint and credentials.`,
}

func init() {
	rootCmd.AddCommand(preflightCmd)
	preflightCmd.AddCommand(backendCommands("Check write access to %s", runPreflight)...)
}

func runPreflight(cmd *cobra.Command, backendName string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	backend, err := cfg.Backend(backendName)
	if err != nil {
		return err
	}

	uploader := newUploader(log, backend, &cfg.Upload)

	log.WithFields(logrus.Fields{
		"backend":     backend.Name,
		"bucket":      backend.Bucket,
		"public_read": backend.PublicRead(),
	}).Info("Running preflight")

	if err := uploader.Preflight(cmd.Context()); err != nil {
		return fmt.Errorf("preflight %s: %w", backend.Name, err)
	}

	return nil
}
