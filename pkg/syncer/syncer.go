// Package syncer publishes a local directory tree to object storage,
// uploading only files whose content changed since the last recorded run.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/publishoor/pkg/hasher"
	"github.com/ethpandaops/publishoor/pkg/manifest"
	"github.com/ethpandaops/publishoor/pkg/upload"
	"github.com/ethpandaops/publishoor/pkg/walker"
	"github.com/sirupsen/logrus"
)

// Engine runs sync passes.
type Engine interface {
	// Sync performs one pass over the tree. Per-file failures do not stop
	// the pass; they are reported in Result.Failed and joined into the
	// returned error after the manifest has been saved.
	Sync(ctx context.Context) (*Result, error)
}

// Config for the engine.
type Config struct {
	Uploader upload.Uploader
	Store    manifest.Store
	Walker   *walker.Walker
	// DryRun decides and logs without uploading or saving the manifest.
	DryRun bool
}

// Result summarizes a sync pass.
type Result struct {
	Uploaded []string
	Skipped  []string
	Failed   map[string]error
	// Bytes is the total size of uploaded files.
	Bytes    int64
	Duration time.Duration
	// Recorded is the number of entries in the next manifest.
	Recorded int
	DryRun   bool
}

// FailedKeys returns the keys of failed files in sorted order.
func (r *Result) FailedKeys() []string {
	keys := make([]string, 0, len(r.Failed))
	for k := range r.Failed {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Err joins the per-file failures, or returns nil when there are none.
func (r *Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}

	errs := make([]error, 0, len(r.Failed))
	for _, k := range r.FailedKeys() {
		errs = append(errs, fmt.Errorf("%s: %w", k, r.Failed[k]))
	}

	return errors.Join(errs...)
}

// NewEngine creates a new sync engine.
func NewEngine(log logrus.FieldLogger, cfg *Config) Engine {
	return &engine{
		log: log.WithField("component", "syncer"),
		cfg: cfg,
	}
}

type engine struct {
	log logrus.FieldLogger
	cfg *Config
}

// Ensure interface compliance.
var _ Engine = (*engine)(nil)

// Sync walks the tree, uploads new and changed files and replaces the
// manifest with the digests of every file that is now up to date remotely.
func (e *engine) Sync(ctx context.Context) (*Result, error) {
	start := time.Now()

	result := &Result{
		Uploaded: make([]string, 0, 16),
		Skipped:  make([]string, 0, 16),
		Failed:   make(map[string]error),
		DryRun:   e.cfg.DryRun,
	}

	previous, err := e.cfg.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"root":    e.cfg.Walker.Root(),
		"tracked": len(previous),
		"dry_run": e.cfg.DryRun,
	}).Info("Starting sync")

	next := make(manifest.Manifest, len(previous))

	for entry, err := range e.cfg.Walker.Entries(ctx) {
		if err != nil {
			result.Duration = time.Since(start)

			return result, fmt.Errorf("walking source: %w", err)
		}

		e.process(ctx, entry, previous, next, result)
	}

	// An upload cancelled mid-file is recorded as failed; the partial
	// manifest must not replace the previous one.
	if err := ctx.Err(); err != nil {
		result.Duration = time.Since(start)

		return result, fmt.Errorf("sync interrupted: %w", err)
	}

	result.Recorded = len(next)

	if !e.cfg.DryRun {
		if err := e.cfg.Store.Save(ctx, next); err != nil {
			result.Duration = time.Since(start)

			return result, fmt.Errorf("saving manifest: %w", err)
		}
	}

	result.Duration = time.Since(start)

	e.log.WithFields(logrus.Fields{
		"uploaded": len(result.Uploaded),
		"skipped":  len(result.Skipped),
		"failed":   len(result.Failed),
		"bytes":    units.HumanSize(float64(result.Bytes)),
		"duration": result.Duration.Round(time.Millisecond),
		"dry_run":  e.cfg.DryRun,
	}).Info("Sync complete")

	return result, result.Err()
}

// process handles a single walked file. A key only enters next once its
// content is known to be present remotely.
func (e *engine) process(
	ctx context.Context,
	entry walker.Entry,
	previous, next manifest.Manifest,
	result *Result,
) {
	log := e.log.WithField("key", entry.Key)

	digest, err := hasher.File(entry.Path)
	if err != nil {
		log.WithError(err).Error("Failed to hash file")

		result.Failed[entry.Key] = fmt.Errorf("hashing: %w", err)

		return
	}

	if old, ok := previous[entry.Key]; ok && old == digest {
		log.Info("Skipping (no change)")

		next[entry.Key] = digest
		result.Skipped = append(result.Skipped, entry.Key)

		return
	}

	log.WithField("size", units.HumanSize(float64(entry.Size))).Info("Uploading")

	if e.cfg.DryRun {
		next[entry.Key] = digest
		result.Uploaded = append(result.Uploaded, entry.Key)
		result.Bytes += entry.Size

		return
	}

	if err := e.cfg.Uploader.Upload(ctx, entry.Path, entry.Key); err != nil {
		log.WithError(err).Error("Failed to upload file")

		result.Failed[entry.Key] = err

		return
	}

	next[entry.Key] = digest
	result.Uploaded = append(result.Uploaded, entry.Key)
	result.Bytes += entry.Size
}
