// Package manifest persists the mapping from relative file key to content
// digest that drives change detection between runs.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ethpandaops/publishoor/pkg/config"
	"github.com/ethpandaops/publishoor/pkg/fsutil"
	"github.com/ethpandaops/publishoor/pkg/hasher"
	"github.com/sirupsen/logrus"
)

// ErrCorrupt is returned by Load when persisted state exists but cannot be
// parsed. Callers must not treat it as an empty manifest.
var ErrCorrupt = errors.New("manifest is corrupt")

// Manifest maps a forward-slash relative key to the hex digest of the file
// content last published under that key.
type Manifest map[string]string

// Keys returns the manifest keys in sorted order.
func (m Manifest) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// validate checks that every entry has a key and a well-formed digest.
func (m Manifest) validate() error {
	for k, v := range m {
		if k == "" {
			return fmt.Errorf("%w: empty key", ErrCorrupt)
		}

		if !hasher.Valid(v) {
			return fmt.Errorf("%w: invalid digest %q for %q", ErrCorrupt, v, k)
		}
	}

	return nil
}

// Store loads and saves a manifest.
type Store interface {
	// Start opens any underlying connection.
	Start(ctx context.Context) error
	// Stop releases resources acquired by Start.
	Stop() error

	// Load returns the persisted manifest, or an empty one when nothing has
	// been persisted yet. Unparsable state yields an error wrapping
	// ErrCorrupt.
	Load(ctx context.Context) (Manifest, error)

	// Save replaces the persisted manifest with m in full. A concurrent
	// reader observes either the previous or the new manifest.
	Save(ctx context.Context, m Manifest) error

	// Reset discards the persisted manifest.
	Reset(ctx context.Context) error
}

// NewStore creates the Store selected by cfg.Driver for the given backend.
// Each backend keeps independent state.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.ManifestConfig,
	backend *config.BackendConfig,
) (Store, error) {
	switch cfg.Driver {
	case "", config.ManifestDriverFile:
		owner, err := fsutil.ParseOwner(cfg.Owner)
		if err != nil {
			return nil, fmt.Errorf("parsing manifest owner: %w", err)
		}

		return NewFileStore(log, backend.ManifestFile, owner), nil
	case config.ManifestDriverSQLite, config.ManifestDriverPostgres:
		return NewSQLStore(log, cfg, backend.Name), nil
	default:
		return nil, fmt.Errorf("unsupported manifest driver: %s", cfg.Driver)
	}
}
