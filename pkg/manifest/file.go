package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethpandaops/publishoor/pkg/fsutil"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// Compile-time interface check.
var _ Store = (*fileStore)(nil)

// fileStore keeps the manifest as a JSON object in a single file.
type fileStore struct {
	log   logrus.FieldLogger
	path  string
	owner *fsutil.OwnerConfig
}

// NewFileStore creates a Store backed by the JSON file at path. Owner may be
// nil.
func NewFileStore(
	log logrus.FieldLogger, path string, owner *fsutil.OwnerConfig,
) Store {
	return &fileStore{
		log:   log.WithField("component", "manifest-file"),
		path:  path,
		owner: owner,
	}
}

func (s *fileStore) Start(_ context.Context) error {
	return nil
}

func (s *fileStore) Stop() error {
	return nil
}

// Load reads the manifest file. A missing file yields an empty manifest.
func (s *fileStore) Load(ctx context.Context) (Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.WithField("path", s.path).Debug("No manifest found, starting empty")

			return Manifest{}, nil
		}

		return nil, fmt.Errorf("reading manifest %s: %w", s.path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrCorrupt, s.path)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrCorrupt, s.path, err)
	}

	// A literal "null" decodes without error.
	if m == nil {
		return nil, fmt.Errorf("%w: %s is not an object", ErrCorrupt, s.path)
	}

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("loading %s: %w", s.path, err)
	}

	s.log.WithFields(logrus.Fields{
		"path":    s.path,
		"entries": len(m),
	}).Debug("Loaded manifest")

	return m, nil
}

// Save writes m atomically, replacing any previous manifest.
func (s *fileStore) Save(ctx context.Context, m Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if m == nil {
		m = Manifest{}
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	data = append(data, '\n')

	if dir := filepath.Dir(s.path); dir != "." {
		if err := fsutil.MkdirAll(dir, 0o755, s.owner); err != nil {
			return fmt.Errorf("creating manifest directory: %w", err)
		}
	}

	if err := fsutil.WriteFileAtomic(s.path, data, 0o644, s.owner); err != nil {
		return fmt.Errorf("writing manifest %s: %w", s.path, err)
	}

	s.log.WithFields(logrus.Fields{
		"path":    s.path,
		"entries": len(m),
	}).Debug("Saved manifest")

	return nil
}

// Reset removes the manifest file.
func (s *fileStore) Reset(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing manifest %s: %w", s.path, err)
	}

	return nil
}
