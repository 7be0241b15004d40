package manifest

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/publishoor/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const saveBatchSize = 500

// Entry is one manifest row. Rows are scoped by backend so several backends
// can share a database.
type Entry struct {
	Backend   string `gorm:"primaryKey;size:64"`
	Key       string `gorm:"column:path;primaryKey;size:1024"`
	Digest    string `gorm:"size:64;not null"`
	UpdatedAt time.Time
}

// TableName overrides the gorm default.
func (Entry) TableName() string {
	return "manifest_entries"
}

// Compile-time interface check.
var _ Store = (*sqlStore)(nil)

type sqlStore struct {
	log     logrus.FieldLogger
	cfg     *config.ManifestConfig
	backend string
	db      *gorm.DB
}

// NewSQLStore creates a Store backed by the sqlite or postgres database
// described by cfg. Start must be called before use.
func NewSQLStore(
	log logrus.FieldLogger,
	cfg *config.ManifestConfig,
	backend string,
) Store {
	return &sqlStore{
		log: log.WithFields(logrus.Fields{
			"component": "manifest-sql",
			"backend":   backend,
		}),
		cfg:     cfg,
		backend: backend,
	}
}

// Start opens the database connection and runs migrations.
func (s *sqlStore) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case config.ManifestDriverSQLite:
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case config.ManifestDriverPostgres:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening manifest database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&Entry{}); err != nil {
		return fmt.Errorf("running manifest migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Debug("Manifest database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *sqlStore) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// Load returns all entries recorded for the backend.
func (s *sqlStore) Load(ctx context.Context) (Manifest, error) {
	var entries []Entry
	if err := s.db.WithContext(ctx).
		Where("backend = ?", s.backend).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing manifest entries: %w", err)
	}

	m := make(Manifest, len(entries))
	for _, e := range entries {
		m[e.Key] = e.Digest
	}

	if err := m.validate(); err != nil {
		return nil, err
	}

	return m, nil
}

// Save replaces the backend's entries inside one transaction.
func (s *sqlStore) Save(ctx context.Context, m Manifest) error {
	now := time.Now().UTC()

	entries := make([]Entry, 0, len(m))
	for _, k := range m.Keys() {
		entries = append(entries, Entry{
			Backend:   s.backend,
			Key:       k,
			Digest:    m[k],
			UpdatedAt: now,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("backend = ?", s.backend).
			Delete(&Entry{}).Error; err != nil {
			return fmt.Errorf("clearing entries: %w", err)
		}

		if len(entries) == 0 {
			return nil
		}

		if err := tx.CreateInBatches(&entries, saveBatchSize).Error; err != nil {
			return fmt.Errorf("inserting entries: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("saving manifest: %w", err)
	}

	return nil
}

// Reset deletes all entries recorded for the backend.
func (s *sqlStore) Reset(ctx context.Context) error {
	if err := s.db.WithContext(ctx).
		Where("backend = ?", s.backend).
		Delete(&Entry{}).Error; err != nil {
		return fmt.Errorf("resetting manifest: %w", err)
	}

	return nil
}
