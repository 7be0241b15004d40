package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethpandaops/publishoor/pkg/fsutil"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides. Nested keys
	// are joined with underscores, e.g. PUBLISHOOR_MANIFEST_DRIVER.
	EnvPrefix = "PUBLISHOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultSourceDir is the directory published when none is configured.
	DefaultSourceDir = "./public"

	// DefaultEnvFile is the dotenv file loaded before the configuration.
	DefaultEnvFile = ".env"

	// BackendSpaces is the DigitalOcean Spaces flavor. Objects are public.
	BackendSpaces = "spaces"

	// BackendR2 is the Cloudflare R2 flavor. Objects are private.
	BackendR2 = "r2"

	// ACLPublicRead is the canned ACL applied by public-read backends.
	ACLPublicRead = "public-read"

	// Manifest drivers.
	ManifestDriverFile     = "file"
	ManifestDriverSQLite   = "sqlite"
	ManifestDriverPostgres = "postgres"
)

// ErrUnknownBackend is returned when a backend flavor is not configured.
var ErrUnknownBackend = errors.New("unknown backend")

// Config is the root configuration for publishoor.
type Config struct {
	LogLevel  string         `yaml:"log_level" mapstructure:"log_level"`
	SourceDir string         `yaml:"source_dir" mapstructure:"source_dir"`
	Ignore    []string       `yaml:"ignore,omitempty" mapstructure:"ignore"`
	Upload    UploadConfig   `yaml:"upload" mapstructure:"upload"`
	Manifest  ManifestConfig `yaml:"manifest" mapstructure:"manifest"`
	Backends  BackendsConfig `yaml:"backends" mapstructure:"backends"`
}

// UploadConfig contains settings applied to every upload.
type UploadConfig struct {
	// MaxPerSecond throttles upload calls. Zero disables throttling.
	MaxPerSecond float64 `yaml:"max_per_second,omitempty" mapstructure:"max_per_second"`
	// PartSizeMB is the multipart part size for large files.
	PartSizeMB int64 `yaml:"part_size_mb,omitempty" mapstructure:"part_size_mb"`
}

// ManifestConfig selects where the change-detection manifest is kept.
type ManifestConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	Owner    string               `yaml:"owner,omitempty" mapstructure:"owner"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// BackendsConfig holds one entry per supported backend flavor.
type BackendsConfig struct {
	Spaces BackendConfig `yaml:"spaces" mapstructure:"spaces"`
	R2     BackendConfig `yaml:"r2" mapstructure:"r2"`
}

// BackendConfig contains the settings needed to build an S3-compatible
// client for one flavor.
type BackendConfig struct {
	Name            string `yaml:"-" mapstructure:"-"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	ManifestFile    string `yaml:"manifest_file,omitempty" mapstructure:"manifest_file"`
	LockFile        string `yaml:"lock_file,omitempty" mapstructure:"lock_file"`
}

// defaults lists every configuration key. Keys must be registered with viper
// for environment overrides to apply.
var defaults = map[string]any{
	"log_level":                         DefaultLogLevel,
	"source_dir":                        DefaultSourceDir,
	"ignore":                            []string{},
	"upload.max_per_second":             0.0,
	"upload.part_size_mb":               int64(0),
	"manifest.driver":                   ManifestDriverFile,
	"manifest.owner":                    "",
	"manifest.sqlite.path":              ".publishoor.db",
	"manifest.postgres.host":            "localhost",
	"manifest.postgres.port":            5432,
	"manifest.postgres.user":            "",
	"manifest.postgres.password":        "",
	"manifest.postgres.database":        "publishoor",
	"manifest.postgres.ssl_mode":        "disable",
	"backends.spaces.endpoint_url":      "",
	"backends.spaces.region":            "us-east-1",
	"backends.spaces.bucket":            "",
	"backends.spaces.access_key_id":     "",
	"backends.spaces.secret_access_key": "",
	"backends.spaces.acl":               ACLPublicRead,
	"backends.spaces.force_path_style":  false,
	"backends.spaces.manifest_file":     ".spaces-cache.json",
	"backends.spaces.lock_file":         "",
	"backends.r2.endpoint_url":          "",
	"backends.r2.region":                "auto",
	"backends.r2.bucket":                "",
	"backends.r2.access_key_id":         "",
	"backends.r2.secret_access_key":     "",
	"backends.r2.acl":                   "",
	"backends.r2.force_path_style":      false,
	"backends.r2.manifest_file":         ".r2-cache.json",
	"backends.r2.lock_file":             "",
}

// legacyEnv maps configuration keys to the unprefixed environment variable
// names accepted for compatibility with existing deployments.
var legacyEnv = map[string]string{
	"backends.spaces.access_key_id":     "DO_SPACES_KEY",
	"backends.spaces.secret_access_key": "DO_SPACES_SECRET",
	"backends.spaces.endpoint_url":      "DO_SPACES_ENDPOINT",
	"backends.spaces.bucket":            "DO_SPACES_BUCKET",
	"backends.r2.access_key_id":         "R2_ACCESS_KEY_ID",
	"backends.r2.secret_access_key":     "R2_SECRET_ACCESS_KEY",
	"backends.r2.endpoint_url":          "R2_ENDPOINT_URL",
	"backends.r2.bucket":                "R2_BUCKET_NAME",
}

// LoadEnvFile loads variables from a dotenv file into the process
// environment. Variables already set are not overridden. A missing file is
// not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}

	return nil
}

// Load builds the configuration from defaults, the optional config file at
// path and environment variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills values that depend on other settings.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.SourceDir == "" {
		c.SourceDir = DefaultSourceDir
	}

	if c.Manifest.Driver == "" {
		c.Manifest.Driver = ManifestDriverFile
	}

	c.Backends.Spaces.Name = BackendSpaces
	c.Backends.R2.Name = BackendR2

	for _, b := range []*BackendConfig{&c.Backends.Spaces, &c.Backends.R2} {
		if b.ManifestFile == "" {
			b.ManifestFile = "." + b.Name + "-cache.json"
		}

		if b.LockFile == "" {
			b.LockFile = b.ManifestFile + ".lock"
		}
	}
}

// Validate checks the configuration for structural errors. Credentials are
// not checked here; a bad credential surfaces on first use of the backend.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}

	if c.SourceDir == "" {
		return fmt.Errorf("source_dir is required")
	}

	switch c.Manifest.Driver {
	case ManifestDriverFile:
	case ManifestDriverSQLite:
		if c.Manifest.SQLite.Path == "" {
			return fmt.Errorf("manifest.sqlite.path is required for the sqlite driver")
		}
	case ManifestDriverPostgres:
		if c.Manifest.Postgres.Host == "" || c.Manifest.Postgres.Database == "" {
			return fmt.Errorf("manifest.postgres host and database are required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported manifest driver %q", c.Manifest.Driver)
	}

	if _, err := fsutil.ParseOwner(c.Manifest.Owner); err != nil {
		return fmt.Errorf("parsing manifest.owner: %w", err)
	}

	if c.Upload.MaxPerSecond < 0 {
		return fmt.Errorf("upload.max_per_second must not be negative")
	}

	if c.Upload.PartSizeMB < 0 {
		return fmt.Errorf("upload.part_size_mb must not be negative")
	}

	return nil
}

// Backend returns the configuration of the named backend flavor.
func (c *Config) Backend(name string) (*BackendConfig, error) {
	switch name {
	case BackendSpaces:
		return &c.Backends.Spaces, nil
	case BackendR2:
		return &c.Backends.R2, nil
	default:
		return nil, fmt.Errorf("%w %q (valid: %s)",
			ErrUnknownBackend, name, strings.Join(BackendNames(), ", "))
	}
}

// BackendNames returns the supported backend flavors in sorted order.
func BackendNames() []string {
	names := []string{BackendSpaces, BackendR2}
	sort.Strings(names)

	return names
}

// PublicRead reports whether uploads to this backend are made public.
func (b *BackendConfig) PublicRead() bool {
	return b.ACL == ACLPublicRead
}
