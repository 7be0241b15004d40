package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	return configPath
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultSourceDir, cfg.SourceDir)
	assert.Equal(t, ManifestDriverFile, cfg.Manifest.Driver)

	assert.Equal(t, BackendSpaces, cfg.Backends.Spaces.Name)
	assert.Equal(t, "us-east-1", cfg.Backends.Spaces.Region)
	assert.Equal(t, ACLPublicRead, cfg.Backends.Spaces.ACL)
	assert.Equal(t, ".spaces-cache.json", cfg.Backends.Spaces.ManifestFile)
	assert.Equal(t, ".spaces-cache.json.lock", cfg.Backends.Spaces.LockFile)
	assert.True(t, cfg.Backends.Spaces.PublicRead())

	assert.Equal(t, BackendR2, cfg.Backends.R2.Name)
	assert.Equal(t, "auto", cfg.Backends.R2.Region)
	assert.Empty(t, cfg.Backends.R2.ACL)
	assert.Equal(t, ".r2-cache.json", cfg.Backends.R2.ManifestFile)
	assert.False(t, cfg.Backends.R2.PublicRead())

	require.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	configPath := writeConfig(t, `
log_level: debug
source_dir: ./site
ignore:
  - "*.map"
  - drafts/
upload:
  max_per_second: 2.5
manifest:
  driver: sqlite
  sqlite:
    path: /tmp/manifest.db
backends:
  r2:
    bucket: assets
    endpoint_url: https://account.r2.cloudflarestorage.com
    manifest_file: state/r2.json
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "./site", cfg.SourceDir)
	assert.Equal(t, []string{"*.map", "drafts/"}, cfg.Ignore)
	assert.InDelta(t, 2.5, cfg.Upload.MaxPerSecond, 0.0001)
	assert.Equal(t, ManifestDriverSQLite, cfg.Manifest.Driver)
	assert.Equal(t, "/tmp/manifest.db", cfg.Manifest.SQLite.Path)
	assert.Equal(t, "assets", cfg.Backends.R2.Bucket)
	assert.Equal(t, "https://account.r2.cloudflarestorage.com", cfg.Backends.R2.EndpointURL)
	assert.Equal(t, "state/r2.json", cfg.Backends.R2.ManifestFile)
	assert.Equal(t, "state/r2.json.lock", cfg.Backends.R2.LockFile)

	// Untouched keys keep their defaults.
	assert.Equal(t, "auto", cfg.Backends.R2.Region)
	assert.Equal(t, "us-east-1", cfg.Backends.Spaces.Region)
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	configPath := writeConfig(t, `
log_level: info
source_dir: ./original
backends:
  spaces:
    bucket: from-file
`)

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.LogLevel)
				assert.Equal(t, "./original", cfg.SourceDir)
				assert.Equal(t, "from-file", cfg.Backends.Spaces.Bucket)
			},
		},
		{
			name: "string override - log_level",
			envVars: map[string]string{
				"PUBLISHOOR_LOG_LEVEL": "debug",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.LogLevel)
			},
		},
		{
			name: "nested override - manifest.driver",
			envVars: map[string]string{
				"PUBLISHOOR_MANIFEST_DRIVER": "postgres",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ManifestDriverPostgres, cfg.Manifest.Driver)
			},
		},
		{
			name: "slice override - ignore",
			envVars: map[string]string{
				"PUBLISHOOR_IGNORE": "*.tmp,drafts/",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"*.tmp", "drafts/"}, cfg.Ignore)
			},
		},
		{
			name: "boolean override - force_path_style",
			envVars: map[string]string{
				"PUBLISHOOR_BACKENDS_R2_FORCE_PATH_STYLE": "true",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Backends.R2.ForcePathStyle)
			},
		},
		{
			name: "legacy spaces variables",
			envVars: map[string]string{
				"DO_SPACES_KEY":      "spaces-key",
				"DO_SPACES_SECRET":   "spaces-secret",
				"DO_SPACES_ENDPOINT": "https://fra1.digitaloceanspaces.com",
				"DO_SPACES_BUCKET":   "spaces-bucket",
			},
			validate: func(t *testing.T, cfg *Config) {
				b := cfg.Backends.Spaces
				assert.Equal(t, "spaces-key", b.AccessKeyID)
				assert.Equal(t, "spaces-secret", b.SecretAccessKey)
				assert.Equal(t, "https://fra1.digitaloceanspaces.com", b.EndpointURL)
				assert.Equal(t, "spaces-bucket", b.Bucket)
			},
		},
		{
			name: "legacy r2 variables",
			envVars: map[string]string{
				"R2_ACCESS_KEY_ID":     "r2-key",
				"R2_SECRET_ACCESS_KEY": "r2-secret",
				"R2_ENDPOINT_URL":      "https://acct.r2.cloudflarestorage.com",
				"R2_BUCKET_NAME":       "r2-bucket",
			},
			validate: func(t *testing.T, cfg *Config) {
				b := cfg.Backends.R2
				assert.Equal(t, "r2-key", b.AccessKeyID)
				assert.Equal(t, "r2-secret", b.SecretAccessKey)
				assert.Equal(t, "https://acct.r2.cloudflarestorage.com", b.EndpointURL)
				assert.Equal(t, "r2-bucket", b.Bucket)
			},
		},
		{
			name: "prefixed variable wins over legacy name",
			envVars: map[string]string{
				"DO_SPACES_BUCKET":                  "legacy",
				"PUBLISHOOR_BACKENDS_SPACES_BUCKET": "prefixed",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "prefixed", cfg.Backends.Spaces.Bucket)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load(configPath)
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: yaml: content:"))
	require.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	t.Run("missing file is ignored", func(t *testing.T) {
		require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), ".env")))
	})

	t.Run("empty path is ignored", func(t *testing.T) {
		require.NoError(t, LoadEnvFile(""))
	})

	t.Run("variables feed legacy bindings", func(t *testing.T) {
		envPath := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(envPath,
			[]byte("R2_BUCKET_NAME=from-dotenv\n"), 0o644))

		// Register cleanup for the variable godotenv is about to set.
		t.Setenv("R2_BUCKET_NAME", "")
		require.NoError(t, os.Unsetenv("R2_BUCKET_NAME"))

		require.NoError(t, LoadEnvFile(envPath))

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "from-dotenv", cfg.Backends.R2.Bucket)
	})

	t.Run("existing variables are not overridden", func(t *testing.T) {
		envPath := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(envPath,
			[]byte("DO_SPACES_BUCKET=from-dotenv\n"), 0o644))

		t.Setenv("DO_SPACES_BUCKET", "from-shell")

		require.NoError(t, LoadEnvFile(envPath))
		assert.Equal(t, "from-shell", os.Getenv("DO_SPACES_BUCKET"))
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		errSubstr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(cfg *Config) {},
		},
		{
			name:      "bad log level",
			mutate:    func(cfg *Config) { cfg.LogLevel = "loud" },
			errSubstr: "invalid log_level",
		},
		{
			name:      "unknown manifest driver",
			mutate:    func(cfg *Config) { cfg.Manifest.Driver = "redis" },
			errSubstr: "unsupported manifest driver",
		},
		{
			name: "sqlite without path",
			mutate: func(cfg *Config) {
				cfg.Manifest.Driver = ManifestDriverSQLite
				cfg.Manifest.SQLite.Path = ""
			},
			errSubstr: "manifest.sqlite.path",
		},
		{
			name:      "bad owner",
			mutate:    func(cfg *Config) { cfg.Manifest.Owner = "root" },
			errSubstr: "manifest.owner",
		},
		{
			name:      "negative throttle",
			mutate:    func(cfg *Config) { cfg.Upload.MaxPerSecond = -1 },
			errSubstr: "max_per_second",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)

			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.errSubstr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestConfig_Backend(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	b, err := cfg.Backend(BackendSpaces)
	require.NoError(t, err)
	assert.Equal(t, BackendSpaces, b.Name)

	b, err = cfg.Backend(BackendR2)
	require.NoError(t, err)
	assert.Equal(t, BackendR2, b.Name)

	_, err = cfg.Backend("s3")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownBackend))

	assert.Equal(t, []string{"r2", "spaces"}, BackendNames())
}
