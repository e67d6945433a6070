package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/tenantmove/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenantmove.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadFromPath(writeConfig(t, "logging:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Worker.PollInterval)
	assert.Equal(t, 1000, cfg.Migration.PageSize)
	assert.Equal(t, 20, cfg.Migration.DiscoveryConcurrency)
	assert.Equal(t, 5, cfg.Migration.CopyAttempts)
	assert.Equal(t, "lz4", cfg.Migration.Compression)
	assert.Equal(t, int64(-1), cfg.Migration.TrialQuotaID)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Worker.ArchiveDir)
}

func TestLoadRegions(t *testing.T) {
	cfg, err := config.LoadFromPath(writeConfig(t, `
regions:
  home:
    postgresql:
      dsn: postgres://app@db-home/portal
    blobs:
      endpoint: s3.home.example.com
      bucket: portal-home
  eu:
    postgresql:
      host: db-eu
      port: 5432
    blobs:
      endpoint: s3.eu.example.com
      bucket: portal-eu
      use_ssl: true
worker:
  poll_interval: 30s
`))
	require.NoError(t, err)

	home, ok := cfg.Region("")
	require.True(t, ok)
	assert.Equal(t, "portal-home", home.Blobs.Bucket)

	eu, ok := cfg.Region("EU")
	require.True(t, ok)
	assert.Equal(t, "db-eu", eu.PostgreSQL.Host)
	assert.True(t, eu.Blobs.UseSSL)

	_, ok = cfg.Region("us")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"", "eu"}, cfg.RegionIDs())
	assert.Equal(t, 30*time.Second, cfg.Worker.PollInterval)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TENANTMOVE_MIGRATION_PAGE_SIZE", "250")
	cfg, err := config.LoadFromPath(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Migration.PageSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad compression", "migration:\n  compression: brotli\n"},
		{"zero page size", "migration:\n  page_size: 0\n"},
		{"region without bucket", "regions:\n  eu:\n    postgresql:\n      host: db\n    blobs:\n      endpoint: s3\n"},
		{"alias bounds", "migration:\n  alias_min_length: 10\n  alias_max_length: 5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFromPath(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
