package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// HomeRegion is the configuration key of the default region, which code
// addresses with the empty region id.
const HomeRegion = "home"

// Config holds the tenantmove configuration.
type Config struct {
	Regions   map[string]RegionConfig `mapstructure:"regions"`
	Worker    WorkerConfig            `mapstructure:"worker"`
	Migration MigrationConfig         `mapstructure:"migration"`
	Queue     QueueConfig             `mapstructure:"queue"`
	Logging   LoggingConfig           `mapstructure:"logging"`
}

// RegionConfig holds the stores of one region.
type RegionConfig struct {
	PostgreSQL PostgreSQLConfig `mapstructure:"postgresql"`
	Blobs      BlobConfig       `mapstructure:"blobs"`
}

// PostgreSQLConfig holds PostgreSQL connection configuration. DSN, when set,
// takes precedence over the individual fields.
type PostgreSQLConfig struct {
	DSN             string `mapstructure:"dsn"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Database        string `mapstructure:"database"`
	User            string `mapstructure:"user"`
	PasswordCommand string `mapstructure:"password_command"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxConns        int32  `mapstructure:"max_conns"`
}

// BlobConfig holds S3-compatible object storage configuration.
type BlobConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Location  string `mapstructure:"location"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// WorkerConfig holds the migration worker settings.
type WorkerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	SourceRegion string        `mapstructure:"source_region"`
	ArchiveDir   string        `mapstructure:"archive_dir"`
	KeepArchives bool          `mapstructure:"keep_archives"`
	PIDFile      string        `mapstructure:"pid_file"`
}

// MigrationConfig holds extraction and restore settings.
type MigrationConfig struct {
	PageSize             int           `mapstructure:"page_size"`
	DiscoveryConcurrency int           `mapstructure:"discovery_concurrency"`
	CopyAttempts         int           `mapstructure:"copy_attempts"`
	QueryTimeout         time.Duration `mapstructure:"query_timeout"`
	Compression          string        `mapstructure:"compression"`
	TrialQuotaID         int64         `mapstructure:"trial_quota_id"`
	AdminGroupID         string        `mapstructure:"admin_group_id"`
	ProductTag           string        `mapstructure:"product_tag"`
	AliasMinLength       int           `mapstructure:"alias_min_length"`
	AliasMaxLength       int           `mapstructure:"alias_max_length"`
	ForbiddenAliases     []string      `mapstructure:"forbidden_aliases"`
}

// QueueConfig holds the request queue location.
type QueueConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Load loads configuration from the default locations.
func Load() (*Config, error) {
	return LoadFromPath("")
}

// LoadFromPath loads configuration from a specific path.
// If configPath is empty, it searches default locations.
func LoadFromPath(configPath string) (*Config, error) {
	v := viper.New()

	v.AutomaticEnv()
	v.SetEnvPrefix("TENANTMOVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	applyDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("tenantmove")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultConfigDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return configFromViper(v)
}

func configFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Worker.ArchiveDir = expandPath(cfg.Worker.ArchiveDir)
	cfg.Worker.PIDFile = expandPath(cfg.Worker.PIDFile)
	cfg.Queue.Path = expandPath(cfg.Queue.Path)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	if cfg.Worker.ArchiveDir == "" {
		cfg.Worker.ArchiveDir = filepath.Join(os.TempDir(), "tenantmove")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults sets default configuration values.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("worker.poll_interval", "5m")
	v.SetDefault("worker.source_region", "")
	v.SetDefault("worker.archive_dir", "")
	v.SetDefault("worker.keep_archives", false)
	v.SetDefault("worker.pid_file", filepath.Join(DefaultConfigDir(), "tenantmove.pid"))

	v.SetDefault("migration.page_size", 1000)
	v.SetDefault("migration.discovery_concurrency", 20)
	v.SetDefault("migration.copy_attempts", 5)
	v.SetDefault("migration.query_timeout", "10m")
	v.SetDefault("migration.compression", "lz4")
	v.SetDefault("migration.trial_quota_id", -1)
	v.SetDefault("migration.admin_group_id", "cd84e66b-b803-40fc-99f9-b2969a54a1de")
	v.SetDefault("migration.product_tag", "portal")
	v.SetDefault("migration.alias_min_length", 3)
	v.SetDefault("migration.alias_max_length", 63)
	v.SetDefault("migration.forbidden_aliases", []string{"api", "www", "mail", "admin", "support", "static"})

	v.SetDefault("queue.path", filepath.Join(DefaultConfigDir(), "queue.db"))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be positive")
	}
	if c.Migration.PageSize < 1 {
		return fmt.Errorf("migration.page_size must be at least 1")
	}
	if c.Migration.DiscoveryConcurrency < 1 {
		return fmt.Errorf("migration.discovery_concurrency must be at least 1")
	}
	if c.Migration.CopyAttempts < 1 {
		return fmt.Errorf("migration.copy_attempts must be at least 1")
	}
	switch c.Migration.Compression {
	case "none", "gzip", "lz4", "zstd", "":
	default:
		return fmt.Errorf("migration.compression must be one of: none, gzip, lz4, zstd")
	}
	if c.Migration.AliasMinLength < 1 || c.Migration.AliasMaxLength < c.Migration.AliasMinLength {
		return fmt.Errorf("migration.alias_min_length must be positive and not above alias_max_length")
	}
	if c.Migration.AliasMaxLength < len(c.Migration.ProductTag)+c.Migration.AliasMinLength {
		return fmt.Errorf("migration.alias_max_length must leave room for the product tag")
	}
	for id, r := range c.Regions {
		if r.PostgreSQL.DSN == "" && r.PostgreSQL.Host == "" {
			return fmt.Errorf("regions.%s.postgresql needs a dsn or host", id)
		}
		if r.Blobs.Endpoint == "" || r.Blobs.Bucket == "" {
			return fmt.Errorf("regions.%s.blobs needs an endpoint and bucket", id)
		}
	}
	return nil
}

// Region returns the configuration of a region id. The empty id is the
// home region.
func (c *Config) Region(id string) (RegionConfig, bool) {
	if id == "" {
		id = HomeRegion
	}
	r, ok := c.Regions[strings.ToLower(id)]
	return r, ok
}

// RegionIDs returns the configured region ids, with the home region as "".
func (c *Config) RegionIDs() []string {
	ids := make([]string, 0, len(c.Regions))
	for id := range c.Regions {
		if id == HomeRegion {
			id = ""
		}
		ids = append(ids, id)
	}
	return ids
}

// DefaultConfigDir returns the platform-appropriate configuration directory.
func DefaultConfigDir() string {
	if configDir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(configDir, "tenantmove")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "tenantmove")
	}
	return "."
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
