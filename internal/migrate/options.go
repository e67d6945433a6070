// Package migrate moves one user from a source tenant into a new or
// existing destination tenant, possibly in another region. A Creator
// extracts the user's rows and blobs into an archive; a Runner replays the
// archive into the destination and reconciles the tenant's billing state.
package migrate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/willibrandon/tenantmove/internal/archive"
	"github.com/willibrandon/tenantmove/internal/config"
	"github.com/willibrandon/tenantmove/internal/logger"
	"github.com/willibrandon/tenantmove/internal/tenancy"
)

// Options configures Creator and Runner.
type Options struct {
	// PageSize is the row count of one extraction page and one insert batch.
	PageSize int
	// DiscoveryConcurrency bounds concurrent blob listings.
	DiscoveryConcurrency int
	// CopyAttempts is the number of tries per blob copy.
	CopyAttempts int
	// CopyDelay is the pause between blob copy attempts.
	CopyDelay   time.Duration
	Compression archive.CompressionType
	ArchiveDir  string

	TrialQuotaID int64
	AdminGroupID string
	Alias        AliasRules

	// Now returns the current time. Defaults to time.Now in UTC.
	Now func() time.Time
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		PageSize:             1000,
		DiscoveryConcurrency: 20,
		CopyAttempts:         5,
		CopyDelay:            time.Second,
		Compression:          archive.CompressionLZ4,
		TrialQuotaID:         tenancy.TrialQuotaID,
		AdminGroupID:         tenancy.AdminGroupID,
		Alias:                DefaultAliasRules(),
	}
}

// OptionsFromConfig builds Options from the migration and worker sections.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	compression, err := archive.ParseCompression(cfg.Migration.Compression)
	if err != nil {
		return Options{}, err
	}
	opts := DefaultOptions()
	opts.PageSize = cfg.Migration.PageSize
	opts.DiscoveryConcurrency = cfg.Migration.DiscoveryConcurrency
	opts.CopyAttempts = cfg.Migration.CopyAttempts
	opts.Compression = compression
	opts.ArchiveDir = cfg.Worker.ArchiveDir
	opts.TrialQuotaID = cfg.Migration.TrialQuotaID
	opts.AdminGroupID = cfg.Migration.AdminGroupID
	opts.Alias = AliasRules{
		MinLength:  cfg.Migration.AliasMinLength,
		MaxLength:  cfg.Migration.AliasMaxLength,
		ProductTag: cfg.Migration.ProductTag,
		Forbidden:  cfg.Migration.ForbiddenAliases,
	}
	if err := opts.Alias.validate(); err != nil {
		return Options{}, fmt.Errorf("alias rules: %w", err)
	}
	return opts, nil
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	if o.DiscoveryConcurrency <= 0 {
		o.DiscoveryConcurrency = d.DiscoveryConcurrency
	}
	if o.CopyAttempts <= 0 {
		o.CopyAttempts = d.CopyAttempts
	}
	if o.CopyDelay < 0 {
		o.CopyDelay = 0
	}
	if o.Compression == "" {
		o.Compression = d.Compression
	}
	if o.AdminGroupID == "" {
		o.AdminGroupID = d.AdminGroupID
	}
	if o.Alias.MaxLength == 0 {
		o.Alias = d.Alias
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

func loggerOrDefault(log *slog.Logger) *slog.Logger {
	if log == nil {
		return logger.Logger()
	}
	return log
}
