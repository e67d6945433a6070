// Package region opens the stores of each configured region on demand.
package region

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/willibrandon/tenantmove/internal/config"
	"github.com/willibrandon/tenantmove/internal/logger"
	"github.com/willibrandon/tenantmove/internal/store"
	"github.com/willibrandon/tenantmove/internal/store/objstore"
	"github.com/willibrandon/tenantmove/internal/store/postgres"
	"github.com/willibrandon/tenantmove/internal/tenancy"
)

// ErrUnknownRegion is returned for a region id with no configuration.
var ErrUnknownRegion = errors.New("unknown region")

// Stores opens the stores of a region. The empty id is the home region.
type Stores interface {
	DB(ctx context.Context, region string) (store.DB, error)
	Directory(ctx context.Context, region string) (tenancy.Directory, error)
	Blobs(ctx context.Context, region string) (store.BlobStore, error)
}

type regionStores struct {
	db    *postgres.DB
	dir   *postgres.Directory
	blobs *objstore.Store
}

// Factory is a Stores over the configured regions. Stores are opened on
// first use and cached until Close.
type Factory struct {
	cfg *config.Config
	log *slog.Logger

	mu      sync.Mutex
	regions map[string]*regionStores
}

var _ Stores = (*Factory)(nil)

// NewFactory returns a factory over cfg.Regions.
func NewFactory(cfg *config.Config, log *slog.Logger) *Factory {
	if log == nil {
		log = logger.Logger()
	}
	return &Factory{cfg: cfg, log: log, regions: make(map[string]*regionStores)}
}

func (f *Factory) open(ctx context.Context, id string) (*regionStores, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if rs, ok := f.regions[id]; ok {
		return rs, nil
	}
	rc, ok := f.cfg.Region(id)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownRegion, id)
	}

	log := f.log.With("region", displayName(id))
	db, err := postgres.Connect(ctx, rc.PostgreSQL, postgres.Options{
		QueryTimeout: f.cfg.Migration.QueryTimeout,
		Logger:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("region %s database: %w", displayName(id), err)
	}
	blobs, err := objstore.NewWithQuota(rc.Blobs, postgres.NewQuotaRows(db))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("region %s blobs: %w", displayName(id), err)
	}

	rs := &regionStores{db: db, dir: postgres.NewDirectory(db), blobs: blobs}
	f.regions[id] = rs
	log.Debug("region stores opened")
	return rs, nil
}

func (f *Factory) DB(ctx context.Context, region string) (store.DB, error) {
	rs, err := f.open(ctx, region)
	if err != nil {
		return nil, err
	}
	return rs.db, nil
}

func (f *Factory) Directory(ctx context.Context, region string) (tenancy.Directory, error) {
	rs, err := f.open(ctx, region)
	if err != nil {
		return nil, err
	}
	return rs.dir, nil
}

func (f *Factory) Blobs(ctx context.Context, region string) (store.BlobStore, error) {
	rs, err := f.open(ctx, region)
	if err != nil {
		return nil, err
	}
	return rs.blobs, nil
}

// Close closes every opened region database.
func (f *Factory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, rs := range f.regions {
		rs.db.Close()
		delete(f.regions, id)
	}
}

func displayName(id string) string {
	if id == "" {
		return config.HomeRegion
	}
	return id
}
