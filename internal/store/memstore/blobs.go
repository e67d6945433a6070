package memstore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/willibrandon/tenantmove/internal/store"
)

// Blobs is an in-memory blob store.
type Blobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	broken  map[string]bool
	opens   map[string]int
	quota   store.QuotaController
}

// NewBlobs returns an empty blob store.
func NewBlobs() *Blobs {
	return &Blobs{
		objects: make(map[string][]byte),
		broken:  make(map[string]bool),
		opens:   make(map[string]int),
	}
}

var _ store.BlobStore = (*Blobs)(nil)

// Put stores data without charging quota.
func (b *Blobs) Put(loc store.Location, p string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[loc.Prefix()+p] = data
}

// Get returns the stored bytes of p.
func (b *Blobs) Get(loc store.Location, p string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[loc.Prefix()+p]
	return data, ok
}

// Break makes every read of p fail.
func (b *Blobs) Break(loc store.Location, p string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broken[loc.Prefix()+p] = true
}

// Opens returns how many times p was opened.
func (b *Blobs) Opens(loc store.Location, p string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens[loc.Prefix()+p]
}

// Paths returns every stored path under loc.
func (b *Blobs) Paths(loc store.Location) []string {
	paths, _ := b.List(context.Background(), loc, "", true)
	return paths
}

func (b *Blobs) List(ctx context.Context, loc store.Location, prefix string, recursive bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	base := loc.Prefix()
	var out []string
	for key := range b.objects {
		if !strings.HasPrefix(key, base+prefix) {
			continue
		}
		rel := strings.TrimPrefix(key, base)
		if !recursive && strings.Contains(strings.TrimPrefix(strings.TrimPrefix(rel, prefix), "/"), "/") {
			continue
		}
		out = append(out, rel)
	}
	sort.Strings(out)
	return out, nil
}

func (b *Blobs) Open(ctx context.Context, loc store.Location, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := loc.Prefix() + p
	b.opens[key]++
	if b.broken[key] {
		return nil, fmt.Errorf("open %s: read failed", key)
	}
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", key, store.ErrBlobNotFound)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (b *Blobs) Save(ctx context.Context, loc store.Location, p string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("save %s: %w", p, err)
	}
	b.mu.Lock()
	qc := b.quota
	b.mu.Unlock()
	if qc != nil {
		if err := qc.Charge(ctx, loc, int64(len(data))); err != nil {
			return err
		}
	}
	b.Put(loc, p, data)
	return nil
}

func (b *Blobs) DetachQuota() store.QuotaController {
	b.mu.Lock()
	defer b.mu.Unlock()
	qc := b.quota
	b.quota = nil
	return qc
}

func (b *Blobs) AttachQuota(qc store.QuotaController) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quota = qc
}

// QuotaCounter is a QuotaController that sums charges per tenant.
type QuotaCounter struct {
	mu    sync.Mutex
	Limit int64
	used  map[int64]int64
}

// Charge records size bytes for loc's tenant.
func (q *QuotaCounter) Charge(_ context.Context, loc store.Location, size int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.used == nil {
		q.used = make(map[int64]int64)
	}
	if q.Limit > 0 && q.used[loc.Tenant]+size > q.Limit {
		return store.ErrQuotaExceeded
	}
	q.used[loc.Tenant] += size
	return nil
}

// Used returns the bytes charged to tenant.
func (q *QuotaCounter) Used(tenant int64) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used[tenant]
}
