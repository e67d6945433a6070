// Package objstore implements store.BlobStore over an S3-compatible bucket.
// Objects are keyed {tenant}/{module}[/{domain}]/{path}.
package objstore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/willibrandon/tenantmove/internal/config"
	"github.com/willibrandon/tenantmove/internal/store"
)

// Store is a region blob store backed by one bucket.
type Store struct {
	client *minio.Client
	bucket string

	mu    sync.Mutex
	quota store.QuotaController
}

var _ store.BlobStore = (*Store)(nil)

// New creates a client for cfg. The bucket must already exist.
func New(cfg config.BlobConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// NewWithQuota creates a store with qc attached.
func NewWithQuota(cfg config.BlobConfig, qc store.QuotaController) (*Store, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	s.quota = qc
	return s, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
}

func (s *Store) List(ctx context.Context, loc store.Location, prefix string, recursive bool) ([]string, error) {
	base := loc.Prefix()
	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    base + prefix,
		Recursive: recursive,
	})

	var paths []string
	for obj := range objectCh {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s%s: %w", base, prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		paths = append(paths, strings.TrimPrefix(obj.Key, base))
	}
	return paths, nil
}

func (s *Store) Open(ctx context.Context, loc store.Location, p string) (io.ReadCloser, error) {
	key := loc.Prefix() + p
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("open %s: %w", key, store.ErrBlobNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return obj, nil
}

// Save uploads r. With a quota controller attached, known sizes are charged
// before the upload and unknown sizes after it.
func (s *Store) Save(ctx context.Context, loc store.Location, p string, r io.Reader, size int64) error {
	s.mu.Lock()
	qc := s.quota
	s.mu.Unlock()

	if qc != nil && size >= 0 {
		if err := qc.Charge(ctx, loc, size); err != nil {
			return err
		}
	}

	key := loc.Prefix() + p
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}

	if qc != nil && size < 0 {
		if err := qc.Charge(ctx, loc, info.Size); err != nil {
			_ = s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
			return err
		}
	}
	return nil
}

func (s *Store) DetachQuota() store.QuotaController {
	s.mu.Lock()
	defer s.mu.Unlock()
	qc := s.quota
	s.quota = nil
	return qc
}

func (s *Store) AttachQuota(qc store.QuotaController) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quota = qc
}
