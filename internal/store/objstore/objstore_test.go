package objstore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/willibrandon/tenantmove/internal/config"
	"github.com/willibrandon/tenantmove/internal/store"
	"github.com/willibrandon/tenantmove/internal/store/memstore"
)

// ObjStoreTestSuite runs the blob store against a MinIO container.
type ObjStoreTestSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	store     *Store
	quota     *memstore.QuotaCounter
}

func TestObjStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	suite.Run(t, new(ObjStoreTestSuite))
}

func (s *ObjStoreTestSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "minioadmin",
			"MINIO_ROOT_PASSWORD": "minioadmin",
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(s.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		s.T().Skipf("Docker unavailable: %v", err)
	}
	s.container = container

	endpoint, err := container.PortEndpoint(s.ctx, "9000/tcp", "")
	s.Require().NoError(err)

	s.quota = &memstore.QuotaCounter{}
	s.store, err = NewWithQuota(config.BlobConfig{
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "portal-eu",
	}, s.quota)
	s.Require().NoError(err)
	s.Require().NoError(s.store.EnsureBucket(s.ctx))
}

func (s *ObjStoreTestSuite) TearDownSuite() {
	if s.container != nil {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.container.Terminate(cleanupCtx); err != nil {
			s.T().Logf("Failed to terminate container: %v", err)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *ObjStoreTestSuite) TestSaveListOpen() {
	loc := store.Location{Tenant: 7, Module: "files"}
	s.Require().NoError(s.store.Save(s.ctx, loc, "folder_1000/file_1/v1/content.txt", strings.NewReader("hello"), 5))
	s.Require().NoError(s.store.Save(s.ctx, loc, "folder_1000/file_1/v1/thumb.png", bytes.NewReader([]byte{1, 2}), -1))
	s.Require().NoError(s.store.Save(s.ctx, loc, "folder_1000/file_12/v1/content.txt", strings.NewReader("x"), 1))

	paths, err := s.store.List(s.ctx, loc, "folder_1000/file_1/", true)
	s.Require().NoError(err)
	s.Equal([]string{"folder_1000/file_1/v1/content.txt", "folder_1000/file_1/v1/thumb.png"}, paths)

	rc, err := s.store.Open(s.ctx, loc, "folder_1000/file_1/v1/content.txt")
	s.Require().NoError(err)
	data, err := io.ReadAll(rc)
	rc.Close()
	s.Require().NoError(err)
	s.Equal("hello", string(data))

	s.Equal(int64(8), s.quota.Used(7))
}

func (s *ObjStoreTestSuite) TestOpenMissing() {
	_, err := s.store.Open(s.ctx, store.Location{Tenant: 7, Module: "files"}, "nope")
	s.ErrorIs(err, store.ErrBlobNotFound)
}

func (s *ObjStoreTestSuite) TestDetachedQuotaIsNotCharged() {
	loc := store.Location{Tenant: 9, Module: "files"}
	qc := s.store.DetachQuota()
	defer s.store.AttachQuota(qc)

	s.Require().NoError(s.store.Save(s.ctx, loc, "a", strings.NewReader("abc"), 3))
	s.Equal(int64(0), s.quota.Used(9))
}
