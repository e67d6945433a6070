package postgres

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/willibrandon/tenantmove/internal/config"
	"github.com/willibrandon/tenantmove/internal/store"
	"github.com/willibrandon/tenantmove/internal/tenancy"
)

func configFor(host string, port int) config.PostgreSQLConfig {
	return config.PostgreSQLConfig{
		Host:     host,
		Port:     port,
		Database: "testdb",
		User:     "test",
		SSLMode:  "disable",
	}
}

// PostgresTestSuite runs the store against a disposable PostgreSQL container.
type PostgresTestSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	db        *DB
	dir       *Directory
}

func TestPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresTestSuite))
}

func (s *PostgresTestSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(s.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		s.T().Skipf("Docker unavailable: %v", err)
	}
	s.container = container

	host, err := container.Host(s.ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(s.ctx, "5432")
	s.Require().NoError(err)

	cfg := configFor(host, port.Int())
	cfg.DSN = "postgres://test:test@" + host + ":" + strconv.Itoa(port.Int()) + "/testdb?sslmode=disable"
	s.db, err = Connect(s.ctx, cfg, Options{QueryTimeout: time.Minute})
	s.Require().NoError(err)
	s.dir = NewDirectory(s.db)

	schema, err := os.ReadFile("testdata/schema.sql")
	s.Require().NoError(err)
	_, err = s.db.Pool().Exec(s.ctx, string(schema))
	s.Require().NoError(err)
}

func (s *PostgresTestSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
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

func (s *PostgresTestSuite) SetupTest() {
	_, err := s.db.Pool().Exec(s.ctx, `TRUNCATE tenants_tenants, tenants_quota, tenants_tariff, tenants_quotarow,
		core_user, core_usersecurity, core_usergroup, webstudio_settings,
		files_folder, files_folder_tree, files_file, files_bunch_objects`)
	s.Require().NoError(err)
}

func (s *PostgresTestSuite) exec(sql string, args ...any) {
	_, err := s.db.Pool().Exec(s.ctx, sql, args...)
	s.Require().NoError(err)
}

func (s *PostgresTestSuite) seedTenant(id int64, alias, owner string) {
	s.exec(`INSERT INTO tenants_tenants (id, alias, name, status, owner_id, industry, creationdatetime, last_modified, statuschanged)
		VALUES ($1, $2, $2, 0, $3, 3, now(), now(), now())`, id, alias, owner)
}

func (s *PostgresTestSuite) TestQueryPagesAndKinds() {
	for i := 1; i <= 5; i++ {
		s.exec(`INSERT INTO files_file (id, version, folder_id, title, content_length, thumb, create_by, create_on, tenant_id)
			VALUES ($1, 1, 10, 'doc', 100, 2, 'u-1', '2024-02-02 10:00:00', 1)`, i)
	}

	sel := store.Select{
		Table:   "files_file",
		Where:   []store.Cond{store.Eq("tenant_id", int64(1)), store.Eq("create_by", "u-1")},
		OrderBy: []string{"id"},
	}
	page, err := s.db.Query(s.ctx, sel.Page(2, 2))
	s.Require().NoError(err)
	s.Require().Equal(2, page.Len())
	s.Equal(int64(3), page.Row(0).Get("id"))
	s.Equal(store.KindTime, page.Columns[page.ColumnIndex("create_on")].Kind)
	s.Equal(store.KindText, page.Columns[page.ColumnIndex("title")].Kind)

	last, err := s.db.Query(s.ctx, sel.Page(2, 4))
	s.Require().NoError(err)
	s.Equal(1, last.Len())
}

func (s *PostgresTestSuite) TestQueryMissingTable() {
	_, err := s.db.Query(s.ctx, store.Select{Table: "files_link"})
	s.ErrorIs(err, store.ErrTableNotFound)
}

func (s *PostgresTestSuite) TestInsertMethodsAndNextID() {
	rows := store.NewTable("tenants_tenants",
		store.Column{Name: "id", Kind: store.KindInt},
		store.Column{Name: "alias", Kind: store.KindText},
		store.Column{Name: "name", Kind: store.KindText},
		store.Column{Name: "creationdatetime", Kind: store.KindTime},
		store.Column{Name: "last_modified", Kind: store.KindTime},
		store.Column{Name: "statuschanged", Kind: store.KindTime},
	)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Require().NoError(rows.Append(int64(7), "alice", "", now, now, now))

	reserved, err := s.dir.ReserveTenant(s.ctx, "alice", now)
	s.Require().NoError(err)

	n, err := s.db.Insert(s.ctx, store.InsertSpec{
		Table:           "tenants_tenants",
		Method:          store.InsertUpsert,
		ConflictColumns: []string{"alias"},
		KeepOnConflict:  []string{"id"},
	}, rows)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	got, err := s.dir.TenantByAlias(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal(reserved.ID, got.ID)

	_, err = s.db.Insert(s.ctx, store.InsertSpec{Table: "tenants_tenants", Method: store.InsertPlain}, rows)
	s.Error(err)

	a, err := s.db.NextID(s.ctx, "tenants_tenants", "id")
	s.Require().NoError(err)
	b, err := s.db.NextID(s.ctx, "tenants_tenants", "id")
	s.Require().NoError(err)
	s.Greater(a, reserved.ID)
	s.Equal(a+1, b)
}

func (s *PostgresTestSuite) TestDirectoryLifecycle() {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.seedTenant(1, "acme", "owner")
	s.exec(`INSERT INTO core_user (tenant, id, username, email, status) VALUES (1, 'u-1', 'alice', 'alice@acme.test', 1)`)
	s.exec(`INSERT INTO tenants_quota (tenant, name, max_total_size, active_users) VALUES (-1, 'trial', 1000, 5)`)

	_, err := s.dir.ReserveTenant(s.ctx, "acme", now)
	s.ErrorIs(err, tenancy.ErrAliasReserved)

	u, err := s.dir.FindUser(s.ctx, 1, tenancy.UserQuery{Email: "alice@acme.test"}, tenancy.UserActive)
	s.Require().NoError(err)
	s.Equal("u-1", u.ID)

	_, err = s.dir.FindUser(s.ctx, 1, tenancy.UserQuery{UserName: "bob"}, tenancy.UserActive)
	s.ErrorIs(err, tenancy.ErrNotFound)

	taken, err := s.dir.UserTaken(s.ctx, tenancy.UserQuery{UserName: "nobody", Email: "alice@acme.test"})
	s.Require().NoError(err)
	s.True(taken)

	q, err := s.dir.TenantQuota(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(int64(1000), q.MaxTotalSize)

	s.Require().NoError(s.dir.ActivateTenant(s.ctx, 1, "u-1", now))
	s.Require().NoError(s.dir.ReplaceTariff(s.ctx, tenancy.Tariff{Tenant: 1, QuotaID: tenancy.TrialQuotaID, Stamp: tenancy.MaxStamp}))
	s.Require().NoError(s.dir.SetQuotaRow(s.ctx, tenancy.QuotaRow{Tenant: 1, Path: "/files/", Counter: 500, Tag: "files", UserID: "u-1", LastModified: now}))

	added, err := s.dir.EnsureGroupMember(s.ctx, 1, "u-1", tenancy.AdminGroupID)
	s.Require().NoError(err)
	s.True(added)
	added, err = s.dir.EnsureGroupMember(s.ctx, 1, "u-1", tenancy.AdminGroupID)
	s.Require().NoError(err)
	s.False(added)

	tn, err := s.dir.TenantByID(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(tenancy.TenantActive, tn.Status)
	s.Equal("u-1", tn.OwnerID)
}

func (s *PostgresTestSuite) TestQuotaRowsCharge() {
	s.seedTenant(1, "acme", "owner")
	s.exec(`INSERT INTO tenants_quota (tenant, name, max_total_size, active_users) VALUES (-1, 'trial', 100, 5)`)

	qc := NewQuotaRows(s.db)
	loc := store.Location{Tenant: 1, Module: "files"}
	s.Require().NoError(qc.Charge(s.ctx, loc, 60))
	s.Require().NoError(qc.Charge(s.ctx, loc, 40))
	s.ErrorIs(qc.Charge(s.ctx, loc, 1), store.ErrQuotaExceeded)

	var counter int64
	s.Require().NoError(s.db.Pool().QueryRow(s.ctx,
		`SELECT counter FROM tenants_quotarow WHERE tenant = 1 AND path = '/files/'`).Scan(&counter))
	s.Equal(int64(100), counter)
}
