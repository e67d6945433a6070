// Package tenancy describes the tenant, user and quota records the migration
// engine reads and reconciles, and the Directory contract that serves them.
package tenancy

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a tenant, user or quota does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAliasReserved is returned when a placeholder tenant loses a race
	// for its alias.
	ErrAliasReserved = errors.New("alias already reserved")
)

// TenantStatus is the lifecycle state of a tenant.
type TenantStatus int

const (
	TenantActive        TenantStatus = 0
	TenantSuspended     TenantStatus = 1
	TenantRemovePending TenantStatus = 2
)

func (s TenantStatus) String() string {
	switch s {
	case TenantActive:
		return "active"
	case TenantSuspended:
		return "suspended"
	case TenantRemovePending:
		return "remove_pending"
	default:
		return "unknown"
	}
}

// UserStatus is the employment state of a user.
type UserStatus int

const (
	UserActive     UserStatus = 1
	UserTerminated UserStatus = 2
)

// AdminGroupID is the well-known administrators group.
const AdminGroupID = "cd84e66b-b803-40fc-99f9-b2969a54a1de"

// TrialQuotaID identifies the trial tariff quota.
const TrialQuotaID int64 = -1

// MaxStamp is the open-ended tariff expiry.
var MaxStamp = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// Tenant is a portal instance.
type Tenant struct {
	ID            int64
	Alias         string
	Name          string
	Status        TenantStatus
	OwnerID       string
	Industry      int
	LastModified  time.Time
	StatusChanged time.Time
}

// User is a portal account.
type User struct {
	ID       string
	TenantID int64
	UserName string
	Email    string
	Status   UserStatus
}

// UserQuery selects a user by username, email or both. Empty fields are
// ignored; at least one must be set.
type UserQuery struct {
	UserName string
	Email    string
}

// Empty reports whether neither field is set.
func (q UserQuery) Empty() bool {
	return q.UserName == "" && q.Email == ""
}

// Quota caps storage and seats. Non-positive values mean unlimited.
type Quota struct {
	ID           int64
	Name         string
	MaxTotalSize int64
	ActiveUsers  int
}

// FitsSize reports whether size bytes are within the quota.
func (q Quota) FitsSize(size int64) bool {
	return q.MaxTotalSize <= 0 || size <= q.MaxTotalSize
}

// HasSeat reports whether one more active user fits beside current.
func (q Quota) HasSeat(current int) bool {
	return q.ActiveUsers <= 0 || current+1 <= q.ActiveUsers
}

// QuotaRow is a usage counter for one tenant path.
type QuotaRow struct {
	Tenant       int64
	Path         string
	Counter      int64
	Tag          string
	UserID       string
	LastModified time.Time
}

// Tariff attaches a quota to a tenant until Stamp.
type Tariff struct {
	Tenant  int64
	QuotaID int64
	Stamp   time.Time
	Comment string
}

// FileRef is one stored file version owned by a user.
type FileRef struct {
	ID            int64
	Version       int
	ContentLength int64
}

// Directory serves the tenant, user and quota records of one region.
type Directory interface {
	TenantByAlias(ctx context.Context, alias string) (*Tenant, error)
	TenantByID(ctx context.Context, id int64) (*Tenant, error)
	// FindUser returns the non-removed user of tenantID matching q with status.
	FindUser(ctx context.Context, tenantID int64, q UserQuery, status UserStatus) (*User, error)
	UserExists(ctx context.Context, tenantID int64, userID string) (bool, error)
	// UserTaken reports whether any tenant of the region has a user matching q.
	UserTaken(ctx context.Context, q UserQuery) (bool, error)
	// UserFiles lists every stored version of the files created by userID.
	UserFiles(ctx context.Context, tenantID int64, userID string) ([]FileRef, error)
	// TenantQuota returns the quota of the tenant's current tariff.
	TenantQuota(ctx context.Context, tenantID int64) (*Quota, error)
	Quota(ctx context.Context, id int64) (*Quota, error)
	CountActiveUsers(ctx context.Context, tenantID int64) (int, error)
	AliasExists(ctx context.Context, alias string) (bool, error)
	// ReserveTenant inserts a suspended placeholder tenant holding alias.
	ReserveTenant(ctx context.Context, alias string, now time.Time) (*Tenant, error)
	SetQuotaRow(ctx context.Context, row QuotaRow) error
	ActivateTenant(ctx context.Context, tenantID int64, ownerID string, now time.Time) error
	// ReplaceTariff removes the tenant's tariff rows and inserts t.
	ReplaceTariff(ctx context.Context, t Tariff) error
	EnsureGroupMember(ctx context.Context, tenantID int64, userID, groupID string) (bool, error)
}

// TotalSize sums the content length of files.
func TotalSize(files []FileRef) int64 {
	var total int64
	for _, f := range files {
		total += f.ContentLength
	}
	return total
}
