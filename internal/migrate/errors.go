package migrate

import (
	"errors"
	"fmt"

	"github.com/willibrandon/tenantmove/internal/mapper"
	"github.com/willibrandon/tenantmove/internal/store"
	"github.com/willibrandon/tenantmove/internal/tenancy"
)

// Kind classifies migration failures.
type Kind int

const (
	// KindTransientStore is a store read or write failure.
	KindTransientStore Kind = iota
	// KindNotFound is a missing tenant or user.
	KindNotFound
	// KindConflict is an identity collision in the destination.
	KindConflict
	// KindQuotaExceeded is a failed size or seat pre-flight check.
	KindQuotaExceeded
	// KindInvariant is a catalog or mapper inconsistency.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindTransientStore:
		return "transient_store"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

var (
	ErrTenantNotFound    = errors.New("tenant not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrUsernameExists    = errors.New("username or email already exists in destination region")
	ErrAliasTaken        = errors.New("alias already taken")
	ErrQuotaExceeded     = errors.New("content size exceeds destination quota")
	ErrSeatQuotaExceeded = errors.New("destination tenant has no free user seat")
)

// Error is a classified migration failure.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// fail wraps err with op and kind. A nil err stays nil.
func fail(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// failf is fail over a formatted error.
func failf(op string, kind Kind, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf classifies err. Unclassified errors are transient store errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrTenantNotFound), errors.Is(err, ErrUserNotFound), errors.Is(err, tenancy.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUsernameExists), errors.Is(err, ErrAliasTaken), errors.Is(err, tenancy.ErrAliasReserved):
		return KindConflict
	case errors.Is(err, ErrQuotaExceeded), errors.Is(err, ErrSeatQuotaExceeded), errors.Is(err, store.ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, mapper.ErrUnmapped), errors.Is(err, mapper.ErrNotCommitted), errors.Is(err, mapper.ErrCommitted):
		return KindInvariant
	default:
		return KindTransientStore
	}
}

// storeKind classifies a store error, keeping not-found apart.
func storeKind(err error) Kind {
	if errors.Is(err, tenancy.ErrNotFound) {
		return KindNotFound
	}
	return KindOf(err)
}
