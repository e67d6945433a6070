package queue

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a migration request.
type Status string

const (
	// StatusPending means the request waits for the worker.
	StatusPending Status = "pending"
	// StatusInWork means the worker has claimed the request.
	StatusInWork Status = "in_work"
	// StatusSuccess means the user was migrated.
	StatusSuccess Status = "success"
	// StatusError means the migration failed; details are in the log.
	StatusError Status = "error"
)

// AllStatuses returns all valid request statuses.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusInWork, StatusSuccess, StatusError}
}

// IsValid returns true if the status is a recognized value.
func (s Status) IsValid() bool {
	for _, valid := range AllStatuses() {
		if s == valid {
			return true
		}
	}
	return false
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether the worker is done with the request.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError
}

// ParseStatus parses a status name.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

var transitions = map[Status][]Status{
	StatusPending: {StatusInWork},
	StatusInWork:  {StatusSuccess, StatusError},
	StatusError:   {StatusPending},
}

// ValidateTransition checks that a request may move from one status to another.
func ValidateTransition(from, to Status) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Request validation and lookup errors.
var (
	ErrUserRequired        = errors.New("email or user name is required")
	ErrSourceAliasRequired = errors.New("source alias is required")
	ErrInvalidStatus       = errors.New("invalid request status")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrNotFound            = errors.New("request not found")
	ErrNoPending           = errors.New("no pending request")
)

// Request asks for one user to be moved out of a source tenant.
// An empty DestAlias creates a new tenant in DestRegion.
type Request struct {
	ID           int64      `json:"id" yaml:"id"`
	Email        string     `json:"email,omitempty" yaml:"email,omitempty"`
	UserName     string     `json:"user_name,omitempty" yaml:"user_name,omitempty"`
	SourceAlias  string     `json:"source_alias" yaml:"source_alias"`
	SourceRegion string     `json:"source_region" yaml:"source_region"`
	DestRegion   string     `json:"dest_region" yaml:"dest_region"`
	DestAlias    string     `json:"dest_alias,omitempty" yaml:"dest_alias,omitempty"`
	Status       Status     `json:"status" yaml:"status"`
	RequestDate  time.Time  `json:"request_date" yaml:"request_date"`
	StartDate    *time.Time `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	// Alias is the destination tenant alias, set on success.
	Alias string `json:"alias,omitempty" yaml:"alias,omitempty"`
}

// Validate checks that the request has valid field values.
func (r *Request) Validate() error {
	if r.Email == "" && r.UserName == "" {
		return ErrUserRequired
	}
	if r.SourceAlias == "" {
		return ErrSourceAliasRequired
	}
	if r.Status != "" && !r.Status.IsValid() {
		return ErrInvalidStatus
	}
	return nil
}

// Duration returns how long the worker spent on the request, or zero if
// it has not finished.
func (r *Request) Duration() time.Duration {
	if r.StartDate == nil || r.EndDate == nil {
		return 0
	}
	return r.EndDate.Sub(*r.StartDate)
}
