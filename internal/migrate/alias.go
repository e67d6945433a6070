package migrate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/willibrandon/tenantmove/internal/tenancy"
)

// AliasStatus is the outcome of validating one alias candidate.
type AliasStatus int

const (
	AliasOK AliasStatus = iota
	// AliasTooShort covers every length failure.
	AliasTooShort
	AliasTaken
)

func (s AliasStatus) String() string {
	switch s {
	case AliasOK:
		return "ok"
	case AliasTooShort:
		return "too_short"
	case AliasTaken:
		return "taken"
	default:
		return "unknown"
	}
}

// truncateAt is the stem length kept when a too-long alias is prefixed.
const truncateAt = 50

// AliasRules bounds the aliases the resolver may return.
type AliasRules struct {
	MinLength  int
	MaxLength  int
	ProductTag string
	Forbidden  []string
}

// DefaultAliasRules returns the portal alias rules.
func DefaultAliasRules() AliasRules {
	return AliasRules{
		MinLength:  3,
		MaxLength:  63,
		ProductTag: "portal",
		Forbidden:  []string{"api", "www", "mail", "admin", "support", "static"},
	}
}

func (r AliasRules) validate() error {
	if r.MinLength < 1 || r.MaxLength < r.MinLength {
		return fmt.Errorf("invalid length bounds %d..%d", r.MinLength, r.MaxLength)
	}
	tag := sanitizeAlias(r.ProductTag)
	if tag == "" || tag != r.ProductTag {
		return fmt.Errorf("product tag %q must be non-empty [a-z0-9]", r.ProductTag)
	}
	if len(tag)+r.MinLength > r.MaxLength {
		return fmt.Errorf("product tag %q leaves no room within %d characters", tag, r.MaxLength)
	}
	return nil
}

func (r AliasRules) forbidden(alias string) bool {
	for _, f := range r.Forbidden {
		if strings.EqualFold(f, alias) {
			return true
		}
	}
	return false
}

// AliasChecker reports aliases already held in the destination region.
type AliasChecker interface {
	AliasExists(ctx context.Context, alias string) (bool, error)
}

// sanitizeAlias lower-cases s and drops characters outside [a-z0-9].
func sanitizeAlias(s string) string {
	var sb strings.Builder
	for _, c := range strings.ToLower(s) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			sb.WriteRune(c)
		}
	}
	return sb.String()
}

// validateAlias checks one sanitized candidate.
func validateAlias(ctx context.Context, alias string, rules AliasRules, checker AliasChecker) (AliasStatus, error) {
	if len(alias) < rules.MinLength || len(alias) > rules.MaxLength {
		return AliasTooShort, nil
	}
	if rules.forbidden(alias) {
		return AliasTaken, nil
	}
	exists, err := checker.AliasExists(ctx, alias)
	if err != nil {
		return AliasOK, err
	}
	if exists {
		return AliasTaken, nil
	}
	return AliasOK, nil
}

// nextAlias derives the next candidate after a failed validation.
func nextAlias(alias string, status AliasStatus, rules AliasRules) (string, error) {
	switch status {
	case AliasTooShort:
		if len(alias) > truncateAt {
			alias = alias[:truncateAt]
		}
		next := rules.ProductTag + alias
		if len(next) > rules.MaxLength {
			next = next[:rules.MaxLength]
		}
		return next, nil
	case AliasTaken:
		stem, digits := splitDigits(alias)
		if digits == "" {
			digits = "1"
		} else {
			digits = increment(digits)
		}
		if over := len(stem) + len(digits) - rules.MaxLength; over > 0 {
			if over > len(stem) {
				return "", fmt.Errorf("alias %q: suffix %s exceeds %d characters: %w", alias, digits, rules.MaxLength, ErrAliasTaken)
			}
			stem = stem[:len(stem)-over]
		}
		return stem + digits, nil
	default:
		return alias, nil
	}
}

// splitDigits splits the trailing decimal digits off s.
func splitDigits(s string) (stem, digits string) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	return s[:i], s[i:]
}

// increment adds one to a decimal digit string of any length.
func increment(digits string) string {
	b := []byte(digits)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < '9' {
			b[i]++
			return string(b)
		}
		b[i] = '0'
	}
	return "1" + string(b)
}

// ResolveAlias derives a free alias from seed. Each failed candidate is
// replaced by a strictly different one, so the loop ends for any finite
// set of taken aliases.
func ResolveAlias(ctx context.Context, seed string, checker AliasChecker, rules AliasRules) (string, error) {
	alias := seed
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		alias = sanitizeAlias(alias)
		status, err := validateAlias(ctx, alias, rules, checker)
		if err != nil {
			return "", fmt.Errorf("validate alias %q: %w", alias, err)
		}
		if status == AliasOK {
			return alias, nil
		}
		alias, err = nextAlias(alias, status, rules)
		if err != nil {
			return "", err
		}
	}
}

// reserveAlias resolves an alias from seed and inserts the suspended
// placeholder tenant holding it. Losing a reservation race counts as a
// taken alias.
func reserveAlias(ctx context.Context, seed string, dir tenancy.Directory, rules AliasRules, now time.Time) (*tenancy.Tenant, error) {
	for {
		alias, err := ResolveAlias(ctx, seed, dir, rules)
		if err != nil {
			return nil, err
		}
		t, err := dir.ReserveTenant(ctx, alias, now)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, tenancy.ErrAliasReserved) {
			return nil, err
		}
		if seed, err = nextAlias(alias, AliasTaken, rules); err != nil {
			return nil, err
		}
	}
}
