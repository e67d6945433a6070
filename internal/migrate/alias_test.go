package migrate

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/tenantmove/internal/store/memstore"
	"github.com/willibrandon/tenantmove/internal/tenancy"
)

type aliasSet map[string]bool

func (s aliasSet) AliasExists(_ context.Context, alias string) (bool, error) {
	return s[alias], nil
}

func TestSanitizeAlias(t *testing.T) {
	assert.Equal(t, "alicesmith42", sanitizeAlias("Alice.Smith_42"))
	assert.Equal(t, "", sanitizeAlias("--__--"))
	assert.Equal(t, "jos", sanitizeAlias("José"))
}

func TestNextAlias(t *testing.T) {
	rules := DefaultAliasRules()
	tests := []struct {
		name   string
		alias  string
		status AliasStatus
		want   string
	}{
		{"append suffix", "alice", AliasTaken, "alice1"},
		{"increment suffix", "alice1", AliasTaken, "alice2"},
		{"carry", "alice9", AliasTaken, "alice10"},
		{"carry keeps width", "alice099", AliasTaken, "alice100"},
		{"prefix short", "al", AliasTooShort, "portalal"},
		{"prefix empty", "", AliasTooShort, "portal"},
		{"truncate long", strings.Repeat("a", 70), AliasTooShort, "portal" + strings.Repeat("a", 50)},
		{"shorten stem at max", strings.Repeat("b", 62) + "9", AliasTaken, strings.Repeat("b", 61) + "10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nextAlias(tt.alias, tt.status, rules)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NotEqual(t, tt.alias, got)
		})
	}
}

type allTaken struct{}

func (allTaken) AliasExists(context.Context, string) (bool, error) { return true, nil }

func TestNextAliasSuffixOverflow(t *testing.T) {
	rules := AliasRules{MinLength: 1, MaxLength: 3, ProductTag: "p"}
	require.NoError(t, rules.validate())

	_, err := nextAlias("999", AliasTaken, rules)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAliasTaken))
	assert.Equal(t, KindConflict, KindOf(err))

	_, err = ResolveAlias(context.Background(), "abc", allTaken{}, rules)
	assert.True(t, errors.Is(err, ErrAliasTaken))
}

func TestResolveAlias(t *testing.T) {
	ctx := context.Background()
	rules := DefaultAliasRules()

	got, err := ResolveAlias(ctx, "Alice", aliasSet{}, rules)
	require.NoError(t, err)
	assert.Equal(t, "alice", got)

	got, err = ResolveAlias(ctx, "alice", aliasSet{"alice": true, "alice1": true}, rules)
	require.NoError(t, err)
	assert.Equal(t, "alice2", got)

	got, err = ResolveAlias(ctx, "Al", aliasSet{}, rules)
	require.NoError(t, err)
	assert.Equal(t, "portalal", got)

	got, err = ResolveAlias(ctx, "admin", aliasSet{}, rules)
	require.NoError(t, err)
	assert.Equal(t, "admin1", got)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = ResolveAlias(cancelled, "alice", aliasSet{}, rules)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestResolveAliasProperties(t *testing.T) {
	rules := DefaultAliasRules()
	rng := rand.New(rand.NewSource(7))
	const charset = "abcXYZ019 ._-é"

	randomString := func(n int) string {
		var sb strings.Builder
		for i := 0; i < n; i++ {
			sb.WriteByte(charset[rng.Intn(len(charset)-1)])
		}
		return sb.String()
	}

	for i := 0; i < 500; i++ {
		seed := randomString(rng.Intn(80))
		taken := aliasSet{}
		base := sanitizeAlias(seed)
		for j := 0; j < rng.Intn(30); j++ {
			taken[base] = true
			taken[rules.ProductTag+base] = true
			next, err := nextAlias(base, AliasTaken, rules)
			require.NoError(t, err)
			base = next
		}
		for j := 0; j < rng.Intn(10); j++ {
			taken[sanitizeAlias(randomString(rng.Intn(10)+3))] = true
		}

		got, err := ResolveAlias(context.Background(), seed, taken, rules)
		require.NoError(t, err, "seed %q", seed)
		assert.GreaterOrEqual(t, len(got), rules.MinLength, "seed %q", seed)
		assert.LessOrEqual(t, len(got), rules.MaxLength, "seed %q", seed)
		assert.Equal(t, sanitizeAlias(got), got, "seed %q", seed)
		assert.False(t, taken[got], "seed %q", seed)
		assert.False(t, rules.forbidden(got), "seed %q", seed)
	}
}

func TestAliasRulesValidate(t *testing.T) {
	assert.NoError(t, DefaultAliasRules().validate())

	rules := DefaultAliasRules()
	rules.ProductTag = "Portal!"
	assert.Error(t, rules.validate())

	rules = DefaultAliasRules()
	rules.MaxLength = 2
	assert.Error(t, rules.validate())
}

// racingDirectory loses the first reservation to a concurrent migration.
type racingDirectory struct {
	*memstore.Directory
	lost bool
}

func (d *racingDirectory) ReserveTenant(ctx context.Context, alias string, now time.Time) (*tenancy.Tenant, error) {
	if !d.lost {
		d.lost = true
		return nil, tenancy.ErrAliasReserved
	}
	return d.Directory.ReserveTenant(ctx, alias, now)
}

func TestReserveAliasRetriesLostRace(t *testing.T) {
	r := memstore.NewRegion()
	dir := &racingDirectory{Directory: r.Dir}

	tenant, err := reserveAlias(context.Background(), "alice", dir, DefaultAliasRules(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "alice1", tenant.Alias)
	assert.Equal(t, tenancy.TenantSuspended, tenant.Status)
}
