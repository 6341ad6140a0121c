package ldap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threeURLs = "ldap://a ldap://b ldap://c"

func TestConnectionStrategy_Resolve(t *testing.T) {
	tests := []struct {
		name     string
		strategy ConnectionStrategy
		url      string
		count    int64
		expected []string
	}{
		{"default keeps the url whole", StrategyDefault, threeURLs, 5, []string{threeURLs}},
		{"default single", StrategyDefault, "ldap://a", 0, []string{"ldap://a"}},
		{"active passive", StrategyActivePassive, threeURLs, 7, []string{"ldap://a", "ldap://b", "ldap://c"}},
		{"active passive extra whitespace", StrategyActivePassive, "  ldap://a\tldap://b\n", 0, []string{"ldap://a", "ldap://b"}},
		{"round robin first", StrategyRoundRobin, threeURLs, 0, []string{"ldap://a", "ldap://b", "ldap://c"}},
		{"round robin second", StrategyRoundRobin, threeURLs, 1, []string{"ldap://b", "ldap://c", "ldap://a"}},
		{"round robin third", StrategyRoundRobin, threeURLs, 2, []string{"ldap://c", "ldap://a", "ldap://b"}},
		{"round robin wraps", StrategyRoundRobin, threeURLs, 4, []string{"ldap://b", "ldap://c", "ldap://a"}},
		{"empty", StrategyActivePassive, "   ", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.strategy.Resolve(tt.url, tt.count))
		})
	}
}

func TestConnectionStrategy_ResolveRandom(t *testing.T) {
	for range 20 {
		urls := StrategyRandom.Resolve(threeURLs, 0)
		assert.ElementsMatch(t, []string{"ldap://a", "ldap://b", "ldap://c"}, urls)
	}
}

func TestParseConnectionStrategy(t *testing.T) {
	for _, s := range []ConnectionStrategy{StrategyDefault, StrategyActivePassive, StrategyRoundRobin, StrategyRandom} {
		parsed, err := ParseConnectionStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	parsed, err := ParseConnectionStrategy("round_robin")
	require.NoError(t, err)
	assert.Equal(t, StrategyRoundRobin, parsed)

	_, err = ParseConnectionStrategy("FASTEST")
	assert.ErrorContains(t, err, "unknown connection strategy")
	assert.Equal(t, "ConnectionStrategy(9)", ConnectionStrategy(9).String())
}
