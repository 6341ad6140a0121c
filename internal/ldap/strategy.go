package ldap

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
)

// ConnectionStrategy orders the candidate endpoints of an LDAP URL.
type ConnectionStrategy int

const (
	// StrategyDefault uses the configured URL unsplit as a single candidate.
	StrategyDefault ConnectionStrategy = iota
	// StrategyActivePassive tries endpoints in declared order.
	StrategyActivePassive
	// StrategyRoundRobin rotates the starting endpoint by the connection count.
	StrategyRoundRobin
	// StrategyRandom shuffles the endpoints.
	StrategyRandom
)

var strategyNames = map[ConnectionStrategy]string{
	StrategyDefault:       "DEFAULT",
	StrategyActivePassive: "ACTIVE_PASSIVE",
	StrategyRoundRobin:    "ROUND_ROBIN",
	StrategyRandom:        "RANDOM",
}

func (s ConnectionStrategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ConnectionStrategy(%d)", int(s))
}

// ParseConnectionStrategy parses a strategy name, ignoring case.
func ParseConnectionStrategy(name string) (ConnectionStrategy, error) {
	for s, n := range strategyNames {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}
	return StrategyDefault, fmt.Errorf("unknown connection strategy: %q", name)
}

// Resolve returns the endpoints to attempt, in priority order. count is the
// connection count of the owning factory; it is read but never modified.
func (s ConnectionStrategy) Resolve(ldapURL string, count int64) []string {
	if strings.TrimSpace(ldapURL) == "" {
		return nil
	}

	switch s {
	case StrategyActivePassive:
		return strings.Fields(ldapURL)

	case StrategyRoundRobin:
		urls := strings.Fields(ldapURL)
		n := int64(len(urls))
		shift := int((count%n + n) % n)
		return slices.Concat(urls[shift:], urls[:shift])

	case StrategyRandom:
		urls := strings.Fields(ldapURL)
		rand.Shuffle(len(urls), func(i, j int) {
			urls[i], urls[j] = urls[j], urls[i]
		})
		return urls

	default:
		return []string{ldapURL}
	}
}
