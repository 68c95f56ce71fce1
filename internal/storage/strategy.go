package storage

import (
	"fmt"
	"sort"

	"go.uber.org/atomic"

	"github.com/imedwei/railway-object-storage/internal/config"
)

// Strategy names the policy used to pick a provider for each attempt.
type Strategy string

const (
	StrategyPrimary     Strategy = config.StrategyPrimary
	StrategyFailover    Strategy = config.StrategyFailover
	StrategyRoundRobin  Strategy = config.StrategyRoundRobin
	StrategyLoadBalance Strategy = config.StrategyLoadBalance
)

// ParseStrategy converts a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyPrimary, StrategyFailover, StrategyRoundRobin, StrategyLoadBalance:
		return Strategy(s), nil
	case "":
		return StrategyFailover, nil
	default:
		return "", fmt.Errorf("unknown selection strategy: %s", s)
	}
}

// rotates reports whether the strategy spreads requests across providers.
// round_robin and load_balance share the same rotation.
func (s Strategy) rotates() bool {
	return s == StrategyRoundRobin || s == StrategyLoadBalance
}

type rankedProvider struct {
	provider Provider
	priority int
}

// selector picks one provider from the healthy set.
type selector struct {
	strategy Strategy
	counter  *atomic.Uint64
}

func newSelector(strategy Strategy) *selector {
	return &selector{
		strategy: strategy,
		counter:  atomic.NewUint64(0),
	}
}

// pick returns a provider from healthy, which must already be ordered by
// priority. Primary and failover always take the first entry.
func (s *selector) pick(healthy []Provider) (Provider, error) {
	if len(healthy) == 0 {
		return nil, ErrNoHealthyProviders
	}
	if !s.strategy.rotates() {
		return healthy[0], nil
	}
	n := s.counter.Inc() - 1
	return healthy[n%uint64(len(healthy))], nil
}

// sortByPriority orders providers by ascending priority, then by name so the
// order is stable across restarts.
func sortByPriority(ranked []rankedProvider) {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].priority != ranked[j].priority {
			return ranked[i].priority < ranked[j].priority
		}
		return ranked[i].provider.Name() < ranked[j].provider.Name()
	})
}
