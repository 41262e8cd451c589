package strategy

import (
	"sort"
	"time"

	"github.com/rxtech-lab/argo-backtest/internal/types"
)

// SignalProvider yields the ordered trade instructions for a trading day. The core treats it as opaque:
// it never decides what to trade. Implementations must be safe for concurrent use and return the same
// signals for the same date on every call.
type SignalProvider interface {
	GetSignals(date time.Time) ([]types.Signal, error)
}

// SignalProviderFunc adapts a function to SignalProvider.
type SignalProviderFunc func(date time.Time) ([]types.Signal, error)

// GetSignals implements SignalProvider.
func (f SignalProviderFunc) GetSignals(date time.Time) ([]types.Signal, error) {
	return f(date)
}

// StaticSignalProvider serves a precomputed schedule of signals keyed by calendar day.
// It is immutable after construction.
type StaticSignalProvider struct {
	signals map[int64][]types.Signal
	days    []time.Time
}

// NewStaticSignalProvider copies the schedule. Keys are normalized to calendar days and signals of
// keys that fall on the same day are concatenated in key order.
func NewStaticSignalProvider(schedule map[time.Time][]types.Signal) *StaticSignalProvider {
	keys := make([]time.Time, 0, len(schedule))
	for date := range schedule {
		keys = append(keys, date)
	}

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Before(keys[j])
	})

	provider := &StaticSignalProvider{
		signals: make(map[int64][]types.Signal, len(schedule)),
		days:    nil,
	}

	for _, date := range keys {
		day := types.TruncateToDay(date)
		key := day.Unix()

		if _, ok := provider.signals[key]; !ok {
			provider.days = append(provider.days, day)
		}

		provider.signals[key] = append(provider.signals[key], schedule[date]...)
	}

	return provider
}

// GetSignals implements SignalProvider. Days without signals return an empty slice.
func (p *StaticSignalProvider) GetSignals(date time.Time) ([]types.Signal, error) {
	signals := p.signals[types.TruncateToDay(date).Unix()]

	result := make([]types.Signal, len(signals))
	copy(result, signals)

	return result, nil
}

// Days returns the days that carry at least one signal, ascending.
func (p *StaticSignalProvider) Days() []time.Time {
	result := make([]time.Time, len(p.days))
	copy(result, p.days)

	return result
}

// Len returns the total number of signals in the schedule.
func (p *StaticSignalProvider) Len() int {
	total := 0
	for _, signals := range p.signals {
		total += len(signals)
	}

	return total
}
