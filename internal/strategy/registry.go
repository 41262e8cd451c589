package strategy

import (
	"sort"
	"sync"

	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// Names of the built-in strategies.
const (
	BuyAndHoldName   = "buy_and_hold"
	SMACrossoverName = "sma_crossover"
	SignalFileName   = "file"
)

// FactoryContext carries everything a strategy needs to build its signal schedule for one run.
type FactoryContext struct {
	Params types.ParameterSet
	Prices datasource.PriceProvider
	// Range is the date range of the run the provider is built for.
	Range types.DateRange
	// SignalFile is the YAML signal file used by the file strategy.
	SignalFile string
}

// Factory builds a signal provider for a run.
type Factory func(ctx FactoryContext) (SignalProvider, error)

// Registry manages the available strategies by name.
type Registry interface {
	Register(name string, factory Factory) error
	Get(name string) (Factory, error)
	List() []string
}

// RegistryV1 is the default Registry implementation.
type RegistryV1 struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *RegistryV1 {
	return &RegistryV1{
		factories: make(map[string]Factory),
		mu:        sync.RWMutex{},
	}
}

// NewDefaultRegistry creates a registry holding the built-in strategies.
func NewDefaultRegistry() *RegistryV1 {
	registry := NewRegistry()

	// names are unique, registration cannot fail
	_ = registry.Register(BuyAndHoldName, NewBuyAndHold)
	_ = registry.Register(SMACrossoverName, NewSMACrossover)
	_ = registry.Register(SignalFileName, NewSignalFileStrategy)

	return registry
}

// Register adds a strategy to the registry.
func (r *RegistryV1) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if factory == nil {
		return errors.Newf(errors.ErrCodeInvalidParameter, "strategy %s has no factory", name)
	}

	if _, exists := r.factories[name]; exists {
		return errors.Newf(errors.ErrCodeInvalidParameter, "strategy %s already registered", name)
	}

	r.factories[name] = factory

	return nil
}

// Get retrieves a strategy factory by name.
func (r *RegistryV1) Get(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[name]
	if !exists {
		return nil, errors.Newf(errors.ErrCodeStrategyNotFound, "strategy %s not found", name)
	}

	return factory, nil
}

// List returns the registered strategy names in alphabetical order.
func (r *RegistryV1) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
