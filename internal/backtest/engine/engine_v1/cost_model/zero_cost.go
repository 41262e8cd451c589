package cost_model

import "github.com/rxtech-lab/argo-backtest/internal/types"

// ZeroCostModel implements CostModel with no costs at all. It isolates strategy
// alpha from cost drag.
type ZeroCostModel struct{}

// NewZeroCostModel creates a new zero cost model.
func NewZeroCostModel() CostModel {
	return &ZeroCostModel{}
}

// Calculate validates the order and returns zero costs.
func (c *ZeroCostModel) Calculate(order Order) (types.Costs, error) {
	if err := validateOrder(order); err != nil {
		return types.Costs{}, err
	}

	return types.Costs{}, nil
}

// Profile returns the zero profile.
func (c *ZeroCostModel) Profile() Profile {
	return zeroProfile()
}
