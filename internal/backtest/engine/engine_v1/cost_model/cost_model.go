package cost_model

import (
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/internal/utils"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// CostModel computes the transaction costs of a single order.
type CostModel interface {
	// Calculate returns commission, slippage and market impact for the order.
	// Invalid orders are rejected before any computation.
	Calculate(order Order) (types.Costs, error)
	// Profile returns the immutable parameters the model was built from.
	Profile() Profile
}

// Order is the input of a cost calculation.
type Order struct {
	Ticker    string
	Price     float64
	Shares    int64
	Side      types.Side
	TimeOfDay types.TimeOfDay
	// AvgDailyVolume is the average daily traded volume in shares. Unknown or
	// non-positive volume disables market impact.
	AvgDailyVolume optional.Option[float64]
}

// Notional returns price × shares.
func (o Order) Notional() float64 {
	return o.Price * float64(o.Shares)
}

// NewCostModel returns the cost model for a profile. The zero profile maps to ZeroCostModel.
func NewCostModel(profile Profile) CostModel {
	if profile.Name == ProfileZero {
		return NewZeroCostModel()
	}

	return NewStandardCostModel(profile)
}

// NewCostModelByName looks the profile up by name and builds its cost model.
func NewCostModelByName(name string) (CostModel, error) {
	profile, err := ProfileByName(name)
	if err != nil {
		return nil, err
	}

	return NewCostModel(profile), nil
}

func validateOrder(order Order) error {
	if !utils.IsFinite(order.Price) || order.Price <= 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "price must be positive and finite for %s: %v", order.Ticker, order.Price)
	}

	if order.Shares <= 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "shares must be positive for %s: %d", order.Ticker, order.Shares)
	}

	if err := order.Side.Validate(); err != nil {
		return err
	}

	if order.TimeOfDay != "" {
		if err := order.TimeOfDay.Validate(); err != nil {
			return err
		}
	}

	return nil
}
