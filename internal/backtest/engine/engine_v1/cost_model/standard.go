package cost_model

import (
	"math"

	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/shopspring/decimal"
)

var basisPointsDivisor = decimal.NewFromInt(10000)

// StandardCostModel implements CostModel with a proportional commission, time-of-day
// scaled slippage and square-root market impact.
type StandardCostModel struct {
	profile Profile
}

// NewStandardCostModel creates a cost model for the given profile.
func NewStandardCostModel(profile Profile) CostModel {
	return &StandardCostModel{
		profile: profile,
	}
}

// Calculate computes:
//   - commission = notional × commission_rate
//   - slippage = notional × slippage_bps / 10000 × multiplier[time_of_day]
//   - market_impact = coefficient × notional × sqrt(shares / avg_daily_volume),
//     capped at impact_cap_fraction × notional, and 0 when volume is unknown
func (c *StandardCostModel) Calculate(order Order) (types.Costs, error) {
	if err := validateOrder(order); err != nil {
		return types.Costs{}, err
	}

	notional := decimal.NewFromFloat(order.Price).Mul(decimal.NewFromInt(order.Shares))

	commission := notional.Mul(decimal.NewFromFloat(c.profile.CommissionRate))

	multiplier := c.profile.TimeOfDayMultipliers.For(order.TimeOfDay)
	slippage := notional.
		Mul(decimal.NewFromFloat(c.profile.SlippageBps)).
		Div(basisPointsDivisor).
		Mul(decimal.NewFromFloat(multiplier))

	impact := decimal.NewFromFloat(c.marketImpact(order, notional.InexactFloat64()))

	total := commission.Add(slippage).Add(impact)

	return types.Costs{
		Commission:   commission.InexactFloat64(),
		Slippage:     slippage.InexactFloat64(),
		MarketImpact: impact.InexactFloat64(),
		TotalCost:    total.InexactFloat64(),
	}, nil
}

// Profile implements CostModel.
func (c *StandardCostModel) Profile() Profile {
	return c.profile
}

func (c *StandardCostModel) marketImpact(order Order, notional float64) float64 {
	if c.profile.MarketImpactCoefficient == 0 || order.AvgDailyVolume.IsNone() {
		return 0
	}

	volume := order.AvgDailyVolume.Unwrap()
	if volume <= 0 || math.IsNaN(volume) || math.IsInf(volume, 0) {
		return 0
	}

	impact := c.profile.MarketImpactCoefficient * notional * math.Sqrt(float64(order.Shares)/volume)

	return math.Min(impact, c.profile.ImpactCapFraction*notional)
}
