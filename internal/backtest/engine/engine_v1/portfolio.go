package engine

import (
	"sort"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/internal/utils"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"github.com/shopspring/decimal"
)

// Portfolio is the cash and position ledger of a single run. It is exclusively owned by one
// PortfolioSimulator and never shared between runs.
type Portfolio struct {
	cash        decimal.Decimal
	positions   map[string]*types.Position
	realizedPnL decimal.Decimal
	clock       time.Time
}

// NewPortfolio creates a portfolio holding only cash. The cash must be finite and not negative.
func NewPortfolio(initialCash float64) (*Portfolio, error) {
	if !utils.IsFinite(initialCash) || initialCash < 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "initial cash must be finite and not negative: %v", initialCash)
	}

	return &Portfolio{
		cash:        decimal.NewFromFloat(initialCash),
		positions:   make(map[string]*types.Position),
		realizedPnL: decimal.Zero,
		clock:       time.Time{},
	}, nil
}

// Cash returns the available cash.
func (p *Portfolio) Cash() float64 {
	return p.cash.InexactFloat64()
}

// RealizedPnL returns the accumulated realized profit and loss of all sells.
func (p *Portfolio) RealizedPnL() float64 {
	return p.realizedPnL.InexactFloat64()
}

// Clock returns the date of the last processed instruction.
func (p *Portfolio) Clock() time.Time {
	return p.clock
}

// Position returns a copy of the position in an instrument.
func (p *Portfolio) Position(instrument types.Instrument) optional.Option[types.Position] {
	position, ok := p.positions[instrument.Key()]
	if !ok {
		return optional.None[types.Position]()
	}

	return optional.Some(*position)
}

// Positions returns copies of all open positions ordered by instrument key.
func (p *Portfolio) Positions() []types.Position {
	keys := make([]string, 0, len(p.positions))
	for key := range p.positions {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	positions := make([]types.Position, 0, len(keys))
	for _, key := range keys {
		positions = append(positions, *p.positions[key])
	}

	return positions
}

// applyBuy debits notional plus costs and adds the shares at a weighted-average cost.
// The ledger is untouched when cash is insufficient.
func (p *Portfolio) applyBuy(instrument types.Instrument, currency string, price float64, shares int64, costs types.Costs) error {
	if err := checkFill(instrument, price, costs); err != nil {
		return err
	}

	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(shares))
	total := notional.Add(decimal.NewFromFloat(costs.TotalCost))

	if total.GreaterThan(p.cash) {
		return errors.Newf(errors.ErrCodeInsufficientCash,
			"buying %d %s costs %s but only %s cash is available",
			shares, instrument.Ticker, total.StringFixed(2), p.cash.StringFixed(2))
	}

	p.cash = p.cash.Sub(total)

	position, ok := p.positions[instrument.Key()]
	if !ok {
		p.positions[instrument.Key()] = &types.Position{
			Ticker:      instrument.Ticker,
			Region:      instrument.Region,
			Shares:      shares,
			AverageCost: price,
			Currency:    currency,
		}

		return nil
	}

	heldShares := decimal.NewFromInt(position.Shares)
	costBasis := decimal.NewFromFloat(position.AverageCost).Mul(heldShares).Add(notional)
	totalShares := heldShares.Add(decimal.NewFromInt(shares))

	position.Shares += shares
	position.AverageCost = costBasis.Div(totalShares).InexactFloat64()

	return nil
}

// applySell credits gross proceeds minus costs and reduces the position, removing it at zero shares.
// It returns the realized profit and loss. The ledger is untouched on error.
func (p *Portfolio) applySell(instrument types.Instrument, price float64, shares int64, costs types.Costs) (float64, error) {
	position, ok := p.positions[instrument.Key()]
	if !ok {
		return 0, errors.Newf(errors.ErrCodeNoPosition, "no position in %s", instrument.Ticker)
	}

	if shares > position.Shares {
		return 0, errors.Newf(errors.ErrCodeInsufficientShares,
			"cannot sell %d %s, only %d held", shares, instrument.Ticker, position.Shares)
	}

	if err := checkFill(instrument, price, costs); err != nil {
		return 0, err
	}

	gross := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(shares))
	net := gross.Sub(decimal.NewFromFloat(costs.TotalCost))
	basis := decimal.NewFromFloat(position.AverageCost).Mul(decimal.NewFromInt(shares))
	realized := net.Sub(basis)

	p.cash = p.cash.Add(net)
	p.realizedPnL = p.realizedPnL.Add(realized)

	position.Shares -= shares
	if position.Shares == 0 {
		delete(p.positions, instrument.Key())
	}

	return realized.InexactFloat64(), nil
}

func checkFill(instrument types.Instrument, price float64, costs types.Costs) error {
	if !utils.IsFinite(price) || price <= 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "fill price for %s must be positive and finite: %v", instrument.Ticker, price)
	}

	if !utils.IsFinite(costs.TotalCost) {
		return errors.Newf(errors.ErrCodeInvalidParameter, "costs for %s must be finite: %v", instrument.Ticker, costs.TotalCost)
	}

	return nil
}

// advance moves the clock forward. Dates before the clock are rejected.
func (p *Portfolio) advance(date time.Time) error {
	day := types.TruncateToDay(date)
	if !p.clock.IsZero() && day.Before(p.clock) {
		return errors.Newf(errors.ErrCodeSimulatorState, "date %s precedes simulation clock %s",
			day.Format(types.DateLayout), p.clock.Format(types.DateLayout))
	}

	p.clock = day

	return nil
}

// checkInvariants verifies cash >= 0 and that every position holds a positive number of shares.
func (p *Portfolio) checkInvariants() error {
	if p.cash.IsNegative() {
		return errors.Newf(errors.ErrCodeEngineInvariantViolation, "cash is negative: %s", p.cash.String())
	}

	for key, position := range p.positions {
		if position.Shares <= 0 {
			return errors.Newf(errors.ErrCodeEngineInvariantViolation,
				"position %s holds %d shares", key, position.Shares)
		}
	}

	return nil
}
