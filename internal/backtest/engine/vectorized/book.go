package vectorized

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/cost_model"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/internal/utils"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

const (
	// cashTolerance absorbs float64 rounding when comparing an order's cost with available cash.
	cashTolerance = 1e-9
	// negativeCashTolerance is how far below zero cash may drift before it counts as a violation.
	negativeCashTolerance = 1e-6
)

type holding struct {
	shares      int64
	averageCost float64
	currency    string
}

// book is a plain float64 ledger. It reproduces the bookkeeping of the event-driven engine without
// sharing any of its code.
type book struct {
	cash     float64
	holdings map[string]*holding
	costs    cost_model.CostModel
	matrix   *matrix

	trades     []types.Trade
	equity     []types.EquityPoint
	rejections []types.RejectedOrder
	events     []types.RunEvent

	lastExecution map[string]float64
	sequence      int
	dataGaps      int
}

func newBook(initialCapital float64, costs cost_model.CostModel, m *matrix) *book {
	return &book{
		cash:          initialCapital,
		holdings:      make(map[string]*holding),
		costs:         costs,
		matrix:        m,
		trades:        nil,
		equity:        nil,
		rejections:    nil,
		events:        nil,
		lastExecution: make(map[string]float64),
		sequence:      0,
		dataGaps:      0,
	}
}

// executeDay runs the signals of day i, sells first.
func (b *book) executeDay(i int, signals []types.Signal) error {
	ordered := make([]types.Signal, len(signals))
	copy(ordered, signals)

	sort.SliceStable(ordered, func(x, y int) bool {
		return ordered[x].Side == types.SideSell && ordered[y].Side != types.SideSell
	})

	for _, signal := range ordered {
		if err := b.execute(i, signal); err != nil {
			return err
		}
	}

	return nil
}

func (b *book) execute(i int, signal types.Signal) error {
	day := b.matrix.days[i]

	if err := signal.Validate(); err != nil {
		b.reject(day, signal, 0, err)

		return nil
	}

	instrument := signal.Instrument()
	session := signal.Session()

	col, ok := b.matrix.columns[instrument.Key()]

	var price float64
	if ok {
		price, ok = col.executionPrice(i, session)
	}

	if !ok {
		b.dataGaps++
		b.event(day, types.LogLevelWarn, types.EventCodeDataGap, signal.Ticker, "no bar on execution day")
		b.reject(day, signal, signal.Shares.TakeOr(0), errors.Newf(errors.ErrCodeMarketDataMissing,
			"no market data for %s on %s", instrument.Key(), day.Format(types.DateLayout)))

		return nil
	}

	var shares optional.Option[int64]

	switch {
	case signal.Shares.IsSome():
		shares = signal.Shares
	case signal.TargetNotional.IsSome():
		shares = optional.Some(utils.SharesForNotional(signal.TargetNotional.Unwrap(), price))
	default:
		shares = optional.None[int64]()
	}

	if shares.IsSome() && shares.Unwrap() == 0 {
		b.event(day, types.LogLevelInfo, types.EventCodeNoOp, signal.Ticker,
			fmt.Sprintf("%s order sized to zero shares", signal.Side))

		return nil
	}

	var err error

	switch signal.Side {
	case types.SideBuy:
		err = b.buy(day, instrument, col, price, shares.Unwrap(), session, col.adv[i])
	case types.SideSell:
		err = b.sell(day, instrument, price, shares, session, col.adv[i])
	}

	if err == nil {
		return nil
	}

	if errors.IsRecoverableTradeError(err) || errors.IsValidationError(err) {
		b.reject(day, signal, shares.TakeOr(0), err)

		return nil
	}

	return err
}

func (b *book) buy(day time.Time, instrument types.Instrument, col *column, price float64, shares int64, session types.TimeOfDay, adv optional.Option[float64]) error {
	costs, err := b.costs.Calculate(cost_model.Order{
		Ticker:         instrument.Ticker,
		Price:          price,
		Shares:         shares,
		Side:           types.SideBuy,
		TimeOfDay:      session,
		AvgDailyVolume: adv,
	})
	if err != nil {
		return err
	}

	if err := checkCosts(instrument, costs); err != nil {
		return err
	}

	notional := price * float64(shares)
	total := notional + costs.TotalCost

	if total > b.cash+cashTolerance {
		return errors.Newf(errors.ErrCodeInsufficientCash, "buying %d %s costs %.2f but only %.2f cash is available",
			shares, instrument.Ticker, total, b.cash)
	}

	b.cash -= total

	key := instrument.Key()
	if h, ok := b.holdings[key]; ok {
		h.averageCost = (h.averageCost*float64(h.shares) + notional) / float64(h.shares+shares)
		h.shares += shares
	} else {
		b.holdings[key] = &holding{shares: shares, averageCost: price, currency: col.currency}
	}

	return b.record(day, instrument, types.SideBuy, session, price, shares, costs, 0)
}

func (b *book) sell(day time.Time, instrument types.Instrument, price float64, requested optional.Option[int64], session types.TimeOfDay, adv optional.Option[float64]) error {
	key := instrument.Key()
	h, held := b.holdings[key]

	shares := requested.TakeOr(0)
	if requested.IsNone() {
		if !held {
			return errors.Newf(errors.ErrCodeNoPosition, "no position in %s", instrument.Ticker)
		}

		shares = h.shares
	}

	// cost validation precedes the holding checks
	costs, err := b.costs.Calculate(cost_model.Order{
		Ticker:         instrument.Ticker,
		Price:          price,
		Shares:         shares,
		Side:           types.SideSell,
		TimeOfDay:      session,
		AvgDailyVolume: adv,
	})
	if err != nil {
		return err
	}

	if !held {
		return errors.Newf(errors.ErrCodeNoPosition, "no position in %s", instrument.Ticker)
	}

	if shares > h.shares {
		return errors.Newf(errors.ErrCodeInsufficientShares, "cannot sell %d %s, only %d held",
			shares, instrument.Ticker, h.shares)
	}

	if err := checkCosts(instrument, costs); err != nil {
		return err
	}

	net := price*float64(shares) - costs.TotalCost
	realized := net - h.averageCost*float64(shares)

	b.cash += net

	h.shares -= shares
	if h.shares == 0 {
		delete(b.holdings, key)
	}

	return b.record(day, instrument, types.SideSell, session, price, shares, costs, realized)
}

func checkCosts(instrument types.Instrument, costs types.Costs) error {
	if !utils.IsFinite(costs.TotalCost) {
		return errors.Newf(errors.ErrCodeInvalidParameter, "costs for %s must be finite: %v", instrument.Ticker, costs.TotalCost)
	}

	return nil
}

func (b *book) record(day time.Time, instrument types.Instrument, side types.Side, session types.TimeOfDay, price float64, shares int64, costs types.Costs, realized float64) error {
	if b.cash < -negativeCashTolerance {
		return b.violation(day, errors.Newf(errors.ErrCodeEngineInvariantViolation, "cash is negative: %f", b.cash))
	}

	b.sequence++

	b.trades = append(b.trades, types.Trade{
		ID:          utils.NewTradeID(b.sequence, day, instrument.Key(), string(side)),
		Ticker:      instrument.Ticker,
		Region:      instrument.Region,
		Side:        side,
		Date:        day,
		TimeOfDay:   session,
		Price:       price,
		Shares:      shares,
		Costs:       costs,
		RealizedPnL: realized,
	})
	b.lastExecution[instrument.Key()] = price

	return nil
}

// mark appends the equity point of day i.
func (b *book) mark(i int) error {
	day := b.matrix.days[i]

	keys := make([]string, 0, len(b.holdings))
	for key := range b.holdings {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	positionsValue := 0.0

	for _, key := range keys {
		h := b.holdings[key]
		positionsValue += b.closePrice(i, key) * float64(h.shares)
	}

	if b.cash < -negativeCashTolerance {
		return b.violation(day, errors.Newf(errors.ErrCodeEngineInvariantViolation, "cash is negative: %f", b.cash))
	}

	b.equity = append(b.equity, types.EquityPoint{
		Date:           day,
		Cash:           b.cash,
		PositionsValue: positionsValue,
		TotalEquity:    b.cash + positionsValue,
	})

	return nil
}

func (b *book) closePrice(i int, key string) float64 {
	day := b.matrix.days[i]

	col, ok := b.matrix.columns[key]
	if ok && !math.IsNaN(col.close[i]) {
		return col.close[i]
	}

	b.dataGaps++

	ticker := key
	if ok {
		ticker = col.instrument.Ticker
	}

	if ok && col.gap[i] {
		b.event(day, types.LogLevelWarn, types.EventCodeDataGap, ticker,
			fmt.Sprintf("missing close, carrying forward %g", col.filledClose[i]))

		return col.filledClose[i]
	}

	price, known := b.lastExecution[key]
	if !known {
		price = b.holdings[key].averageCost
	}

	b.event(day, types.LogLevelWarn, types.EventCodeDataGap, ticker,
		fmt.Sprintf("no close known, using last execution price %g", price))

	return price
}

func (b *book) reject(day time.Time, signal types.Signal, shares int64, cause error) {
	reason := engine.RejectionReason(cause)

	b.rejections = append(b.rejections, types.RejectedOrder{
		Date:    day,
		Ticker:  signal.Ticker,
		Side:    signal.Side,
		Shares:  shares,
		Reason:  reason,
		Message: cause.Error(),
	})

	b.event(day, types.LogLevelWarn, types.EventCodeRejected, signal.Ticker,
		fmt.Sprintf("%s order rejected (%s): %s", signal.Side, reason, cause.Error()))
}

func (b *book) event(day time.Time, level types.LogLevel, code string, ticker string, message string) {
	b.events = append(b.events, types.RunEvent{
		Date:    day,
		Level:   level,
		Code:    code,
		Ticker:  ticker,
		Message: message,
	})
}

func (b *book) violation(day time.Time, cause error) error {
	b.event(day, types.LogLevelError, types.EventCodeInvariantCheck, "", cause.Error())

	return errors.Wrapf(errors.ErrCodeEngineInvariantViolation, cause, "ledger invariant violated on %s",
		day.Format(types.DateLayout))
}

func (b *book) summary() types.RunSummary {
	byReason := make(map[string]int)
	for _, rejection := range b.rejections {
		byReason[rejection.Reason]++
	}

	return types.RunSummary{
		TradingDays:      len(b.equity),
		TradesExecuted:   len(b.trades),
		Rejected:         len(b.rejections),
		RejectedByReason: byReason,
		DataGaps:         b.dataGaps,
	}
}
