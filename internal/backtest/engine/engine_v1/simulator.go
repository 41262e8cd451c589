package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/cost_model"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/internal/utils"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SimulatorState is the lifecycle state of a PortfolioSimulator.
type SimulatorState int

const (
	StateUninitialized SimulatorState = iota
	StateRunning
	StateFinalized
)

// String implements fmt.Stringer.
func (s SimulatorState) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateRunning:
		return "RUNNING"
	case StateFinalized:
		return "FINALIZED"
	default:
		return fmt.Sprintf("SimulatorState(%d)", int(s))
	}
}

// SimulatorConfig holds the collaborators of a simulator.
type SimulatorConfig struct {
	InitialCapital float64
	CostModel      cost_model.CostModel
	// Prices is required by ProcessDay and used by MarkToMarket. Direct Buy and Sell calls work without it.
	Prices             optional.Option[datasource.PriceProvider]
	VolumeLookbackDays int
	Sink               optional.Option[engine.PersistenceSink]
	Logger             *logger.Logger
}

// BuyOrder is a buy instruction at a known price.
type BuyOrder struct {
	Ticker    string
	Region    string
	Currency  string
	Date      time.Time
	Price     float64
	Shares    int64
	TimeOfDay types.TimeOfDay
	// AvgDailyVolume feeds the market impact term of the cost model.
	AvgDailyVolume optional.Option[float64]
}

// SellOrder is a sell instruction at a known price. None shares sells the full position.
type SellOrder struct {
	Ticker         string
	Region         string
	Date           time.Time
	Price          float64
	Shares         optional.Option[int64]
	TimeOfDay      types.TimeOfDay
	AvgDailyVolume optional.Option[float64]
}

// PortfolioSimulator advances a Portfolio through trading days, executing orders through a CostModel
// and recording the trade log and equity curve. It is strictly sequential and must not be shared
// between goroutines.
//
// States: UNINITIALIZED → RUNNING → FINALIZED. Only a RUNNING simulator accepts mutations.
type PortfolioSimulator struct {
	state     SimulatorState
	portfolio *Portfolio
	costModel cost_model.CostModel
	prices    optional.Option[datasource.PriceProvider]
	lookback  int
	sink      optional.Option[engine.PersistenceSink]
	log       *logger.Logger

	trades     []types.Trade
	equity     []types.EquityPoint
	rejections []types.RejectedOrder
	events     []types.RunEvent

	// last price each instrument traded at, used when no close is known at all
	lastExecution map[string]float64
	sequence      int
	dataGaps      int
	// configuration error surfaced by Start
	initErr error
}

// NewPortfolioSimulator creates an UNINITIALIZED simulator.
func NewPortfolioSimulator(config SimulatorConfig) *PortfolioSimulator {
	lookback := config.VolumeLookbackDays
	if lookback == 0 {
		lookback = engine.DefaultVolumeLookbackDays
	}

	log := config.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	portfolio, err := NewPortfolio(config.InitialCapital)
	if err != nil {
		portfolio, _ = NewPortfolio(0)
	}

	return &PortfolioSimulator{
		state:         StateUninitialized,
		portfolio:     portfolio,
		costModel:     config.CostModel,
		prices:        config.Prices,
		lookback:      lookback,
		sink:          config.Sink,
		log:           log,
		trades:        nil,
		equity:        nil,
		rejections:    nil,
		events:        nil,
		lastExecution: make(map[string]float64),
		sequence:      0,
		dataGaps:      0,
		initErr:       err,
	}
}

// State returns the lifecycle state.
func (s *PortfolioSimulator) State() SimulatorState {
	return s.state
}

// Portfolio returns the ledger. Callers must not mutate it.
func (s *PortfolioSimulator) Portfolio() *Portfolio {
	return s.portfolio
}

// Start moves the simulator to RUNNING and sets the clock.
func (s *PortfolioSimulator) Start(date time.Time) error {
	if s.state != StateUninitialized {
		return s.stateError("start")
	}

	if s.initErr != nil {
		return s.initErr
	}

	if s.costModel == nil {
		return errors.New(errors.ErrCodeBacktestNoCostModel, "simulator requires a cost model")
	}

	if err := s.portfolio.advance(date); err != nil {
		return err
	}

	if err := s.portfolio.checkInvariants(); err != nil {
		return s.invariantViolation(date, err)
	}

	s.state = StateRunning

	s.log.Debug("Simulator started",
		zap.Time("date", s.portfolio.clock),
		zap.Float64("cash", s.portfolio.Cash()),
	)

	return nil
}

// Buy executes a buy. A zero-share order is a no-op and returns None.
func (s *PortfolioSimulator) Buy(order BuyOrder) (optional.Option[types.Trade], error) {
	if s.state != StateRunning {
		return optional.None[types.Trade](), s.stateError("buy")
	}

	if order.Shares == 0 {
		return optional.None[types.Trade](), nil
	}

	costs, err := s.costModel.Calculate(cost_model.Order{
		Ticker:         order.Ticker,
		Price:          order.Price,
		Shares:         order.Shares,
		Side:           types.SideBuy,
		TimeOfDay:      order.TimeOfDay,
		AvgDailyVolume: order.AvgDailyVolume,
	})
	if err != nil {
		return optional.None[types.Trade](), err
	}

	if err := s.portfolio.advance(order.Date); err != nil {
		return optional.None[types.Trade](), err
	}

	instrument := types.Instrument{Ticker: order.Ticker, Region: order.Region}
	if err := s.portfolio.applyBuy(instrument, order.Currency, order.Price, order.Shares, costs); err != nil {
		return optional.None[types.Trade](), err
	}

	trade := s.newTrade(instrument, types.SideBuy, order.Date, order.TimeOfDay, order.Price, order.Shares, costs, 0)

	return s.recordTrade(trade)
}

// Sell executes a sell. None shares sells the full position; a zero-share order is a no-op and returns None.
func (s *PortfolioSimulator) Sell(order SellOrder) (optional.Option[types.Trade], error) {
	if s.state != StateRunning {
		return optional.None[types.Trade](), s.stateError("sell")
	}

	instrument := types.Instrument{Ticker: order.Ticker, Region: order.Region}

	shares := order.Shares.TakeOr(0)
	if order.Shares.IsNone() {
		position := s.portfolio.Position(instrument)
		if position.IsNone() {
			return optional.None[types.Trade](), errors.Newf(errors.ErrCodeNoPosition, "no position in %s", order.Ticker)
		}

		shares = position.Unwrap().Shares
	}

	if shares == 0 {
		return optional.None[types.Trade](), nil
	}

	costs, err := s.costModel.Calculate(cost_model.Order{
		Ticker:         order.Ticker,
		Price:          order.Price,
		Shares:         shares,
		Side:           types.SideSell,
		TimeOfDay:      order.TimeOfDay,
		AvgDailyVolume: order.AvgDailyVolume,
	})
	if err != nil {
		return optional.None[types.Trade](), err
	}

	if err := s.portfolio.advance(order.Date); err != nil {
		return optional.None[types.Trade](), err
	}

	realized, err := s.portfolio.applySell(instrument, order.Price, shares, costs)
	if err != nil {
		return optional.None[types.Trade](), err
	}

	trade := s.newTrade(instrument, types.SideSell, order.Date, order.TimeOfDay, order.Price, shares, costs, realized)

	return s.recordTrade(trade)
}

// ProcessDay executes the signals of one trading day. Sells run before buys, each group in signal order.
// Rejected orders are recorded and the day continues; only invariant violations and persistence failures
// are returned.
func (s *PortfolioSimulator) ProcessDay(date time.Time, signals []types.Signal) error {
	if s.state != StateRunning {
		return s.stateError("process day")
	}

	if s.prices.IsNone() {
		return errors.New(errors.ErrCodeBacktestNoDatasource, "processing a day requires a price provider")
	}

	day := types.TruncateToDay(date)
	if err := s.portfolio.advance(day); err != nil {
		return err
	}

	ordered := make([]types.Signal, len(signals))
	copy(ordered, signals)

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Side == types.SideSell && ordered[j].Side != types.SideSell
	})

	for _, signal := range ordered {
		if err := s.executeSignal(day, signal); err != nil {
			return err
		}
	}

	return nil
}

// MarkToMarket values every position at its close and appends the day's equity point. A missing close
// falls back to the last known close and is recorded as a data gap.
func (s *PortfolioSimulator) MarkToMarket(date time.Time) (types.EquityPoint, error) {
	if s.state != StateRunning {
		return types.EquityPoint{}, s.stateError("mark to market")
	}

	day := types.TruncateToDay(date)
	if err := s.portfolio.advance(day); err != nil {
		return types.EquityPoint{}, err
	}

	positionsValue := decimal.Zero

	for _, position := range s.portfolio.Positions() {
		price, err := s.closePrice(day, position)
		if err != nil {
			return types.EquityPoint{}, err
		}

		positionsValue = positionsValue.Add(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(position.Shares)))
	}

	point := types.EquityPoint{
		Date:           day,
		Cash:           s.portfolio.Cash(),
		PositionsValue: positionsValue.InexactFloat64(),
		TotalEquity:    s.portfolio.cash.Add(positionsValue).InexactFloat64(),
	}

	if err := s.portfolio.checkInvariants(); err != nil {
		return types.EquityPoint{}, s.invariantViolation(day, err)
	}

	s.equity = append(s.equity, point)

	if s.sink.IsSome() {
		if err := s.sink.Unwrap().AppendEquityPoint(point); err != nil {
			return types.EquityPoint{}, errors.Wrap(errors.ErrCodePersistenceFailed, "failed to persist equity point", err)
		}
	}

	return point, nil
}

// Finalize seals the run. No mutation is permitted afterwards.
func (s *PortfolioSimulator) Finalize() (types.RunSummary, error) {
	if s.state != StateRunning {
		return types.RunSummary{}, s.stateError("finalize")
	}

	s.state = StateFinalized

	summary := s.Summary()

	s.log.Info("Simulation finalized",
		zap.Int("trading_days", summary.TradingDays),
		zap.Int("trades", summary.TradesExecuted),
		zap.Int("rejected", summary.Rejected),
		zap.Int("data_gaps", summary.DataGaps),
		zap.Float64("cash", s.portfolio.Cash()),
	)

	return summary, nil
}

// Summary returns the counters of the run so far.
func (s *PortfolioSimulator) Summary() types.RunSummary {
	byReason := make(map[string]int)
	for _, rejection := range s.rejections {
		byReason[rejection.Reason]++
	}

	return types.RunSummary{
		TradingDays:      len(s.equity),
		TradesExecuted:   len(s.trades),
		Rejected:         len(s.rejections),
		RejectedByReason: byReason,
		DataGaps:         s.dataGaps,
	}
}

// Trades returns a copy of the trade log.
func (s *PortfolioSimulator) Trades() []types.Trade {
	return append([]types.Trade(nil), s.trades...)
}

// EquityCurve returns a copy of the equity curve.
func (s *PortfolioSimulator) EquityCurve() []types.EquityPoint {
	return append([]types.EquityPoint(nil), s.equity...)
}

// Rejections returns a copy of the rejected orders.
func (s *PortfolioSimulator) Rejections() []types.RejectedOrder {
	return append([]types.RejectedOrder(nil), s.rejections...)
}

// Events returns a copy of the run log.
func (s *PortfolioSimulator) Events() []types.RunEvent {
	return append([]types.RunEvent(nil), s.events...)
}

// RecordEvent appends an entry to the run log.
func (s *PortfolioSimulator) RecordEvent(event types.RunEvent) error {
	s.events = append(s.events, event)

	fields := []zap.Field{
		zap.String("code", event.Code),
		zap.String("ticker", event.Ticker),
		zap.String("date", event.Date.Format(types.DateLayout)),
	}

	switch event.Level {
	case types.LogLevelError:
		s.log.Error(event.Message, fields...)
	case types.LogLevelWarn:
		s.log.Warn(event.Message, fields...)
	default:
		s.log.Debug(event.Message, fields...)
	}

	if s.sink.IsSome() {
		if err := s.sink.Unwrap().AppendEvent(event); err != nil {
			return errors.Wrap(errors.ErrCodePersistenceFailed, "failed to persist run event", err)
		}
	}

	return nil
}

func (s *PortfolioSimulator) executeSignal(day time.Time, signal types.Signal) error {
	if err := signal.Validate(); err != nil {
		return s.reject(day, signal, 0, err)
	}

	prices := s.prices.Unwrap()
	instrument := signal.Instrument()
	session := signal.Session()

	bar, message := usableBar(prices, signal.Ticker, signal.Region, day)
	if bar.IsNone() {
		s.dataGaps++

		if err := s.RecordEvent(types.RunEvent{
			Date:    day,
			Level:   types.LogLevelWarn,
			Code:    types.EventCodeDataGap,
			Ticker:  signal.Ticker,
			Message: message,
		}); err != nil {
			return err
		}

		return s.reject(day, signal, signal.Shares.TakeOr(0), errors.Newf(errors.ErrCodeMarketDataMissing,
			"no usable market data for %s on %s", instrument.Key(), day.Format(types.DateLayout)))
	}

	price := session.ExecutionPrice(bar.Unwrap())
	volume := datasource.AverageDailyVolume(prices, signal.Ticker, signal.Region, day, s.lookback)

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
		return s.RecordEvent(types.RunEvent{
			Date:    day,
			Level:   types.LogLevelInfo,
			Code:    types.EventCodeNoOp,
			Ticker:  signal.Ticker,
			Message: fmt.Sprintf("%s order sized to zero shares", signal.Side),
		})
	}

	var err error

	switch signal.Side {
	case types.SideBuy:
		_, err = s.Buy(BuyOrder{
			Ticker:         signal.Ticker,
			Region:         signal.Region,
			Currency:       bar.Unwrap().Currency,
			Date:           day,
			Price:          price,
			Shares:         shares.Unwrap(),
			TimeOfDay:      session,
			AvgDailyVolume: volume,
		})
	case types.SideSell:
		_, err = s.Sell(SellOrder{
			Ticker:         signal.Ticker,
			Region:         signal.Region,
			Date:           day,
			Price:          price,
			Shares:         shares,
			TimeOfDay:      session,
			AvgDailyVolume: volume,
		})
	}

	if err == nil {
		return nil
	}

	if errors.IsRecoverableTradeError(err) || errors.IsValidationError(err) {
		return s.reject(day, signal, shares.TakeOr(0), err)
	}

	return err
}

func (s *PortfolioSimulator) reject(day time.Time, signal types.Signal, shares int64, cause error) error {
	reason := engine.RejectionReason(cause)

	s.rejections = append(s.rejections, types.RejectedOrder{
		Date:    day,
		Ticker:  signal.Ticker,
		Side:    signal.Side,
		Shares:  shares,
		Reason:  reason,
		Message: cause.Error(),
	})

	return s.RecordEvent(types.RunEvent{
		Date:    day,
		Level:   types.LogLevelWarn,
		Code:    types.EventCodeRejected,
		Ticker:  signal.Ticker,
		Message: fmt.Sprintf("%s order rejected (%s): %s", signal.Side, reason, cause.Error()),
	})
}

func (s *PortfolioSimulator) closePrice(day time.Time, position types.Position) (float64, error) {
	key := types.Instrument{Ticker: position.Ticker, Region: position.Region}.Key()

	if s.prices.IsSome() {
		prices := s.prices.Unwrap()

		bar, _ := usableBar(prices, position.Ticker, position.Region, day)
		if bar.IsSome() {
			return bar.Unwrap().Close, nil
		}

		s.dataGaps++

		previous := prices.PreviousBars(position.Ticker, position.Region, day, s.lookback)
		for i := len(previous) - 1; i >= 0; i-- {
			if previous[i].Validate() != nil {
				continue
			}

			return previous[i].Close, s.RecordEvent(types.RunEvent{
				Date:   day,
				Level:  types.LogLevelWarn,
				Code:   types.EventCodeDataGap,
				Ticker: position.Ticker,
				Message: fmt.Sprintf("missing close, using last known close %g from %s",
					previous[i].Close, previous[i].Date.Format(types.DateLayout)),
			})
		}
	}

	price, ok := s.lastExecution[key]
	if !ok {
		price = position.AverageCost
	}

	if s.prices.IsNone() {
		return price, nil
	}

	return price, s.RecordEvent(types.RunEvent{
		Date:    day,
		Level:   types.LogLevelWarn,
		Code:    types.EventCodeDataGap,
		Ticker:  position.Ticker,
		Message: fmt.Sprintf("no close known, using last execution price %g", price),
	})
}

// usableBar returns the bar of day when it exists and every price in it is finite and positive.
// The message describes why the bar was unusable.
func usableBar(prices datasource.PriceProvider, ticker, region string, day time.Time) (optional.Option[types.OHLCV], string) {
	bar := prices.GetOHLCV(ticker, region, day)
	if bar.IsNone() {
		return bar, "no bar on execution day"
	}

	if err := bar.Unwrap().Validate(); err != nil {
		return optional.None[types.OHLCV](), fmt.Sprintf("unusable bar on execution day: %v", err)
	}

	return bar, ""
}

func (s *PortfolioSimulator) newTrade(instrument types.Instrument, side types.Side, date time.Time, tod types.TimeOfDay, price float64, shares int64, costs types.Costs, realized float64) types.Trade {
	s.sequence++

	return types.Trade{
		ID:          utils.NewTradeID(s.sequence, date, instrument.Key(), string(side)),
		Ticker:      instrument.Ticker,
		Region:      instrument.Region,
		Side:        side,
		Date:        types.TruncateToDay(date),
		TimeOfDay:   tod,
		Price:       price,
		Shares:      shares,
		Costs:       costs,
		RealizedPnL: realized,
	}
}

func (s *PortfolioSimulator) recordTrade(trade types.Trade) (optional.Option[types.Trade], error) {
	if err := s.portfolio.checkInvariants(); err != nil {
		return optional.None[types.Trade](), s.invariantViolation(trade.Date, err)
	}

	s.trades = append(s.trades, trade)
	s.lastExecution[types.Instrument{Ticker: trade.Ticker, Region: trade.Region}.Key()] = trade.Price

	s.log.Debug("Trade executed",
		zap.String("id", trade.ID),
		zap.String("ticker", trade.Ticker),
		zap.String("side", string(trade.Side)),
		zap.Int64("shares", trade.Shares),
		zap.Float64("price", trade.Price),
		zap.Float64("total_cost", trade.TotalCost),
	)

	if s.sink.IsSome() {
		if err := s.sink.Unwrap().AppendTrade(trade); err != nil {
			return optional.None[types.Trade](), errors.Wrap(errors.ErrCodePersistenceFailed, "failed to persist trade", err)
		}
	}

	return optional.Some(trade), nil
}

func (s *PortfolioSimulator) invariantViolation(date time.Time, cause error) error {
	day := types.TruncateToDay(date).Format(types.DateLayout)

	// the run is aborted regardless of whether the event can be persisted
	_ = s.RecordEvent(types.RunEvent{
		Date:    types.TruncateToDay(date),
		Level:   types.LogLevelError,
		Code:    types.EventCodeInvariantCheck,
		Message: cause.Error(),
	})

	return errors.Wrapf(errors.ErrCodeEngineInvariantViolation, cause, "ledger invariant violated on %s", day)
}

func (s *PortfolioSimulator) stateError(operation string) error {
	return errors.Newf(errors.ErrCodeSimulatorState, "cannot %s while simulator is %s", operation, s.state)
}
