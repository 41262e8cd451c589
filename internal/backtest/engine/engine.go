package engine

import (
	"context"
	"fmt"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/cost_model"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-backtest/internal/strategy"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/internal/utils"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// Lifecycle callback types for a single run.
// All callbacks with error return can abort execution if they return an error.

// OnRunStartCallback is called before the first trading day is simulated.
// runID is a unique identifier for this run, generated before processing starts.
type OnRunStartCallback func(runID string, dateRange types.DateRange, totalDays int) error

// OnRunEndCallback is called once the run has been finalized, whether it succeeded or not.
type OnRunEndCallback func(runID string, err error)

// OnProcessDataCallback is called after each trading day is marked to market.
type OnProcessDataCallback func(current int, total int) error

// LifecycleCallbacks holds all lifecycle callback functions for a run.
// All fields are pointers - nil means no callback will be invoked.
type LifecycleCallbacks struct {
	OnRunStart    *OnRunStartCallback
	OnRunEnd      *OnRunEndCallback
	OnProcessData *OnProcessDataCallback
}

// PersistenceSink receives run output at well-defined save points. Its storage format is opaque to the engines.
type PersistenceSink interface {
	// AppendTrade is called once for every executed trade, in execution order.
	AppendTrade(trade types.Trade) error
	// AppendEquityPoint is called once per simulated day after mark-to-market.
	AppendEquityPoint(point types.EquityPoint) error
	// AppendEvent is called for every run-level warning or error.
	AppendEvent(event types.RunEvent) error
	// SaveMetrics is called once after the run has been finalized.
	SaveMetrics(metrics types.Metrics, summary types.RunSummary) error
}

// DefaultVolumeLookbackDays is the number of prior trading days averaged for market impact.
const DefaultVolumeLookbackDays = 20

// RunRequest bundles the inputs of a single run. Prices and signals are read-only and may be
// shared across concurrent runs; the cost model is stateless.
type RunRequest struct {
	Signals        strategy.SignalProvider
	Prices         datasource.PriceProvider
	CostModel      cost_model.CostModel
	Range          types.DateRange
	InitialCapital float64
	// RiskFreeRate is the annual risk-free rate used for Sharpe and Sortino.
	RiskFreeRate float64
	// VolumeLookbackDays defaults to DefaultVolumeLookbackDays when zero.
	VolumeLookbackDays int
	Sink               optional.Option[PersistenceSink]
	Callbacks          LifecycleCallbacks
}

// Validate checks that all collaborators are present and the range is usable.
func (r RunRequest) Validate() error {
	if r.Prices == nil {
		return errors.New(errors.ErrCodeBacktestNoDatasource, "run requires a price provider")
	}

	if r.Signals == nil {
		return errors.New(errors.ErrCodeBacktestNoSignals, "run requires a signal provider")
	}

	if r.CostModel == nil {
		return errors.New(errors.ErrCodeBacktestNoCostModel, "run requires a cost model")
	}

	if !utils.IsFinite(r.InitialCapital) || r.InitialCapital < 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "initial capital must be finite and not negative: %v", r.InitialCapital)
	}

	if !utils.IsFinite(r.RiskFreeRate) {
		return errors.Newf(errors.ErrCodeInvalidParameter, "risk-free rate must be finite: %v", r.RiskFreeRate)
	}

	if r.VolumeLookbackDays < 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "volume lookback must not be negative: %d", r.VolumeLookbackDays)
	}

	return r.Range.Validate()
}

// LookbackDays returns the configured volume lookback or its default.
func (r RunRequest) LookbackDays() int {
	if r.VolumeLookbackDays == 0 {
		return DefaultVolumeLookbackDays
	}

	return r.VolumeLookbackDays
}

// RunResult is the sealed output of a run.
type RunResult struct {
	EquityCurve []types.EquityPoint
	TradeLog    []types.Trade
	Metrics     types.Metrics
	Rejections  []types.RejectedOrder
	Events      []types.RunEvent
	Summary     types.RunSummary
}

// FinalEquity returns the total equity of the last point of the curve, or 0 for an empty curve.
func (r RunResult) FinalEquity() float64 {
	if len(r.EquityCurve) == 0 {
		return 0
	}

	return r.EquityCurve[len(r.EquityCurve)-1].TotalEquity
}

// Engine simulates a portfolio over a date range. Implementations must be deterministic:
// identical requests produce identical trade logs and equity curves.
type Engine interface {
	// Name identifies the implementation in logs and reports.
	Name() string
	// Run simulates the request from start to end. The context is checked before the run starts;
	// a run is never interrupted between days.
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}

// InvokeRunStart calls the OnRunStart callback if it is set.
func (c LifecycleCallbacks) InvokeRunStart(runID string, dateRange types.DateRange, totalDays int) error {
	if c.OnRunStart == nil {
		return nil
	}

	if err := (*c.OnRunStart)(runID, dateRange, totalDays); err != nil {
		return errors.Wrap(errors.ErrCodeCallbackFailed, "run start callback failed", err)
	}

	return nil
}

// InvokeProcessData calls the OnProcessData callback if it is set.
func (c LifecycleCallbacks) InvokeProcessData(current int, total int) error {
	if c.OnProcessData == nil {
		return nil
	}

	if err := (*c.OnProcessData)(current, total); err != nil {
		return errors.Wrap(errors.ErrCodeCallbackFailed, "process data callback failed", err)
	}

	return nil
}

// InvokeRunEnd calls the OnRunEnd callback if it is set.
func (c LifecycleCallbacks) InvokeRunEnd(runID string, err error) {
	if c.OnRunEnd == nil {
		return
	}

	(*c.OnRunEnd)(runID, err)
}

// RejectionReason maps an order error to the reason recorded in the run summary.
func RejectionReason(err error) string {
	switch errors.GetCode(err) {
	case errors.ErrCodeInsufficientCash:
		return "insufficient_cash"
	case errors.ErrCodeNoPosition:
		return "no_position"
	case errors.ErrCodeInsufficientShares:
		return "insufficient_shares"
	case errors.ErrCodeMarketDataMissing:
		return "market_data_missing"
	case errors.ErrCodeInvalidSignal, errors.ErrCodeInvalidSide, errors.ErrCodeInvalidTimeOfDay:
		return "invalid_signal"
	case errors.ErrCodeInvalidParameter:
		return "invalid_order"
	default:
		code := errors.GetCode(err)

		return fmt.Sprintf("%s_%d", code.Category(), code)
	}
}
