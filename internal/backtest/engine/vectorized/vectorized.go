// Package vectorized is the reference engine used to cross-check the event-driven engine.
//
// Prices are precomputed into per-instrument columns aligned to the run's trading days and the
// ledger is kept in plain float64 arithmetic. Results may differ from engine_v1 only by rounding.
package vectorized

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rxtech-lab/argo-backtest/internal/analyzer"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/strategy"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Name is the identifier of the vectorized engine.
const Name = "vectorized"

type VectorizedEngine struct {
	log *logger.Logger
}

func NewVectorizedEngine(log *logger.Logger) engine.Engine {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &VectorizedEngine{
		log: log.Named(Name),
	}
}

// Name implements engine.Engine.
func (v *VectorizedEngine) Name() string {
	return Name
}

// daySignals is the output of one GetSignals call.
type daySignals struct {
	signals []types.Signal
	err     error
}

// Run implements engine.Engine.
func (v *VectorizedEngine) Run(ctx context.Context, req engine.RunRequest) (result engine.RunResult, err error) {
	if err := ctx.Err(); err != nil {
		return engine.RunResult{}, err
	}

	if err := req.Validate(); err != nil {
		return engine.RunResult{}, err
	}

	runID := uuid.New().String()

	defer func() {
		req.Callbacks.InvokeRunEnd(runID, err)
	}()

	days := req.Prices.TradingDays(req.Range)

	v.log.Info("Vectorized backtest started",
		zap.String("run_id", runID),
		zap.String("range", req.Range.String()),
		zap.Int("trading_days", len(days)),
	)

	if err := req.Callbacks.InvokeRunStart(runID, req.Range, len(days)); err != nil {
		return engine.RunResult{}, err
	}

	m := buildMatrix(req.Prices, days, req.LookbackDays())

	signals, err := collectSignals(ctx, req.Signals, days)
	if err != nil {
		return engine.RunResult{}, err
	}

	b := newBook(req.InitialCapital, req.CostModel, m)

	for i, day := range days {
		if signals[i].err != nil {
			b.event(day, types.LogLevelWarn, types.EventCodeSignalError, "", signals[i].err.Error())
		}

		if err := b.executeDay(i, signals[i].signals); err != nil {
			return engine.RunResult{}, v.abort(runID, day, err)
		}

		if err := b.mark(i); err != nil {
			return engine.RunResult{}, v.abort(runID, day, err)
		}

		if err := req.Callbacks.InvokeProcessData(i+1, len(days)); err != nil {
			return engine.RunResult{}, err
		}
	}

	return v.seal(req, runID, b)
}

// collectSignals queries every day up front. Providers are safe for concurrent use and results are
// stored by day index, so the schedule does not depend on goroutine order.
func collectSignals(ctx context.Context, provider strategy.SignalProvider, days []time.Time) ([]daySignals, error) {
	results := make([]daySignals, len(days))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, day := range days {
		g.Go(func() error {
			signals, err := provider.GetSignals(day)
			results[i] = daySignals{signals: signals, err: err}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (v *VectorizedEngine) abort(runID string, day time.Time, err error) error {
	v.log.Error("Vectorized backtest aborted",
		zap.String("run_id", runID),
		zap.String("date", day.Format(types.DateLayout)),
		zap.Error(err),
	)

	return errors.Wrapf(errors.GetCode(err), err, "run failed on %s", day.Format(types.DateLayout))
}

// seal computes metrics and flushes the run to the sink in one pass.
func (v *VectorizedEngine) seal(req engine.RunRequest, runID string, b *book) (engine.RunResult, error) {
	summary := b.summary()
	metrics := analyzer.Analyze(b.equity, b.trades, analyzer.Config{RiskFreeRate: req.RiskFreeRate})

	if req.Sink.IsSome() {
		if err := flush(req.Sink.Unwrap(), b, metrics, summary); err != nil {
			return engine.RunResult{}, errors.Wrap(errors.ErrCodePersistenceFailed, "failed to persist vectorized run", err)
		}
	}

	v.log.Info("Vectorized backtest finished",
		zap.String("run_id", runID),
		zap.Int("trades", summary.TradesExecuted),
		zap.Int("rejected", summary.Rejected),
		zap.Float64("final_equity", metrics.FinalEquity),
	)

	return engine.RunResult{
		EquityCurve: b.equity,
		TradeLog:    b.trades,
		Metrics:     metrics,
		Rejections:  b.rejections,
		Events:      b.events,
		Summary:     summary,
	}, nil
}

func flush(sink engine.PersistenceSink, b *book, metrics types.Metrics, summary types.RunSummary) error {
	for _, trade := range b.trades {
		if err := sink.AppendTrade(trade); err != nil {
			return err
		}
	}

	for _, point := range b.equity {
		if err := sink.AppendEquityPoint(point); err != nil {
			return err
		}
	}

	for _, event := range b.events {
		if err := sink.AppendEvent(event); err != nil {
			return err
		}
	}

	return sink.SaveMetrics(metrics, summary)
}
