package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/analyzer"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"go.uber.org/zap"
)

// Name is the identifier of the event-driven engine.
const Name = "engine_v1"

// BacktestEngineV1 is the event-driven engine. It walks the trading days of a run one at a time,
// feeding each day's signals through a fresh PortfolioSimulator. It keeps no state between runs,
// so one instance may serve concurrent runs.
type BacktestEngineV1 struct {
	log *logger.Logger
}

func NewBacktestEngineV1(log *logger.Logger) engine.Engine {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &BacktestEngineV1{
		log: log.Named(Name),
	}
}

// Name implements engine.Engine.
func (b *BacktestEngineV1) Name() string {
	return Name
}

// Run implements engine.Engine.
func (b *BacktestEngineV1) Run(ctx context.Context, req engine.RunRequest) (result engine.RunResult, err error) {
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

	b.log.Info("Backtest started",
		zap.String("run_id", runID),
		zap.String("range", req.Range.String()),
		zap.Int("trading_days", len(days)),
		zap.Float64("initial_capital", req.InitialCapital),
		zap.String("cost_profile", string(req.CostModel.Profile().Name)),
	)

	if err := req.Callbacks.InvokeRunStart(runID, req.Range, len(days)); err != nil {
		return engine.RunResult{}, err
	}

	simulator := NewPortfolioSimulator(SimulatorConfig{
		InitialCapital:     req.InitialCapital,
		CostModel:          req.CostModel,
		Prices:             optional.Some[datasource.PriceProvider](req.Prices),
		VolumeLookbackDays: req.LookbackDays(),
		Sink:               req.Sink,
		Logger:             b.log,
	})

	if err := simulator.Start(req.Range.Start); err != nil {
		return engine.RunResult{}, err
	}

	for i, day := range days {
		if err := b.processDay(req, simulator, day); err != nil {
			b.log.Error("Backtest aborted",
				zap.String("run_id", runID),
				zap.String("date", day.Format(types.DateLayout)),
				zap.Error(err),
			)

			return engine.RunResult{}, errors.Wrapf(errors.GetCode(err), err, "run failed on %s", day.Format(types.DateLayout))
		}

		if err := req.Callbacks.InvokeProcessData(i+1, len(days)); err != nil {
			return engine.RunResult{}, err
		}
	}

	summary, err := simulator.Finalize()
	if err != nil {
		return engine.RunResult{}, err
	}

	return b.seal(req, runID, simulator, summary)
}

func (b *BacktestEngineV1) processDay(req engine.RunRequest, simulator *PortfolioSimulator, day time.Time) error {
	signals, err := req.Signals.GetSignals(day)
	if err != nil {
		// a failing signal source skips the day's orders but the portfolio is still valued
		if recordErr := simulator.RecordEvent(types.RunEvent{
			Date:    day,
			Level:   types.LogLevelWarn,
			Code:    types.EventCodeSignalError,
			Message: err.Error(),
		}); recordErr != nil {
			return recordErr
		}

		signals = nil
	}

	if err := simulator.ProcessDay(day, signals); err != nil {
		return err
	}

	if _, err := simulator.MarkToMarket(day); err != nil {
		return err
	}

	return nil
}

func (b *BacktestEngineV1) seal(req engine.RunRequest, runID string, simulator *PortfolioSimulator, summary types.RunSummary) (engine.RunResult, error) {
	curve := simulator.EquityCurve()
	trades := simulator.Trades()

	metrics := analyzer.Analyze(curve, trades, analyzer.Config{RiskFreeRate: req.RiskFreeRate})

	if req.Sink.IsSome() {
		if err := req.Sink.Unwrap().SaveMetrics(metrics, summary); err != nil {
			return engine.RunResult{}, errors.Wrap(errors.ErrCodePersistenceFailed, "failed to persist metrics", err)
		}
	}

	b.log.Info("Backtest finished",
		zap.String("run_id", runID),
		zap.Int("trades", summary.TradesExecuted),
		zap.Int("rejected", summary.Rejected),
		zap.Int("data_gaps", summary.DataGaps),
		zap.Float64("final_equity", metrics.FinalEquity),
	)

	return engine.RunResult{
		EquityCurve: curve,
		TradeLog:    trades,
		Metrics:     metrics,
		Rejections:  simulator.Rejections(),
		Events:      simulator.Events(),
		Summary:     summary,
	}, nil
}
