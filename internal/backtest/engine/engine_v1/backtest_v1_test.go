package engine

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	engine_types "github.com/rxtech-lab/argo-backtest/internal/backtest/engine"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/cost_model"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/strategy"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/mocks"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// sellCostModel charges an absurd cost on sells so that proceeds turn cash negative.
type sellCostModel struct {
	cost_model.CostModel
}

func (m sellCostModel) Calculate(order cost_model.Order) (types.Costs, error) {
	if order.Side == types.SideSell {
		return types.Costs{TotalCost: 1e12}, nil
	}

	return m.CostModel.Calculate(order)
}

func testRequest(t *testing.T, signals strategy.SignalProvider, bars []types.OHLCV) engine_types.RunRequest {
	t.Helper()

	dateRange, err := types.NewDateRange(simDay(0), simDay(30))
	require.NoError(t, err)

	return engine_types.RunRequest{
		Signals:        signals,
		Prices:         datasource.NewInMemoryPriceProvider(bars),
		CostModel:      cost_model.NewZeroCostModel(),
		Range:          dateRange,
		InitialCapital: 10_000,
		Sink:           optional.None[engine_types.PersistenceSink](),
	}
}

func risingBars(ticker string, days int) []types.OHLCV {
	bars := make([]types.OHLCV, 0, days)
	for d := 0; d < days; d++ {
		bars = append(bars, flatBar(ticker, d, float64(100+d), 1_000))
	}

	return bars
}

func TestBacktestEngineV1_Run(t *testing.T) {
	t.Run("Buy, hold and sell through a full run", func(t *testing.T) {
		signals := strategy.NewStaticSignalProvider(map[time.Time][]types.Signal{
			simDay(0): {buySignal("A", 10)},
			simDay(9): {sellSignal("A", optional.None[int64]())},
		})

		bt := NewBacktestEngineV1(logger.NewNopLogger())
		assert.Equal(t, "engine_v1", bt.Name())

		result, err := bt.Run(context.Background(), testRequest(t, signals, risingBars("A", 10)))
		require.NoError(t, err)

		require.Len(t, result.EquityCurve, 10)
		require.Len(t, result.TradeLog, 2)
		assert.Equal(t, 10_000.0, result.EquityCurve[0].TotalEquity)
		assert.Equal(t, 10_090.0, result.FinalEquity())
		assert.Equal(t, 90.0, result.TradeLog[1].RealizedPnL)
		assert.Equal(t, 10, result.Summary.TradingDays)
		assert.Equal(t, 2, result.Metrics.TotalTrades)
		assert.Equal(t, 1.0, result.Metrics.WinRate.Unwrap())
		assert.InDelta(t, 0.009, result.Metrics.TotalReturn.Unwrap(), 1e-12)
	})

	t.Run("Identical requests produce identical results", func(t *testing.T) {
		bars := mocks.NewDataGenerator(3).GenerateMultiTicker([]string{"A", "B"}, mocks.GeneratorConfig{
			Region: "KR", StartDate: simDay(0), Count: 20, InitialPrice: 100, Volatility: 0.02,
			VolumeBase: 10_000, VolumeVariance: 0.2,
		})

		signals := strategy.NewStaticSignalProvider(map[time.Time][]types.Signal{
			simDay(1):  {buySignal("A", 20), buySignal("B", 20)},
			simDay(10): {sellSignal("A", optional.Some[int64](5))},
			simDay(15): {sellSignal("B", optional.None[int64]())},
		})

		model, err := cost_model.NewCostModelByName("standard")
		require.NoError(t, err)

		req := testRequest(t, signals, bars)
		req.CostModel = model

		bt := NewBacktestEngineV1(nil)

		first, err := bt.Run(context.Background(), req)
		require.NoError(t, err)

		second, err := bt.Run(context.Background(), req)
		require.NoError(t, err)

		assert.Equal(t, first.TradeLog, second.TradeLog)
		assert.Equal(t, first.EquityCurve, second.EquityCurve)
		assert.Equal(t, first.Metrics, second.Metrics)
		assert.NotEmpty(t, first.TradeLog)
	})

	t.Run("Cancelled context never starts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NewBacktestEngineV1(nil).Run(ctx, testRequest(t, strategy.NewStaticSignalProvider(nil), risingBars("A", 3)))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Invalid request", func(t *testing.T) {
		req := testRequest(t, strategy.NewStaticSignalProvider(nil), risingBars("A", 3))
		req.CostModel = nil

		_, err := NewBacktestEngineV1(nil).Run(context.Background(), req)
		assert.True(t, errors.HasCode(err, errors.ErrCodeBacktestNoCostModel))
	})

	t.Run("Non-finite capital is rejected before the run", func(t *testing.T) {
		for _, capital := range []float64{math.NaN(), math.Inf(1)} {
			req := testRequest(t, strategy.NewStaticSignalProvider(nil), risingBars("A", 3))
			req.InitialCapital = capital

			var err error
			require.NotPanics(t, func() {
				_, err = NewBacktestEngineV1(nil).Run(context.Background(), req)
			})
			assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidParameter))
		}
	})

	t.Run("Bar with a NaN open is a data gap for open session orders", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		broken := flatBar("A", 0, 100, 1_000)
		broken.Open = math.NaN()

		prices := mocks.NewMockPriceProvider(ctrl)
		prices.EXPECT().TradingDays(gomock.Any()).Return([]time.Time{simDay(0)})
		prices.EXPECT().GetOHLCV("A", "KR", simDay(0)).Return(optional.Some(broken)).AnyTimes()
		prices.EXPECT().PreviousBars(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

		signal := buySignal("A", 1)
		signal.TimeOfDay = types.TimeOfDayOpen

		req := testRequest(t, strategy.NewStaticSignalProvider(map[time.Time][]types.Signal{
			simDay(0): {signal},
		}), nil)
		req.Prices = prices

		var result engine_types.RunResult
		var err error
		require.NotPanics(t, func() {
			result, err = NewBacktestEngineV1(nil).Run(context.Background(), req)
		})
		require.NoError(t, err)

		assert.Empty(t, result.TradeLog)
		assert.Equal(t, map[string]int{"market_data_missing": 1}, result.Summary.RejectedByReason)
		assert.Equal(t, 1, result.Summary.DataGaps)
		require.Len(t, result.EquityCurve, 1)
		assert.Equal(t, 10_000.0, result.EquityCurve[0].TotalEquity)
	})

	t.Run("Signal errors are recorded and the day is still valued", func(t *testing.T) {
		signals := strategy.SignalProviderFunc(func(date time.Time) ([]types.Signal, error) {
			if date.Equal(simDay(1)) {
				return nil, fmt.Errorf("model unavailable")
			}

			return nil, nil
		})

		result, err := NewBacktestEngineV1(nil).Run(context.Background(), testRequest(t, signals, risingBars("A", 3)))
		require.NoError(t, err)

		assert.Len(t, result.EquityCurve, 3)
		require.Len(t, result.Events, 1)
		assert.Equal(t, types.EventCodeSignalError, result.Events[0].Code)
		assert.Equal(t, simDay(1), result.Events[0].Date)
	})

	t.Run("Invariant violation aborts naming the day", func(t *testing.T) {
		signals := strategy.NewStaticSignalProvider(map[time.Time][]types.Signal{
			simDay(0): {buySignal("A", 1)},
			simDay(2): {sellSignal("A", optional.None[int64]())},
		})

		req := testRequest(t, signals, risingBars("A", 5))
		req.CostModel = sellCostModel{CostModel: cost_model.NewZeroCostModel()}

		var endErr error

		onEnd := engine_types.OnRunEndCallback(func(runID string, err error) {
			endErr = err
		})
		req.Callbacks.OnRunEnd = &onEnd

		_, err := NewBacktestEngineV1(nil).Run(context.Background(), req)
		require.Error(t, err)
		assert.True(t, errors.IsEngineInvariantViolation(err))
		assert.Contains(t, err.Error(), "2024-01-03")
		assert.Equal(t, err, endErr)
	})

	t.Run("Lifecycle callbacks", func(t *testing.T) {
		var (
			startDays int
			progress  []int
			runIDs    []string
		)

		onStart := engine_types.OnRunStartCallback(func(runID string, dateRange types.DateRange, totalDays int) error {
			startDays = totalDays
			runIDs = append(runIDs, runID)

			return nil
		})
		onProcess := engine_types.OnProcessDataCallback(func(current int, total int) error {
			progress = append(progress, current)

			return nil
		})
		onEnd := engine_types.OnRunEndCallback(func(runID string, err error) {
			runIDs = append(runIDs, runID)
		})

		req := testRequest(t, strategy.NewStaticSignalProvider(nil), risingBars("A", 4))
		req.Callbacks = engine_types.LifecycleCallbacks{OnRunStart: &onStart, OnProcessData: &onProcess, OnRunEnd: &onEnd}

		_, err := NewBacktestEngineV1(nil).Run(context.Background(), req)
		require.NoError(t, err)

		assert.Equal(t, 4, startDays)
		assert.Equal(t, []int{1, 2, 3, 4}, progress)
		require.Len(t, runIDs, 2)
		assert.Equal(t, runIDs[0], runIDs[1])
	})

	t.Run("Progress callback can abort", func(t *testing.T) {
		onProcess := engine_types.OnProcessDataCallback(func(current int, total int) error {
			if current == 2 {
				return fmt.Errorf("stop")
			}

			return nil
		})

		req := testRequest(t, strategy.NewStaticSignalProvider(nil), risingBars("A", 4))
		req.Callbacks.OnProcessData = &onProcess

		_, err := NewBacktestEngineV1(nil).Run(context.Background(), req)
		assert.True(t, errors.HasCode(err, errors.ErrCodeCallbackFailed))
	})

	t.Run("Sink receives metrics once", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		sink := mocks.NewMockPersistenceSink(ctrl)
		sink.EXPECT().AppendEquityPoint(gomock.Any()).Return(nil).Times(3)
		sink.EXPECT().AppendTrade(gomock.Any()).Return(nil).Times(1)
		sink.EXPECT().SaveMetrics(gomock.Any(), gomock.Any()).DoAndReturn(func(metrics types.Metrics, summary types.RunSummary) error {
			assert.Equal(t, 1, summary.TradesExecuted)
			assert.Equal(t, 3, metrics.Periods)

			return nil
		}).Times(1)

		signals := strategy.NewStaticSignalProvider(map[time.Time][]types.Signal{simDay(0): {buySignal("A", 1)}})

		req := testRequest(t, signals, risingBars("A", 3))
		req.Sink = optional.Some[engine_types.PersistenceSink](sink)

		_, err := NewBacktestEngineV1(nil).Run(context.Background(), req)
		require.NoError(t, err)
	})

	t.Run("DuckDB state as sink", func(t *testing.T) {
		state, err := NewBacktestState(logger.NewNopLogger())
		require.NoError(t, err)
		defer state.Close()
		require.NoError(t, state.Initialize())

		signals := strategy.NewStaticSignalProvider(map[time.Time][]types.Signal{
			simDay(0): {buySignal("A", 10), buySignal("MISSING", 1)},
			simDay(4): {sellSignal("A", optional.None[int64]())},
		})

		req := testRequest(t, signals, risingBars("A", 5))
		req.Sink = optional.Some[engine_types.PersistenceSink](state)

		result, err := NewBacktestEngineV1(nil).Run(context.Background(), req)
		require.NoError(t, err)

		trades, err := state.GetAllTrades()
		require.NoError(t, err)
		assert.Equal(t, result.TradeLog, trades)

		curve, err := state.GetEquityCurve()
		require.NoError(t, err)
		assert.Equal(t, result.EquityCurve, curve)

		events, err := state.GetEvents(optional.None[types.LogLevel]())
		require.NoError(t, err)
		assert.Equal(t, result.Events, events)

		dir := t.TempDir()
		require.NoError(t, state.Write(dir, RunInfo{ID: "run", Strategy: "static", CostProfile: "zero", Range: req.Range}))
		assert.FileExists(t, filepath.Join(dir, MetricsFileName))
	})
}
