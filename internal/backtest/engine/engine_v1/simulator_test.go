package engine

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/cost_model"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/mocks"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

type SimulatorTestSuite struct {
	suite.Suite
}

func TestSimulatorSuite(t *testing.T) {
	suite.Run(t, new(SimulatorTestSuite))
}

func simDay(d int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

// flatBar has the same open, high, low and close so every session executes at price.
func flatBar(ticker string, d int, price float64, volume float64) types.OHLCV {
	return types.OHLCV{
		Ticker: ticker, Region: "KR", Currency: "KRW", Date: simDay(d),
		Open: price, High: price, Low: price, Close: price, Volume: volume,
	}
}

func buySignal(ticker string, shares int64) types.Signal {
	return types.Signal{Ticker: ticker, Region: "KR", Side: types.SideBuy, Shares: optional.Some(shares)}
}

func sellSignal(ticker string, shares optional.Option[int64]) types.Signal {
	return types.Signal{Ticker: ticker, Region: "KR", Side: types.SideSell, Shares: shares}
}

func (suite *SimulatorTestSuite) newSimulator(capital float64, model cost_model.CostModel, bars ...types.OHLCV) *PortfolioSimulator {
	prices := optional.None[datasource.PriceProvider]()
	if bars != nil {
		prices = optional.Some[datasource.PriceProvider](datasource.NewInMemoryPriceProvider(bars))
	}

	simulator := NewPortfolioSimulator(SimulatorConfig{
		InitialCapital: capital,
		CostModel:      model,
		Prices:         prices,
	})
	suite.Require().NoError(simulator.Start(simDay(0)))

	return simulator
}

func (suite *SimulatorTestSuite) TestBuyThenSellWithZeroCosts() {
	simulator := suite.newSimulator(1_000_000, cost_model.NewZeroCostModel())
	instrument := types.Instrument{Ticker: "A", Region: "KR"}

	trade, err := simulator.Buy(BuyOrder{Ticker: "A", Region: "KR", Date: simDay(0), Price: 1_000, Shares: 100})
	suite.Require().NoError(err)
	suite.True(trade.IsSome())

	suite.Equal(900_000.0, simulator.Portfolio().Cash())
	position := simulator.Portfolio().Position(instrument).Unwrap()
	suite.Equal(int64(100), position.Shares)
	suite.Equal(1_000.0, position.AverageCost)

	trade, err = simulator.Sell(SellOrder{Ticker: "A", Region: "KR", Date: simDay(1), Price: 1_100, Shares: optional.None[int64]()})
	suite.Require().NoError(err)

	suite.Equal(1_010_000.0, simulator.Portfolio().Cash())
	suite.True(simulator.Portfolio().Position(instrument).IsNone())
	suite.Equal(10_000.0, trade.Unwrap().RealizedPnL)
	suite.Equal(int64(100), trade.Unwrap().Shares)
	suite.Len(simulator.Trades(), 2)
}

func (suite *SimulatorTestSuite) TestOverSellLeavesStateUnchanged() {
	simulator := suite.newSimulator(1_000_000, cost_model.NewZeroCostModel())

	_, err := simulator.Buy(BuyOrder{Ticker: "A", Region: "KR", Date: simDay(0), Price: 1_000, Shares: 30})
	suite.Require().NoError(err)

	cash := simulator.Portfolio().Cash()

	_, err = simulator.Sell(SellOrder{Ticker: "A", Region: "KR", Date: simDay(0), Price: 1_000, Shares: optional.Some[int64](50)})
	suite.True(errors.HasCode(err, errors.ErrCodeInsufficientShares))
	suite.True(errors.IsRecoverableTradeError(err))

	suite.Equal(cash, simulator.Portfolio().Cash())
	suite.Equal(int64(30), simulator.Portfolio().Position(types.Instrument{Ticker: "A", Region: "KR"}).Unwrap().Shares)
	suite.Len(simulator.Trades(), 1)
}

func (suite *SimulatorTestSuite) TestStandardCostsAreCharged() {
	model, err := cost_model.NewCostModelByName("standard")
	suite.Require().NoError(err)

	simulator := suite.newSimulator(10_000_000, model)

	trade, err := simulator.Buy(BuyOrder{
		Ticker: "005930", Region: "KR", Date: simDay(0), Price: 70_000, Shares: 100,
		TimeOfDay: types.TimeOfDayRegular, AvgDailyVolume: optional.None[float64](),
	})
	suite.Require().NoError(err)

	costs := trade.Unwrap().Costs
	suite.InDelta(1_050.0, costs.Commission, 1e-9)
	suite.InDelta(3_500.0, costs.Slippage, 1e-9)
	suite.Equal(0.0, costs.MarketImpact)
	suite.InDelta(10_000_000-7_000_000-4_550.0, simulator.Portfolio().Cash(), 1e-6)
}

func (suite *SimulatorTestSuite) TestZeroShareOrdersAreNoOps() {
	simulator := suite.newSimulator(1_000, cost_model.NewZeroCostModel())

	trade, err := simulator.Buy(BuyOrder{Ticker: "A", Date: simDay(0), Price: 10, Shares: 0})
	suite.NoError(err)
	suite.True(trade.IsNone())

	trade, err = simulator.Sell(SellOrder{Ticker: "A", Date: simDay(0), Price: 10, Shares: optional.Some[int64](0)})
	suite.NoError(err)
	suite.True(trade.IsNone())
	suite.Empty(simulator.Trades())
}

func (suite *SimulatorTestSuite) TestStateMachine() {
	simulator := NewPortfolioSimulator(SimulatorConfig{InitialCapital: 100, CostModel: cost_model.NewZeroCostModel()})
	suite.Equal(StateUninitialized, simulator.State())

	_, err := simulator.Buy(BuyOrder{Ticker: "A", Date: simDay(0), Price: 1, Shares: 1})
	suite.True(errors.HasCode(err, errors.ErrCodeSimulatorState))

	_, err = simulator.MarkToMarket(simDay(0))
	suite.True(errors.HasCode(err, errors.ErrCodeSimulatorState))

	suite.Require().NoError(simulator.Start(simDay(0)))
	suite.Equal(StateRunning, simulator.State())
	suite.True(errors.HasCode(simulator.Start(simDay(0)), errors.ErrCodeSimulatorState))

	_, err = simulator.Finalize()
	suite.Require().NoError(err)
	suite.Equal(StateFinalized, simulator.State())
	suite.Equal("FINALIZED", simulator.State().String())

	_, err = simulator.Sell(SellOrder{Ticker: "A", Date: simDay(1), Price: 1})
	suite.True(errors.HasCode(err, errors.ErrCodeSimulatorState))

	_, err = simulator.Finalize()
	suite.True(errors.HasCode(err, errors.ErrCodeSimulatorState))
}

func (suite *SimulatorTestSuite) TestStartRequiresCostModel() {
	simulator := NewPortfolioSimulator(SimulatorConfig{InitialCapital: 100})
	suite.True(errors.HasCode(simulator.Start(simDay(0)), errors.ErrCodeBacktestNoCostModel))
}

func (suite *SimulatorTestSuite) TestOrdersCannotGoBackInTime() {
	simulator := suite.newSimulator(1_000, cost_model.NewZeroCostModel())

	_, err := simulator.Buy(BuyOrder{Ticker: "A", Date: simDay(2), Price: 10, Shares: 1})
	suite.Require().NoError(err)

	_, err = simulator.Buy(BuyOrder{Ticker: "A", Date: simDay(1), Price: 10, Shares: 1})
	suite.True(errors.HasCode(err, errors.ErrCodeSimulatorState))
}

func (suite *SimulatorTestSuite) TestSellsExecuteBeforeBuys() {
	bars := []types.OHLCV{
		flatBar("A", 0, 100, 0),
		flatBar("B", 0, 100, 0),
		flatBar("A", 1, 100, 0),
		flatBar("B", 1, 100, 0),
	}
	simulator := suite.newSimulator(1_000, cost_model.NewZeroCostModel(), bars...)

	suite.Require().NoError(simulator.ProcessDay(simDay(0), []types.Signal{buySignal("A", 10)}))
	suite.Equal(0.0, simulator.Portfolio().Cash())

	// the buy is only affordable with the proceeds of the sell listed after it
	suite.Require().NoError(simulator.ProcessDay(simDay(1), []types.Signal{
		buySignal("B", 10),
		sellSignal("A", optional.None[int64]()),
	}))

	trades := simulator.Trades()
	suite.Require().Len(trades, 3)
	suite.Equal(types.SideSell, trades[1].Side)
	suite.Equal("A", trades[1].Ticker)
	suite.Equal(types.SideBuy, trades[2].Side)
	suite.Equal("B", trades[2].Ticker)
	suite.Empty(simulator.Rejections())
}

func (suite *SimulatorTestSuite) TestSellOrderingIsStable() {
	bars := []types.OHLCV{flatBar("A", 0, 10, 0), flatBar("B", 0, 10, 0), flatBar("C", 0, 10, 0)}
	simulator := suite.newSimulator(1_000, cost_model.NewZeroCostModel(), bars...)

	suite.Require().NoError(simulator.ProcessDay(simDay(0), []types.Signal{
		buySignal("C", 1), buySignal("A", 1), buySignal("B", 1),
	}))

	trades := simulator.Trades()
	suite.Equal([]string{"C", "A", "B"}, []string{trades[0].Ticker, trades[1].Ticker, trades[2].Ticker})
}

func (suite *SimulatorTestSuite) TestRejectionsDoNotStopTheDay() {
	bars := []types.OHLCV{flatBar("A", 0, 100, 0), flatBar("B", 0, 100, 0)}
	simulator := suite.newSimulator(500, cost_model.NewZeroCostModel(), bars...)

	err := simulator.ProcessDay(simDay(0), []types.Signal{
		buySignal("A", 10),
		sellSignal("B", optional.None[int64]()),
		buySignal("MISSING", 1),
		{Ticker: "B", Region: "KR", Side: types.SideBuy},
		buySignal("B", 5),
	})
	suite.Require().NoError(err)

	suite.Len(simulator.Trades(), 1)
	suite.Equal(0.0, simulator.Portfolio().Cash())

	reasons := map[string]int{}
	for _, rejection := range simulator.Rejections() {
		reasons[rejection.Reason]++
	}

	suite.Equal(map[string]int{
		"insufficient_cash":   1,
		"no_position":         1,
		"market_data_missing": 1,
		"invalid_signal":      1,
	}, reasons)

	summary := simulator.Summary()
	suite.Equal(4, summary.Rejected)
	suite.Equal(1, summary.DataGaps)
	suite.Equal(reasons, summary.RejectedByReason)
}

func (suite *SimulatorTestSuite) TestTargetNotionalTruncates() {
	bars := []types.OHLCV{flatBar("A", 0, 300, 0)}
	simulator := suite.newSimulator(10_000, cost_model.NewZeroCostModel(), bars...)

	suite.Require().NoError(simulator.ProcessDay(simDay(0), []types.Signal{
		{Ticker: "A", Region: "KR", Side: types.SideBuy, TargetNotional: optional.Some(1_000.0)},
		{Ticker: "A", Region: "KR", Side: types.SideBuy, TargetNotional: optional.Some(299.0)},
	}))

	suite.Require().Len(simulator.Trades(), 1)
	suite.Equal(int64(3), simulator.Trades()[0].Shares)

	events := simulator.Events()
	suite.Require().Len(events, 1)
	suite.Equal(types.EventCodeNoOp, events[0].Code)
}

func (suite *SimulatorTestSuite) TestExecutionPriceFollowsSession() {
	bars := []types.OHLCV{{
		Ticker: "A", Region: "KR", Date: simDay(0), Open: 100, High: 120, Low: 90, Close: 110,
	}}
	simulator := suite.newSimulator(100_000, cost_model.NewZeroCostModel(), bars...)

	signals := []types.Signal{}
	for _, tod := range []types.TimeOfDay{types.TimeOfDayOpen, types.TimeOfDayRegular, types.TimeOfDayClose} {
		signal := buySignal("A", 1)
		signal.TimeOfDay = tod
		signals = append(signals, signal)
	}

	suite.Require().NoError(simulator.ProcessDay(simDay(0), signals))

	trades := simulator.Trades()
	suite.Require().Len(trades, 3)
	suite.Equal(100.0, trades[0].Price)
	suite.Equal(105.0, trades[1].Price)
	suite.Equal(110.0, trades[2].Price)
}

func (suite *SimulatorTestSuite) TestMarketImpactUsesPriorVolume() {
	var bars []types.OHLCV
	for d := 0; d < 25; d++ {
		bars = append(bars, flatBar("A", d, 100, float64(1_000*(d+1))))
	}

	model, err := cost_model.NewCostModelByName("standard")
	suite.Require().NoError(err)

	simulator := suite.newSimulator(1_000_000, model, bars...)
	suite.Require().NoError(simulator.ProcessDay(simDay(0), []types.Signal{buySignal("A", 100)}))
	suite.Equal(0.0, simulator.Trades()[0].MarketImpact)

	suite.Require().NoError(simulator.ProcessDay(simDay(24), []types.Signal{buySignal("A", 100)}))
	suite.Greater(simulator.Trades()[1].MarketImpact, 0.0)

	expected, err := model.Calculate(cost_model.Order{
		Ticker: "A", Price: 100, Shares: 100, Side: types.SideBuy, TimeOfDay: types.TimeOfDayRegular,
		// days 4..23 have volumes 5,000..24,000
		AvgDailyVolume: optional.Some(14_500.0),
	})
	suite.Require().NoError(err)
	suite.InDelta(expected.MarketImpact, simulator.Trades()[1].MarketImpact, 1e-9)
}

func (suite *SimulatorTestSuite) TestMarkToMarket() {
	bars := []types.OHLCV{
		flatBar("A", 0, 100, 0),
		flatBar("A", 1, 120, 0),
		// no bar on day 2
		flatBar("A", 3, 90, 0),
	}
	simulator := suite.newSimulator(1_000, cost_model.NewZeroCostModel(), bars...)

	suite.Require().NoError(simulator.ProcessDay(simDay(0), []types.Signal{buySignal("A", 5)}))

	point, err := simulator.MarkToMarket(simDay(0))
	suite.Require().NoError(err)
	suite.Equal(types.EquityPoint{Date: simDay(0), Cash: 500, PositionsValue: 500, TotalEquity: 1_000}, point)

	point, err = simulator.MarkToMarket(simDay(1))
	suite.Require().NoError(err)
	suite.Equal(1_100.0, point.TotalEquity)

	point, err = simulator.MarkToMarket(simDay(2))
	suite.Require().NoError(err)
	suite.Equal(600.0, point.PositionsValue)

	gaps := simulator.Events()
	suite.Require().Len(gaps, 1)
	suite.Equal(types.EventCodeDataGap, gaps[0].Code)
	suite.Equal(types.LogLevelWarn, gaps[0].Level)

	point, err = simulator.MarkToMarket(simDay(3))
	suite.Require().NoError(err)
	suite.Equal(950.0, point.TotalEquity)

	suite.Len(simulator.EquityCurve(), 4)
	suite.Equal(1, simulator.Summary().DataGaps)
}

func (suite *SimulatorTestSuite) TestMarkToMarketWithoutPricesUsesLastExecution() {
	simulator := suite.newSimulator(1_000, cost_model.NewZeroCostModel())

	_, err := simulator.Buy(BuyOrder{Ticker: "A", Date: simDay(0), Price: 10, Shares: 10})
	suite.Require().NoError(err)

	point, err := simulator.MarkToMarket(simDay(0))
	suite.Require().NoError(err)
	suite.Equal(1_000.0, point.TotalEquity)
	suite.Empty(simulator.Events())
}

func (suite *SimulatorTestSuite) TestProcessDayRequiresPrices() {
	simulator := suite.newSimulator(1_000, cost_model.NewZeroCostModel())

	err := simulator.ProcessDay(simDay(0), nil)
	suite.True(errors.HasCode(err, errors.ErrCodeBacktestNoDatasource))
}

func (suite *SimulatorTestSuite) TestTradeIDsAreDeterministic() {
	run := func() []types.Trade {
		bars := []types.OHLCV{flatBar("A", 0, 10, 0), flatBar("A", 1, 11, 0)}
		simulator := suite.newSimulator(1_000, cost_model.NewZeroCostModel(), bars...)
		suite.Require().NoError(simulator.ProcessDay(simDay(0), []types.Signal{buySignal("A", 10)}))
		suite.Require().NoError(simulator.ProcessDay(simDay(1), []types.Signal{sellSignal("A", optional.None[int64]())}))

		return simulator.Trades()
	}

	first := run()
	second := run()

	suite.Equal(first, second)
	suite.NotEqual(first[0].ID, first[1].ID)
}

func (suite *SimulatorTestSuite) TestSinkReceivesEveryRecord() {
	ctrl := gomock.NewController(suite.T())
	defer ctrl.Finish()

	sink := mocks.NewMockPersistenceSink(ctrl)
	sink.EXPECT().AppendTrade(gomock.Any()).Return(nil).Times(1)
	sink.EXPECT().AppendEquityPoint(gomock.Any()).Return(nil).Times(1)
	sink.EXPECT().AppendEvent(gomock.Any()).Return(nil).Times(1)

	simulator := NewPortfolioSimulator(SimulatorConfig{
		InitialCapital: 1_000,
		CostModel:      cost_model.NewZeroCostModel(),
		Prices:         optional.Some[datasource.PriceProvider](datasource.NewInMemoryPriceProvider([]types.OHLCV{flatBar("A", 0, 10, 0)})),
		Sink:           optional.Some[engine.PersistenceSink](sink),
	})
	suite.Require().NoError(simulator.Start(simDay(0)))

	suite.Require().NoError(simulator.ProcessDay(simDay(0), []types.Signal{buySignal("A", 1), buySignal("A", 1000)}))

	_, err := simulator.MarkToMarket(simDay(0))
	suite.Require().NoError(err)
}

func (suite *SimulatorTestSuite) TestSinkFailureIsFatal() {
	ctrl := gomock.NewController(suite.T())
	defer ctrl.Finish()

	sink := mocks.NewMockPersistenceSink(ctrl)
	sink.EXPECT().AppendTrade(gomock.Any()).Return(fmt.Errorf("disk full"))

	simulator := NewPortfolioSimulator(SimulatorConfig{
		InitialCapital: 1_000,
		CostModel:      cost_model.NewZeroCostModel(),
		Prices:         optional.Some[datasource.PriceProvider](datasource.NewInMemoryPriceProvider([]types.OHLCV{flatBar("A", 0, 10, 0)})),
		Sink:           optional.Some[engine.PersistenceSink](sink),
	})
	suite.Require().NoError(simulator.Start(simDay(0)))

	err := simulator.ProcessDay(simDay(0), []types.Signal{buySignal("A", 1)})
	suite.True(errors.HasCode(err, errors.ErrCodePersistenceFailed))
}

func (suite *SimulatorTestSuite) TestUnusableBarsAreDataGaps() {
	tests := []struct {
		name   string
		bar    types.OHLCV
		signal types.Signal
	}{
		{
			name:   "nan open on open session buy",
			bar:    types.OHLCV{Open: math.NaN(), High: 10, Low: 10, Close: 10},
			signal: types.Signal{Ticker: "A", Region: "KR", Side: types.SideBuy, Shares: optional.Some[int64](1), TimeOfDay: types.TimeOfDayOpen},
		},
		{
			name:   "infinite close on close session buy",
			bar:    types.OHLCV{Open: 10, High: 10, Low: 10, Close: math.Inf(1)},
			signal: types.Signal{Ticker: "A", Region: "KR", Side: types.SideBuy, Shares: optional.Some[int64](1), TimeOfDay: types.TimeOfDayClose},
		},
		{
			name:   "nan low on notional buy",
			bar:    types.OHLCV{Open: 10, High: 10, Low: math.NaN(), Close: 10},
			signal: types.Signal{Ticker: "A", Region: "KR", Side: types.SideBuy, TargetNotional: optional.Some(100.0)},
		},
		{
			name:   "nan volume on sell",
			bar:    types.OHLCV{Open: 10, High: 10, Low: 10, Close: 10, Volume: math.NaN()},
			signal: sellSignal("A", optional.None[int64]()),
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			ctrl := gomock.NewController(suite.T())
			defer ctrl.Finish()

			bar := tt.bar
			bar.Ticker, bar.Region, bar.Date = "A", "KR", simDay(0)

			prices := mocks.NewMockPriceProvider(ctrl)
			prices.EXPECT().GetOHLCV("A", "KR", simDay(0)).Return(optional.Some(bar)).AnyTimes()
			prices.EXPECT().PreviousBars("A", "KR", gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

			simulator := NewPortfolioSimulator(SimulatorConfig{
				InitialCapital: 1_000,
				CostModel:      cost_model.NewZeroCostModel(),
				Prices:         optional.Some[datasource.PriceProvider](prices),
			})
			suite.Require().NoError(simulator.Start(simDay(0)))

			suite.Require().NotPanics(func() {
				suite.Require().NoError(simulator.ProcessDay(simDay(0), []types.Signal{tt.signal}))
			})

			suite.Empty(simulator.Trades())
			suite.Equal(1_000.0, simulator.Portfolio().Cash())

			rejections := simulator.Rejections()
			suite.Require().Len(rejections, 1)
			suite.Equal("market_data_missing", rejections[0].Reason)

			events := simulator.Events()
			suite.Require().Len(events, 1)
			suite.Equal(types.EventCodeDataGap, events[0].Code)
			suite.Equal(1, simulator.Summary().DataGaps)
		})
	}
}

func (suite *SimulatorTestSuite) TestMarkToMarketSkipsUnusableCloses() {
	ctrl := gomock.NewController(suite.T())
	defer ctrl.Finish()

	broken := flatBar("A", 2, 100, 0)
	broken.Close = math.NaN()

	prices := mocks.NewMockPriceProvider(ctrl)
	prices.EXPECT().GetOHLCV("A", "KR", simDay(3)).Return(optional.Some(broken))
	prices.EXPECT().PreviousBars("A", "KR", simDay(3), gomock.Any()).
		Return([]types.OHLCV{flatBar("A", 1, 120, 0), broken})

	simulator := NewPortfolioSimulator(SimulatorConfig{
		InitialCapital: 1_000,
		CostModel:      cost_model.NewZeroCostModel(),
		Prices:         optional.Some[datasource.PriceProvider](prices),
	})
	suite.Require().NoError(simulator.Start(simDay(0)))

	_, err := simulator.Buy(BuyOrder{Ticker: "A", Region: "KR", Date: simDay(0), Price: 100, Shares: 5})
	suite.Require().NoError(err)

	var point types.EquityPoint
	suite.Require().NotPanics(func() {
		point, err = simulator.MarkToMarket(simDay(3))
	})
	suite.Require().NoError(err)
	suite.Equal(600.0, point.PositionsValue)
	suite.Equal(1_100.0, point.TotalEquity)

	events := simulator.Events()
	suite.Require().Len(events, 1)
	suite.Equal(types.EventCodeDataGap, events[0].Code)
	suite.Equal(1, simulator.Summary().DataGaps)
}

func (suite *SimulatorTestSuite) TestStartRejectsUnusableCapital() {
	for _, capital := range []float64{math.NaN(), math.Inf(1), -100} {
		suite.Run(fmt.Sprint(capital), func() {
			var simulator *PortfolioSimulator
			suite.Require().NotPanics(func() {
				simulator = NewPortfolioSimulator(SimulatorConfig{
					InitialCapital: capital,
					CostModel:      cost_model.NewZeroCostModel(),
				})
			})

			err := simulator.Start(simDay(0))
			suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))
			suite.Equal(StateUninitialized, simulator.State())
		})
	}
}
