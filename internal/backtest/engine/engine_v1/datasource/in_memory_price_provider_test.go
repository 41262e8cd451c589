package datasource

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/stretchr/testify/suite"
)

type InMemoryPriceProviderTestSuite struct {
	suite.Suite
	provider *InMemoryPriceProvider
}

func TestInMemoryPriceProviderSuite(t *testing.T) {
	suite.Run(t, new(InMemoryPriceProviderTestSuite))
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func bar(ticker string, d int, closePrice float64, volume float64) types.OHLCV {
	return types.OHLCV{
		Ticker: ticker,
		Region: "US",
		Date:   day(d),
		Open:   closePrice - 1,
		High:   closePrice + 2,
		Low:    closePrice - 2,
		Close:  closePrice,
		Volume: volume,
	}
}

func (suite *InMemoryPriceProviderTestSuite) SetupTest() {
	// deliberately unordered; MSFT misses day 3
	suite.provider = NewInMemoryPriceProvider([]types.OHLCV{
		bar("AAPL", 3, 103, 300),
		bar("AAPL", 1, 101, 100),
		bar("MSFT", 2, 202, 2_000),
		bar("AAPL", 2, 102, 200),
		bar("MSFT", 1, 201, 1_000),
		bar("AAPL", 4, 104, 400),
		bar("MSFT", 4, 204, 4_000),
	})
}

func (suite *InMemoryPriceProviderTestSuite) TestGetOHLCV() {
	result := suite.provider.GetOHLCV("AAPL", "US", day(2))
	suite.Require().True(result.IsSome())
	suite.Equal(102.0, result.Unwrap().Close)

	// time of day is ignored
	result = suite.provider.GetOHLCV("AAPL", "US", day(2).Add(15*time.Hour))
	suite.True(result.IsSome())

	suite.True(suite.provider.GetOHLCV("MSFT", "US", day(3)).IsNone())
	suite.True(suite.provider.GetOHLCV("AAPL", "KR", day(2)).IsNone())
	suite.True(suite.provider.GetOHLCV("TSLA", "US", day(2)).IsNone())
}

func (suite *InMemoryPriceProviderTestSuite) TestTradingDays() {
	tests := []struct {
		name     string
		start    int
		end      int
		expected []time.Time
	}{
		{"full range", 1, 5, []time.Time{day(1), day(2), day(3), day(4)}},
		{"end is exclusive", 1, 3, []time.Time{day(1), day(2)}},
		{"inner range", 2, 4, []time.Time{day(2), day(3)}},
		{"no data", 10, 20, nil},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			days := suite.provider.TradingDays(types.DateRange{Start: day(tc.start), End: day(tc.end)})
			suite.Equal(tc.expected, days)
		})
	}
}

func (suite *InMemoryPriceProviderTestSuite) TestPreviousBars() {
	bars := suite.provider.PreviousBars("AAPL", "US", day(4), 2)
	suite.Require().Len(bars, 2)
	suite.Equal(day(2), bars[0].Date)
	suite.Equal(day(3), bars[1].Date)

	// fewer bars than requested
	bars = suite.provider.PreviousBars("AAPL", "US", day(2), 20)
	suite.Len(bars, 1)

	// missing days are skipped rather than counted
	bars = suite.provider.PreviousBars("MSFT", "US", day(4), 2)
	suite.Require().Len(bars, 2)
	suite.Equal(day(1), bars[0].Date)
	suite.Equal(day(2), bars[1].Date)

	suite.Empty(suite.provider.PreviousBars("AAPL", "US", day(1), 5))
	suite.Empty(suite.provider.PreviousBars("AAPL", "US", day(4), 0))
}

func (suite *InMemoryPriceProviderTestSuite) TestAverageDailyVolume() {
	adv := AverageDailyVolume(suite.provider, "AAPL", "US", day(4), 20)
	suite.Require().True(adv.IsSome())
	suite.Equal(200.0, adv.Unwrap())

	adv = AverageDailyVolume(suite.provider, "AAPL", "US", day(4), 1)
	suite.Equal(300.0, adv.Unwrap())

	suite.True(AverageDailyVolume(suite.provider, "AAPL", "US", day(1), 20).IsNone())
	suite.True(AverageDailyVolume(suite.provider, "AAPL", "US", day(4), 0).IsNone())
}

func (suite *InMemoryPriceProviderTestSuite) TestInstrumentsAndCount() {
	suite.Equal([]types.Instrument{
		{Ticker: "AAPL", Region: "US"},
		{Ticker: "MSFT", Region: "US"},
	}, suite.provider.Instruments())
	suite.Equal(7, suite.provider.Count())
	suite.Len(suite.provider.Bars("MSFT", "US"), 3)
}

func (suite *InMemoryPriceProviderTestSuite) TestDuplicateBarsKeepLast() {
	first := bar("AAPL", 1, 100, 10)
	second := bar("AAPL", 1, 110, 20)
	provider := NewInMemoryPriceProvider([]types.OHLCV{first, second})

	suite.Equal(1, provider.Count())
	suite.Equal(110.0, provider.GetOHLCV("AAPL", "US", day(1)).Unwrap().Close)
}

func (suite *InMemoryPriceProviderTestSuite) TestInvalidBarsAreNotIndexed() {
	nanOpen := bar("AAPL", 2, 100, 10)
	nanOpen.Open = math.NaN()

	infClose := bar("AAPL", 3, 100, 10)
	infClose.Close = math.Inf(1)

	negativeVolume := bar("MSFT", 2, 50, -1)

	provider := NewInMemoryPriceProvider([]types.OHLCV{bar("AAPL", 1, 100, 10), nanOpen, infClose, negativeVolume})

	suite.Equal(1, provider.Count())
	suite.True(provider.GetOHLCV("AAPL", "US", day(2)).IsNone())
	suite.True(provider.GetOHLCV("AAPL", "US", day(3)).IsNone())
	suite.Equal([]types.Instrument{{Ticker: "AAPL", Region: "US"}}, provider.Instruments())
	suite.Equal([]time.Time{day(1)}, provider.TradingDays(types.DateRange{Start: day(1), End: day(5)}))
}

func (suite *InMemoryPriceProviderTestSuite) TestReturnedSlicesAreCopies() {
	bars := suite.provider.Bars("AAPL", "US")
	bars[0].Close = -1

	suite.Equal(101.0, suite.provider.GetOHLCV("AAPL", "US", day(1)).Unwrap().Close)
}

func (suite *InMemoryPriceProviderTestSuite) TestConcurrentReads() {
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for d := 1; d <= 4; d++ {
				suite.provider.GetOHLCV("AAPL", "US", day(d))
				suite.provider.PreviousBars("MSFT", "US", day(d), 3)
			}
		}()
	}

	wg.Wait()
}
