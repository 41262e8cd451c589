package mocks

import (
	"math"
	"math/rand"
	"time"

	"github.com/rxtech-lab/argo-backtest/internal/types"
)

// DataGenerator generates realistic daily bars for testing and benchmarking.
type DataGenerator struct {
	rng *rand.Rand
}

// NewDataGenerator creates a new DataGenerator with the given seed.
// Use a fixed seed for reproducible results in tests.
func NewDataGenerator(seed int64) *DataGenerator {
	return &DataGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// GeneratorConfig configures how market data is generated.
type GeneratorConfig struct {
	Ticker   string
	Region   string
	Currency string
	// StartDate is the first calendar day considered. Weekends are skipped.
	StartDate time.Time
	// Count is the number of trading days to generate
	Count int
	// InitialPrice is the starting price
	InitialPrice float64
	// Volatility controls price movement (0.01 = 1% typical daily volatility)
	Volatility float64
	// Trend is the total drift over the whole series (-0.5 to 0.5 for bearish to bullish)
	Trend float64
	// VolumeBase is the average volume per bar
	VolumeBase float64
	// VolumeVariance is the variance in volume (0.0 to 1.0)
	VolumeVariance float64
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		Ticker:         "TEST",
		Region:         "US",
		Currency:       "USD",
		StartDate:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Count:          252,
		InitialPrice:   100.0,
		Volatility:     0.015,
		Trend:          0.0,
		VolumeBase:     1_000_000,
		VolumeVariance: 0.3,
	}
}

// Generate creates daily bars following a geometric Brownian motion.
func (g *DataGenerator) Generate(config GeneratorConfig) []types.OHLCV {
	bars := make([]types.OHLCV, 0, config.Count)
	currentPrice := config.InitialPrice
	currentDay := types.TruncateToDay(config.StartDate)

	for len(bars) < config.Count {
		if currentDay.Weekday() == time.Saturday || currentDay.Weekday() == time.Sunday {
			currentDay = currentDay.AddDate(0, 0, 1)

			continue
		}

		open := currentPrice

		// Box-Muller transform for a standard normal draw
		u1 := 1 - g.rng.Float64()
		u2 := g.rng.Float64()
		z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

		drift := config.Trend / float64(config.Count)

		close := open * (1 + config.Volatility*z + drift)
		if close <= 0 {
			close = open * 0.99
		}

		highExtension := math.Abs(g.rng.Float64() * config.Volatility * open * 0.5)
		lowExtension := math.Abs(g.rng.Float64() * config.Volatility * open * 0.5)

		high := math.Max(open, close) + highExtension

		low := math.Min(open, close) - lowExtension
		if low <= 0 {
			low = math.Min(open, close) * 0.99
		}

		volumeVariation := 1.0 + (g.rng.Float64()*2-1)*config.VolumeVariance

		volume := config.VolumeBase * volumeVariation
		if volume < 0 {
			volume = config.VolumeBase * 0.1
		}

		bars = append(bars, types.OHLCV{
			Ticker:   config.Ticker,
			Region:   config.Region,
			Currency: config.Currency,
			Date:     currentDay,
			Open:     roundToDecimals(open, 4),
			High:     roundToDecimals(high, 4),
			Low:      roundToDecimals(low, 4),
			Close:    roundToDecimals(close, 4),
			Volume:   math.Round(volume),
		})

		currentPrice = roundToDecimals(close, 4)
		currentDay = currentDay.AddDate(0, 0, 1)
	}

	return bars
}

// GenerateMultiTicker generates bars for several tickers over the same trading days.
func (g *DataGenerator) GenerateMultiTicker(tickers []string, baseConfig GeneratorConfig) []types.OHLCV {
	var all []types.OHLCV

	for _, ticker := range tickers {
		config := baseConfig
		config.Ticker = ticker
		// Vary initial price and volatility slightly per ticker
		config.InitialPrice = baseConfig.InitialPrice * (0.8 + g.rng.Float64()*0.4)
		config.Volatility = baseConfig.Volatility * (0.8 + g.rng.Float64()*0.4)

		all = append(all, g.Generate(config)...)
	}

	return all
}

// GenerateYears generates about years × 252 trading days for ticker with a fixed seed.
func GenerateYears(ticker string, years int) []types.OHLCV {
	gen := NewDataGenerator(42)
	config := DefaultConfig()
	config.Ticker = ticker
	config.Count = years * 252

	return gen.Generate(config)
}

func roundToDecimals(val float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))

	return math.Round(val*pow) / pow
}
