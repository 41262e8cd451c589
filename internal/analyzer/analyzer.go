// Package analyzer turns a finalized equity curve and trade log into performance metrics.
//
// All functions are pure. Ratios whose denominator is zero are reported as None instead of
// dividing by zero, and curves with fewer than two points produce an empty bundle.
package analyzer

import (
	"math"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/types"
)

// TradingDaysPerYear is the number of periods used to annualize daily statistics.
const TradingDaysPerYear = 252

// Deviations at or below epsilon count as zero.
const epsilon = 1e-12

// Config controls metric computation.
type Config struct {
	// RiskFreeRate is the annual risk-free rate, converted to a daily rate by dividing by TradingDaysPerYear.
	RiskFreeRate float64 `yaml:"risk_free_rate" json:"risk_free_rate" validate:"gte=0,lt=1"`
}

// DefaultConfig returns a zero risk-free rate.
func DefaultConfig() Config {
	return Config{RiskFreeRate: 0}
}

// Analyze computes the metrics bundle of a run.
func Analyze(curve []types.EquityPoint, trades []types.Trade, config Config) types.Metrics {
	metrics := types.Metrics{
		TotalReturn:      optional.None[float64](),
		AnnualizedReturn: optional.None[float64](),
		Volatility:       optional.None[float64](),
		Sharpe:           optional.None[float64](),
		Sortino:          optional.None[float64](),
		Calmar:           optional.None[float64](),
		WinRate:          optional.None[float64](),
		AverageWin:       optional.None[float64](),
		AverageLoss:      optional.None[float64](),
		ProfitFactor:     optional.None[float64](),
	}

	applyTradeStatistics(&metrics, trades)

	if len(curve) > 0 {
		metrics.InitialEquity = curve[0].TotalEquity
		metrics.FinalEquity = curve[len(curve)-1].TotalEquity
		metrics.Periods = len(curve)
	}

	if len(curve) < 2 {
		return metrics
	}

	returns := DailyReturns(curve)

	metrics.TotalReturn = TotalReturn(curve)
	metrics.AnnualizedReturn = AnnualizedReturn(metrics.TotalReturn, len(returns))
	metrics.Volatility = Volatility(returns)
	metrics.Sharpe = SharpeRatio(returns, config.RiskFreeRate)
	metrics.Sortino = SortinoRatio(returns, config.RiskFreeRate)
	metrics.MaxDrawdown = MaxDrawdown(curve)
	metrics.Calmar = CalmarRatio(metrics.AnnualizedReturn, metrics.MaxDrawdown)

	return metrics
}

// DailyReturns returns the simple returns between consecutive points. A period that starts at zero
// equity has no defined return and is skipped.
func DailyReturns(curve []types.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}

	returns := make([]float64, 0, len(curve)-1)

	for i := 1; i < len(curve); i++ {
		previous := curve[i-1].TotalEquity
		if previous == 0 {
			continue
		}

		returns = append(returns, curve[i].TotalEquity/previous-1)
	}

	return returns
}

// TotalReturn returns final / initial - 1.
func TotalReturn(curve []types.EquityPoint) optional.Option[float64] {
	if len(curve) < 2 || curve[0].TotalEquity == 0 {
		return optional.None[float64]()
	}

	return optional.Some(curve[len(curve)-1].TotalEquity/curve[0].TotalEquity - 1)
}

// AnnualizedReturn compounds the total return over periods daily returns to a yearly rate.
func AnnualizedReturn(totalReturn optional.Option[float64], periods int) optional.Option[float64] {
	if totalReturn.IsNone() || periods == 0 {
		return optional.None[float64]()
	}

	growth := 1 + totalReturn.Unwrap()
	if growth < 0 {
		return optional.None[float64]()
	}

	annualized := math.Pow(growth, float64(TradingDaysPerYear)/float64(periods)) - 1

	return finite(annualized)
}

// Volatility returns the annualized sample standard deviation of returns.
func Volatility(returns []float64) optional.Option[float64] {
	deviation := sampleStdDev(returns)
	if deviation.IsNone() {
		return optional.None[float64]()
	}

	return optional.Some(deviation.Unwrap() * math.Sqrt(TradingDaysPerYear))
}

// SharpeRatio returns mean(excess daily return) / stdev(daily return) × sqrt(252).
func SharpeRatio(returns []float64, riskFreeRate float64) optional.Option[float64] {
	deviation := sampleStdDev(returns)
	if deviation.IsNone() || deviation.Unwrap() <= epsilon {
		return optional.None[float64]()
	}

	excess := mean(excessReturns(returns, riskFreeRate))

	return finite(excess / deviation.Unwrap() * math.Sqrt(TradingDaysPerYear))
}

// SortinoRatio is SharpeRatio with the downside deviation sqrt(mean(min(0, excess)²)) as denominator.
func SortinoRatio(returns []float64, riskFreeRate float64) optional.Option[float64] {
	if len(returns) == 0 {
		return optional.None[float64]()
	}

	excess := excessReturns(returns, riskFreeRate)

	squared := 0.0
	for _, r := range excess {
		if r < 0 {
			squared += r * r
		}
	}

	downside := math.Sqrt(squared / float64(len(excess)))
	if downside <= epsilon {
		return optional.None[float64]()
	}

	return finite(mean(excess) / downside * math.Sqrt(TradingDaysPerYear))
}

// MaxDrawdown returns the largest peak-to-trough decline as a positive fraction of the peak.
func MaxDrawdown(curve []types.EquityPoint) float64 {
	peak := math.Inf(-1)
	maxDrawdown := 0.0

	for _, point := range curve {
		if point.TotalEquity > peak {
			peak = point.TotalEquity
		}

		if peak <= 0 {
			continue
		}

		drawdown := (peak - point.TotalEquity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}

	return maxDrawdown
}

// CalmarRatio returns annualized return / |max drawdown|.
func CalmarRatio(annualized optional.Option[float64], maxDrawdown float64) optional.Option[float64] {
	if annualized.IsNone() || maxDrawdown == 0 {
		return optional.None[float64]()
	}

	return finite(annualized.Unwrap() / math.Abs(maxDrawdown))
}

// applyTradeStatistics fills the trade counters. Only sells close positions, so only sells count as round trips.
func applyTradeStatistics(metrics *types.Metrics, trades []types.Trade) {
	metrics.TotalTrades = len(trades)

	var (
		wins, losses        int
		grossWin, grossLoss float64
		roundTrips          int
		totalCosts          float64
	)

	for _, trade := range trades {
		totalCosts += trade.TotalCost

		if !trade.IsRoundTrip() {
			continue
		}

		roundTrips++

		switch {
		case trade.RealizedPnL > 0:
			wins++
			grossWin += trade.RealizedPnL
		case trade.RealizedPnL < 0:
			losses++
			grossLoss += -trade.RealizedPnL
		}
	}

	metrics.RoundTrips = roundTrips
	metrics.TotalCosts = totalCosts

	if roundTrips > 0 {
		metrics.WinRate = optional.Some(float64(wins) / float64(roundTrips))
	}

	if wins > 0 {
		metrics.AverageWin = optional.Some(grossWin / float64(wins))
	}

	if losses > 0 {
		metrics.AverageLoss = optional.Some(grossLoss / float64(losses))
	}

	if grossLoss > 0 {
		metrics.ProfitFactor = optional.Some(grossWin / grossLoss)
	}
}

func excessReturns(returns []float64, riskFreeRate float64) []float64 {
	daily := riskFreeRate / TradingDaysPerYear

	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - daily
	}

	return excess
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	total := 0.0
	for _, v := range values {
		total += v
	}

	return total / float64(len(values))
}

func sampleStdDev(values []float64) optional.Option[float64] {
	if len(values) < 2 {
		return optional.None[float64]()
	}

	m := mean(values)

	squared := 0.0
	for _, v := range values {
		squared += (v - m) * (v - m)
	}

	return optional.Some(math.Sqrt(squared / float64(len(values)-1)))
}

func finite(value float64) optional.Option[float64] {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return optional.None[float64]()
	}

	return optional.Some(value)
}
