package types

import (
	"fmt"
	"os"

	"github.com/moznion/go-optional"
	"gopkg.in/yaml.v3"
)

// Metrics is the performance bundle computed from an equity curve and trade log.
// Ratios whose denominator is zero are None.
type Metrics struct {
	// Equity at the first and last point of the curve.
	InitialEquity float64 `json:"initial_equity"`
	FinalEquity   float64 `json:"final_equity"`
	// Number of equity points and daily returns the metrics were computed from.
	Periods int `json:"periods"`

	TotalReturn      optional.Option[float64] `json:"total_return"`
	AnnualizedReturn optional.Option[float64] `json:"annualized_return"`
	// Volatility is the annualized sample standard deviation of daily returns.
	Volatility optional.Option[float64] `json:"volatility"`
	Sharpe     optional.Option[float64] `json:"sharpe"`
	Sortino    optional.Option[float64] `json:"sortino"`
	// MaxDrawdown is the largest peak-to-trough decline as a positive fraction of the peak.
	MaxDrawdown float64                  `json:"max_drawdown"`
	Calmar      optional.Option[float64] `json:"calmar"`

	TotalTrades  int                      `json:"total_trades"`
	RoundTrips   int                      `json:"round_trips"`
	WinRate      optional.Option[float64] `json:"win_rate"`
	AverageWin   optional.Option[float64] `json:"average_win"`
	AverageLoss  optional.Option[float64] `json:"average_loss"`
	ProfitFactor optional.Option[float64] `json:"profit_factor"`
	TotalCosts   float64                  `json:"total_costs"`
}

// MetricsReport is the serialized form of Metrics. Null ratios are written as null.
type MetricsReport struct {
	ID               string   `yaml:"id"`
	EngineVersion    string   `yaml:"engine_version"`
	Strategy         string   `yaml:"strategy"`
	CostProfile      string   `yaml:"cost_profile"`
	Start            string   `yaml:"start"`
	End              string   `yaml:"end"`
	InitialEquity    float64  `yaml:"initial_equity"`
	FinalEquity      float64  `yaml:"final_equity"`
	Periods          int      `yaml:"periods"`
	TotalReturn      *float64 `yaml:"total_return"`
	AnnualizedReturn *float64 `yaml:"annualized_return"`
	Volatility       *float64 `yaml:"volatility"`
	Sharpe           *float64 `yaml:"sharpe"`
	Sortino          *float64 `yaml:"sortino"`
	MaxDrawdown      float64  `yaml:"max_drawdown"`
	Calmar           *float64 `yaml:"calmar"`
	TotalTrades      int      `yaml:"total_trades"`
	RoundTrips       int      `yaml:"round_trips"`
	WinRate          *float64 `yaml:"win_rate"`
	AverageWin       *float64 `yaml:"average_win"`
	AverageLoss      *float64 `yaml:"average_loss"`
	ProfitFactor     *float64 `yaml:"profit_factor"`
	TotalCosts       float64  `yaml:"total_costs"`

	Summary RunSummary `yaml:"summary"`
}

// Report converts the metrics into their serialized form.
func (m Metrics) Report() MetricsReport {
	return MetricsReport{
		InitialEquity:    m.InitialEquity,
		FinalEquity:      m.FinalEquity,
		Periods:          m.Periods,
		TotalReturn:      toPointer(m.TotalReturn),
		AnnualizedReturn: toPointer(m.AnnualizedReturn),
		Volatility:       toPointer(m.Volatility),
		Sharpe:           toPointer(m.Sharpe),
		Sortino:          toPointer(m.Sortino),
		MaxDrawdown:      m.MaxDrawdown,
		Calmar:           toPointer(m.Calmar),
		TotalTrades:      m.TotalTrades,
		RoundTrips:       m.RoundTrips,
		WinRate:          toPointer(m.WinRate),
		AverageWin:       toPointer(m.AverageWin),
		AverageLoss:      toPointer(m.AverageLoss),
		ProfitFactor:     toPointer(m.ProfitFactor),
		TotalCosts:       m.TotalCosts,
	}
}

// SharpeOr returns the Sharpe ratio or fallback when it is undefined.
func (m Metrics) SharpeOr(fallback float64) float64 {
	return m.Sharpe.TakeOr(fallback)
}

// TotalReturnOr returns the total return or fallback when it is undefined.
func (m Metrics) TotalReturnOr(fallback float64) float64 {
	return m.TotalReturn.TakeOr(fallback)
}

func toPointer(value optional.Option[float64]) *float64 {
	if value.IsNone() {
		return nil
	}

	v := value.Unwrap()

	return &v
}

// WriteMetricsReport writes the report as YAML to path.
func WriteMetricsReport(path string, report MetricsReport) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write metrics to file: %w", err)
	}

	return nil
}
