package types

import (
	"time"
)

// Costs is the transaction cost breakdown of a single order.
type Costs struct {
	Commission   float64 `yaml:"commission" json:"commission" csv:"commission"`
	Slippage     float64 `yaml:"slippage" json:"slippage" csv:"slippage"`
	MarketImpact float64 `yaml:"market_impact" json:"market_impact" csv:"market_impact"`
	TotalCost    float64 `yaml:"total_cost" json:"total_cost" csv:"total_cost"`
}

// Trade is an executed fill. Trades are append-only and never mutated.
type Trade struct {
	// ID is derived from the run-local sequence number, so identical runs produce identical ids.
	ID        string    `yaml:"id" json:"id" csv:"id"`
	Ticker    string    `yaml:"ticker" json:"ticker" csv:"ticker"`
	Region    string    `yaml:"region" json:"region" csv:"region"`
	Side      Side      `yaml:"side" json:"side" csv:"side"`
	Date      time.Time `yaml:"date" json:"date" csv:"date"`
	TimeOfDay TimeOfDay `yaml:"time_of_day" json:"time_of_day" csv:"time_of_day"`
	Price     float64   `yaml:"price" json:"price" csv:"price"`
	Shares    int64     `yaml:"shares" json:"shares" csv:"shares"`
	Costs     `yaml:",inline" json:"costs"`
	// RealizedPnL is net proceeds minus cost basis for sells, and 0 for buys.
	// For example, holding 100 shares at an average cost of 1,000 and selling all of them at 1,100
	// with zero costs realizes (1,100-1,000)*100 = 10,000.
	RealizedPnL float64 `yaml:"realized_pnl" json:"realized_pnl" csv:"realized_pnl"`
}

// Notional returns price × shares.
func (t Trade) Notional() float64 {
	return t.Price * float64(t.Shares)
}

// IsRoundTrip reports whether the trade closed (part of) a position.
func (t Trade) IsRoundTrip() bool {
	return t.Side == SideSell
}

// Position represents current holdings of an instrument. A position with zero
// shares never exists in a portfolio.
type Position struct {
	Ticker      string  `yaml:"ticker" json:"ticker" csv:"ticker"`
	Region      string  `yaml:"region" json:"region" csv:"region"`
	Shares      int64   `yaml:"shares" json:"shares" csv:"shares"`
	AverageCost float64 `yaml:"average_cost" json:"average_cost" csv:"average_cost"`
	Currency    string  `yaml:"currency" json:"currency" csv:"currency"`
}

// CostBasis returns average cost × shares.
func (p Position) CostBasis() float64 {
	return p.AverageCost * float64(p.Shares)
}

// MarketValue returns shares × price.
func (p Position) MarketValue(price float64) float64 {
	return price * float64(p.Shares)
}

// RejectedOrder records a signal that could not be executed. The run continues after a rejection.
type RejectedOrder struct {
	Date    time.Time `yaml:"date" json:"date"`
	Ticker  string    `yaml:"ticker" json:"ticker"`
	Side    Side      `yaml:"side" json:"side"`
	Shares  int64     `yaml:"shares" json:"shares"`
	Reason  string    `yaml:"reason" json:"reason"`
	Message string    `yaml:"message" json:"message"`
}
