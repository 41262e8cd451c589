package types

import "time"

// EquityPoint is the end-of-day mark-to-market snapshot of a portfolio.
type EquityPoint struct {
	Date           time.Time `yaml:"date" json:"date" csv:"date"`
	Cash           float64   `yaml:"cash" json:"cash" csv:"cash"`
	PositionsValue float64   `yaml:"positions_value" json:"positions_value" csv:"positions_value"`
	TotalEquity    float64   `yaml:"total_equity" json:"total_equity" csv:"total_equity"`
}

// LogLevel is the severity of a run event.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// Event codes recorded in the run log.
const (
	EventCodeDataGap        = "data_gap"
	EventCodeRejected       = "order_rejected"
	EventCodeNoOp           = "zero_share_order"
	EventCodeSignalError    = "signal_error"
	EventCodeInvariantCheck = "invariant_violation"
)

// RunEvent is one entry of the run-level audit log that accompanies the trade log.
type RunEvent struct {
	Date    time.Time `yaml:"date" json:"date"`
	Level   LogLevel  `yaml:"level" json:"level"`
	Code    string    `yaml:"code" json:"code"`
	Ticker  string    `yaml:"ticker" json:"ticker"`
	Message string    `yaml:"message" json:"message"`
}

// RunSummary is the per-run summary printed by the CLI.
type RunSummary struct {
	TradingDays      int            `yaml:"trading_days" json:"trading_days"`
	TradesExecuted   int            `yaml:"trades_executed" json:"trades_executed"`
	Rejected         int            `yaml:"rejected" json:"rejected"`
	RejectedByReason map[string]int `yaml:"rejected_by_reason" json:"rejected_by_reason"`
	DataGaps         int            `yaml:"data_gaps" json:"data_gaps"`
}
