package types

import (
	"strings"

	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// Side is the direction of an order.
type Side string

// TimeOfDay is the trading session an order executes in.
type TimeOfDay string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

const (
	// TimeOfDayOpen executes at the opening auction where liquidity is thinnest.
	TimeOfDayOpen TimeOfDay = "open"
	// TimeOfDayRegular executes during regular hours at the bar's average price.
	TimeOfDayRegular TimeOfDay = "regular"
	// TimeOfDayClose executes at the closing auction.
	TimeOfDayClose TimeOfDay = "close"
)

// AllSides lists every valid order side.
var AllSides = []any{
	SideBuy,
	SideSell,
}

// AllTimesOfDay lists every valid trading session.
var AllTimesOfDay = []any{
	TimeOfDayOpen,
	TimeOfDayRegular,
	TimeOfDayClose,
}

// ParseSide parses a side case-insensitively.
func ParseSide(value string) (Side, error) {
	side := Side(strings.ToUpper(strings.TrimSpace(value)))
	if err := side.Validate(); err != nil {
		return "", err
	}

	return side, nil
}

// Validate returns a validation error unless s is BUY or SELL.
func (s Side) Validate() error {
	switch s {
	case SideBuy, SideSell:
		return nil
	default:
		return errors.Newf(errors.ErrCodeInvalidSide, "invalid side %q", string(s))
	}
}

// ParseTimeOfDay parses a trading session case-insensitively. Empty input maps to regular hours.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return TimeOfDayRegular, nil
	}

	tod := TimeOfDay(trimmed)
	if err := tod.Validate(); err != nil {
		return "", err
	}

	return tod, nil
}

// Validate returns a validation error for unknown sessions.
func (t TimeOfDay) Validate() error {
	switch t {
	case TimeOfDayOpen, TimeOfDayRegular, TimeOfDayClose:
		return nil
	default:
		return errors.Newf(errors.ErrCodeInvalidTimeOfDay, "invalid time of day %q", string(t))
	}
}

// ExecutionPrice returns the price an order in this session fills at.
//   - open: the bar's open
//   - regular: the average of high and low
//   - close: the bar's close
func (t TimeOfDay) ExecutionPrice(bar OHLCV) float64 {
	switch t {
	case TimeOfDayOpen:
		return bar.Open
	case TimeOfDayClose:
		return bar.Close
	default:
		return (bar.High + bar.Low) / 2
	}
}

// String implements fmt.Stringer.
func (s Side) String() string {
	return string(s)
}

// String implements fmt.Stringer.
func (t TimeOfDay) String() string {
	return string(t)
}
