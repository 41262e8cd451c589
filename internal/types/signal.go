package types

import (
	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// Signal is one trade instruction emitted by a signal provider for a trading day.
// Exactly one of Shares and TargetNotional may be set. A sell with neither set
// closes the full position.
type Signal struct {
	Ticker string `yaml:"ticker" json:"ticker" validate:"required"`
	Region string `yaml:"region" json:"region"`
	Side   Side   `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	// Shares is the number of shares to trade.
	Shares optional.Option[int64] `yaml:"-" json:"shares"`
	// TargetNotional is sized into whole shares at the execution price, truncating toward zero.
	TargetNotional optional.Option[float64] `yaml:"-" json:"target_notional"`
	// TimeOfDay selects the execution session. Empty means regular hours.
	TimeOfDay TimeOfDay `yaml:"time_of_day" json:"time_of_day" validate:"omitempty,oneof=open regular close"`
}

// Instrument returns the instrument the signal trades.
func (s Signal) Instrument() Instrument {
	return Instrument{Ticker: s.Ticker, Region: s.Region}
}

// Session returns the execution session, defaulting to regular hours.
func (s Signal) Session() TimeOfDay {
	if s.TimeOfDay == "" {
		return TimeOfDayRegular
	}

	return s.TimeOfDay
}

// Validate validates the Signal struct.
func (s *Signal) Validate() error {
	validate := validator.New()
	if err := validate.Struct(s); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidSignal, "invalid signal", err)
	}

	if s.Shares.IsSome() && s.TargetNotional.IsSome() {
		return errors.Newf(errors.ErrCodeInvalidSignal, "signal for %s sets both shares and target notional", s.Ticker)
	}

	if s.Shares.IsSome() && s.Shares.Unwrap() < 0 {
		return errors.Newf(errors.ErrCodeInvalidSignal, "signal for %s has negative shares %d", s.Ticker, s.Shares.Unwrap())
	}

	if s.TargetNotional.IsSome() && s.TargetNotional.Unwrap() < 0 {
		return errors.Newf(errors.ErrCodeInvalidSignal, "signal for %s has negative target notional", s.Ticker)
	}

	if s.Side == SideBuy && s.Shares.IsNone() && s.TargetNotional.IsNone() {
		return errors.Newf(errors.ErrCodeInvalidSignal, "buy signal for %s needs shares or target notional", s.Ticker)
	}

	return nil
}
