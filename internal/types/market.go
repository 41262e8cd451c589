package types

import (
	"time"

	"github.com/rxtech-lab/argo-backtest/internal/utils"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// DateLayout is the layout used for trading dates in logs, file names and CLI flags.
const DateLayout = "2006-01-02"

// OHLCV is one daily bar for an instrument.
type OHLCV struct {
	Ticker   string    `yaml:"ticker" json:"ticker" csv:"ticker"`
	Region   string    `yaml:"region" json:"region" csv:"region"`
	Currency string    `yaml:"currency" json:"currency" csv:"currency"`
	Date     time.Time `yaml:"date" json:"date" csv:"date"`
	Open     float64   `yaml:"open" json:"open" csv:"open"`
	High     float64   `yaml:"high" json:"high" csv:"high"`
	Low      float64   `yaml:"low" json:"low" csv:"low"`
	Close    float64   `yaml:"close" json:"close" csv:"close"`
	Volume   float64   `yaml:"volume" json:"volume" csv:"volume"`
}

// Validate rejects bars that cannot price an order: every price must be finite and positive and
// the volume finite and non-negative.
func (b OHLCV) Validate() error {
	prices := []struct {
		name  string
		value float64
	}{
		{"open", b.Open},
		{"high", b.High},
		{"low", b.Low},
		{"close", b.Close},
	}

	for _, price := range prices {
		if !utils.IsFinite(price.value) || price.value <= 0 {
			return errors.Newf(errors.ErrCodeInvalidBar, "%s bar on %s has %s %v",
				b.Ticker, b.Date.Format(DateLayout), price.name, price.value)
		}
	}

	if !utils.IsFinite(b.Volume) || b.Volume < 0 {
		return errors.Newf(errors.ErrCodeInvalidBar, "%s bar on %s has volume %v",
			b.Ticker, b.Date.Format(DateLayout), b.Volume)
	}

	return nil
}

// Instrument identifies a tradable ticker within a region.
type Instrument struct {
	Ticker string `yaml:"ticker" json:"ticker"`
	Region string `yaml:"region" json:"region"`
}

// Key returns the lookup key used by price providers.
func (i Instrument) Key() string {
	return i.Region + ":" + i.Ticker
}

// DateRange is a half-open range of trading dates [Start, End).
type DateRange struct {
	Start time.Time `yaml:"start" json:"start"`
	End   time.Time `yaml:"end" json:"end"`
}

// NewDateRange normalizes both bounds to calendar days and validates the range.
func NewDateRange(start time.Time, end time.Time) (DateRange, error) {
	r := DateRange{Start: TruncateToDay(start), End: TruncateToDay(end)}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}

	return r, nil
}

// Validate checks that the range is non-empty.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return errors.New(errors.ErrCodeInvalidDateRange, "date range requires both start and end")
	}

	if !r.Start.Before(r.End) {
		return errors.Newf(errors.ErrCodeInvalidDateRange, "start %s must be before end %s",
			r.Start.Format(DateLayout), r.End.Format(DateLayout))
	}

	return nil
}

// Contains reports whether date falls in [Start, End).
func (r DateRange) Contains(date time.Time) bool {
	day := TruncateToDay(date)

	return !day.Before(r.Start) && day.Before(r.End)
}

// String formats the range as start..end.
func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

// TruncateToDay drops the time of day and returns midnight UTC of the same calendar date.
func TruncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
