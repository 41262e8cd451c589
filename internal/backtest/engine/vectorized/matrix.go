package vectorized

import (
	"math"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-backtest/internal/types"
)

// column holds one instrument's data aligned to the run's trading days. Missing bars are NaN.
type column struct {
	instrument types.Instrument
	currency   string

	open   []float64
	high   []float64
	low    []float64
	close  []float64
	volume []float64

	// filledClose carries the last known close forward across missing days, seeded from
	// history before the range. NaN until the instrument has closed at least once.
	filledClose []float64
	// gap marks days where filledClose came from an earlier day.
	gap []bool
	// adv is the mean volume of up to lookback bars strictly before each day.
	adv []optional.Option[float64]
}

// matrix is the columnar view of a price provider over a list of days.
type matrix struct {
	days    []time.Time
	index   map[int64]int
	columns map[string]*column
}

func buildMatrix(prices datasource.PriceProvider, days []time.Time, lookback int) *matrix {
	m := &matrix{
		days:    days,
		index:   make(map[int64]int, len(days)),
		columns: make(map[string]*column),
	}

	for i, day := range days {
		m.index[day.Unix()] = i
	}

	for _, instrument := range prices.Instruments() {
		m.columns[instrument.Key()] = buildColumn(prices, instrument, days, lookback)
	}

	return m
}

func buildColumn(prices datasource.PriceProvider, instrument types.Instrument, days []time.Time, lookback int) *column {
	n := len(days)
	c := &column{
		instrument:  instrument,
		currency:    "",
		open:        nanColumn(n),
		high:        nanColumn(n),
		low:         nanColumn(n),
		close:       nanColumn(n),
		volume:      nanColumn(n),
		filledClose: nanColumn(n),
		gap:         make([]bool, n),
		adv:         make([]optional.Option[float64], n),
	}

	var history []types.OHLCV
	if n > 0 {
		seed := lookback
		if seed < 1 {
			seed = 1
		}

		history = validBars(prices.PreviousBars(instrument.Ticker, instrument.Region, days[0], seed))
	}

	for i, day := range days {
		bar := prices.GetOHLCV(instrument.Ticker, instrument.Region, day)
		if bar.IsNone() || bar.Unwrap().Validate() != nil {
			continue
		}

		b := bar.Unwrap()
		c.open[i] = b.Open
		c.high[i] = b.High
		c.low[i] = b.Low
		c.close[i] = b.Close
		c.volume[i] = b.Volume

		if c.currency == "" {
			c.currency = b.Currency
		}
	}

	c.forwardFill(history)
	c.rollingVolume(history, lookback)

	return c
}

func (c *column) forwardFill(history []types.OHLCV) {
	last := math.NaN()
	if len(history) > 0 {
		last = history[len(history)-1].Close
	}

	for i, value := range c.close {
		if !math.IsNaN(value) {
			last = value
			c.filledClose[i] = value

			continue
		}

		c.filledClose[i] = last
		c.gap[i] = !math.IsNaN(last)
	}
}

// rollingVolume computes a trailing mean through prefix sums over the combined history and in-range volumes.
func (c *column) rollingVolume(history []types.OHLCV, lookback int) {
	if lookback <= 0 {
		for i := range c.adv {
			c.adv[i] = optional.None[float64]()
		}

		return
	}

	prefix := make([]float64, 1, len(history)+len(c.volume)+1)
	for _, bar := range history {
		prefix = append(prefix, prefix[len(prefix)-1]+bar.Volume)
	}

	for i, volume := range c.volume {
		count := len(prefix) - 1
		if count == 0 {
			c.adv[i] = optional.None[float64]()
		} else {
			window := min(count, lookback)
			c.adv[i] = optional.Some((prefix[count] - prefix[count-window]) / float64(window))
		}

		if !math.IsNaN(volume) {
			prefix = append(prefix, prefix[len(prefix)-1]+volume)
		}
	}
}

// executionPrice returns the session price on day i, or false when there is no bar.
func (c *column) executionPrice(i int, session types.TimeOfDay) (float64, bool) {
	if math.IsNaN(c.close[i]) {
		return 0, false
	}

	return session.ExecutionPrice(types.OHLCV{Open: c.open[i], High: c.high[i], Low: c.low[i], Close: c.close[i]}), true
}

// validBars drops bars with non-finite or non-positive prices. Such bars count as missing.
func validBars(bars []types.OHLCV) []types.OHLCV {
	valid := make([]types.OHLCV, 0, len(bars))
	for _, bar := range bars {
		if bar.Validate() == nil {
			valid = append(valid, bar)
		}
	}

	return valid
}

func nanColumn(n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = math.NaN()
	}

	return values
}
