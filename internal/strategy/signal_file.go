package strategy

import (
	"os"
	"strings"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"gopkg.in/yaml.v3"
)

// SignalFile is the YAML document read by the file strategy.
//
//	signals:
//	  - date: 2024-01-02
//	    ticker: "005930"
//	    region: KR
//	    side: BUY
//	    shares: 100
//	    time_of_day: open
//	  - date: 2024-03-04
//	    ticker: "005930"
//	    region: KR
//	    side: SELL
type SignalFile struct {
	Signals []SignalEntry `yaml:"signals"`
}

// SignalEntry is one dated signal of a SignalFile.
type SignalEntry struct {
	Date           string   `yaml:"date"`
	Ticker         string   `yaml:"ticker"`
	Region         string   `yaml:"region"`
	Side           string   `yaml:"side"`
	Shares         *int64   `yaml:"shares"`
	TargetNotional *float64 `yaml:"target_notional"`
	TimeOfDay      string   `yaml:"time_of_day"`
}

// NewSignalFileStrategy replays the signals of ctx.SignalFile. Signals outside ctx.Range are ignored.
func NewSignalFileStrategy(ctx FactoryContext) (SignalProvider, error) {
	if strings.TrimSpace(ctx.SignalFile) == "" {
		return nil, errors.New(errors.ErrCodeStrategyConfigError, "file strategy requires a signal file")
	}

	data, err := os.ReadFile(ctx.SignalFile)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeStrategyConfigError, err, "failed to read signal file %s", ctx.SignalFile)
	}

	provider, err := ParseSignalFile(data)
	if err != nil {
		return nil, err
	}

	if ctx.Range.Start.IsZero() && ctx.Range.End.IsZero() {
		return provider, nil
	}

	schedule := make(map[time.Time][]types.Signal)

	for _, day := range provider.Days() {
		if !ctx.Range.Contains(day) {
			continue
		}

		signals, _ := provider.GetSignals(day)
		schedule[day] = signals
	}

	return NewStaticSignalProvider(schedule), nil
}

// ParseSignalFile decodes and validates a YAML signal file. Signals keep their file order within a day.
func ParseSignalFile(data []byte) (*StaticSignalProvider, error) {
	var file SignalFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidSignal, "failed to parse signal file", err)
	}

	schedule := make(map[time.Time][]types.Signal)

	for i, entry := range file.Signals {
		date, signal, err := entry.toSignal()
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeInvalidSignal, err, "signal %d", i)
		}

		schedule[date] = append(schedule[date], signal)
	}

	return NewStaticSignalProvider(schedule), nil
}

func (e SignalEntry) toSignal() (time.Time, types.Signal, error) {
	date, err := time.Parse(types.DateLayout, strings.TrimSpace(e.Date))
	if err != nil {
		return time.Time{}, types.Signal{}, errors.Wrapf(errors.ErrCodeInvalidSignal, err, "invalid date %q", e.Date)
	}

	side, err := types.ParseSide(e.Side)
	if err != nil {
		return time.Time{}, types.Signal{}, err
	}

	tod, err := types.ParseTimeOfDay(e.TimeOfDay)
	if err != nil {
		return time.Time{}, types.Signal{}, err
	}

	signal := types.Signal{
		Ticker:         strings.TrimSpace(e.Ticker),
		Region:         strings.TrimSpace(e.Region),
		Side:           side,
		Shares:         fromPointer(e.Shares),
		TargetNotional: fromPointer(e.TargetNotional),
		TimeOfDay:      tod,
	}

	if err := signal.Validate(); err != nil {
		return time.Time{}, types.Signal{}, err
	}

	return date, signal, nil
}

func fromPointer[T any](value *T) optional.Option[T] {
	if value == nil {
		return optional.None[T]()
	}

	return optional.Some(*value)
}
