package walkforward

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// Schedule is a rolling train/test split. Each window trains on Train, tests on the Test period that
// follows, and the next window starts Step later.
type Schedule struct {
	Train Period `yaml:"train" json:"train"`
	Test  Period `yaml:"test" json:"test"`
	Step  Period `yaml:"step" json:"step"`
}

// Validate checks that all periods are positive and that Step is not shorter than Test, measured
// from reference. A shorter step would make test windows overlap.
func (s Schedule) Validate(reference time.Time) error {
	validate := validator.New()
	if err := validate.Struct(s); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidSchedule, "invalid schedule", err)
	}

	periods := []struct {
		name   string
		period Period
	}{
		{"train", s.Train},
		{"test", s.Test},
		{"step", s.Step},
	}

	for _, p := range periods {
		if p.period.IsZero() {
			return errors.Newf(errors.ErrCodeInvalidSchedule, "schedule %s period must be positive", p.name)
		}
	}

	if s.Step.AddTo(reference).Before(s.Test.AddTo(reference)) {
		return errors.Newf(errors.ErrCodeInvalidSchedule, "step %s is shorter than test %s", s.Step, s.Test)
	}

	return nil
}

// GenerateWindows splits dateRange into consecutive windows. Window k trains on
// [start + k×step, start + k×step + train) and tests on the test period right after. Windows whose
// test period would end past dateRange.End are dropped.
func GenerateWindows(dateRange types.DateRange, schedule Schedule) ([]types.OptimizationWindow, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, err
	}

	if err := schedule.Validate(dateRange.Start); err != nil {
		return nil, err
	}

	var windows []types.OptimizationWindow

	for k := 0; ; k++ {
		trainStart := schedule.Step.Times(k).AddTo(dateRange.Start)
		trainEnd := schedule.Train.AddTo(trainStart)
		testEnd := schedule.Test.AddTo(trainEnd)

		if testEnd.After(dateRange.End) {
			break
		}

		windows = append(windows, types.OptimizationWindow{
			Index:      k,
			TrainStart: trainStart,
			TrainEnd:   trainEnd,
			TestStart:  trainEnd,
			TestEnd:    testEnd,
		})
	}

	if len(windows) == 0 {
		return nil, errors.Newf(errors.ErrCodeNoWindows, "range %s is too short for train %s + test %s",
			dateRange, schedule.Train, schedule.Test)
	}

	return windows, nil
}
