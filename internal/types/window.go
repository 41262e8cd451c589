package types

import (
	"time"

	"github.com/moznion/go-optional"
)

// OptimizationWindow is one train/test split of a walk-forward schedule.
// Both ranges are half-open and the test range starts where the train range ends.
type OptimizationWindow struct {
	Index      int       `yaml:"index" json:"index"`
	TrainStart time.Time `yaml:"train_start" json:"train_start"`
	TrainEnd   time.Time `yaml:"train_end" json:"train_end"`
	TestStart  time.Time `yaml:"test_start" json:"test_start"`
	TestEnd    time.Time `yaml:"test_end" json:"test_end"`
}

// Train returns the in-sample range.
func (w OptimizationWindow) Train() DateRange {
	return DateRange{Start: w.TrainStart, End: w.TrainEnd}
}

// Test returns the out-of-sample range.
func (w OptimizationWindow) Test() DateRange {
	return DateRange{Start: w.TestStart, End: w.TestEnd}
}

// ParameterSet is one named point of a parameter space.
type ParameterSet struct {
	Name   string             `yaml:"name" json:"name" validate:"required"`
	Values map[string]float64 `yaml:"values" json:"values"`
}

// Get returns the named parameter if present.
func (p ParameterSet) Get(key string) optional.Option[float64] {
	value, ok := p.Values[key]
	if !ok {
		return optional.None[float64]()
	}

	return optional.Some(value)
}
