package consistency

import (
	engine_v1 "github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/vectorized"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
)

// NewDefaultValidator checks the event-driven engine against the vectorized reference engine.
func NewDefaultValidator(tolerance float64, log *logger.Logger) *Validator {
	return NewValidator(engine_v1.NewBacktestEngineV1(log), vectorized.NewVectorizedEngine(log), tolerance, log)
}
