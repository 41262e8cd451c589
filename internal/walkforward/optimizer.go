// Package walkforward runs rolling in-sample/out-of-sample sweeps over a parameter space to detect
// overfitting.
package walkforward

import (
	"context"
	"runtime"
	"sort"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/cost_model"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/strategy"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// OptimizerConfig holds the sweep settings.
type OptimizerConfig struct {
	// OverfitThreshold is compared with in-sample minus out-of-sample Sharpe.
	OverfitThreshold float64
	// Parallelism bounds concurrent windows. Zero uses GOMAXPROCS.
	Parallelism int
	// OnWindowDone is called after each window finishes. It may be called from several goroutines.
	OnWindowDone func(result WindowResult)
}

// DefaultOptimizerConfig returns the default threshold and parallelism.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		OverfitThreshold: DefaultOverfitThreshold,
		Parallelism:      0,
		OnWindowDone:     nil,
	}
}

// Request describes one sweep.
type Request struct {
	Range      types.DateRange
	Schedule   Schedule
	Parameters []types.ParameterSet
	// Strategy builds a signal provider for each parameter set and window.
	Strategy   strategy.Factory
	SignalFile string

	Prices             datasource.PriceProvider
	CostModel          cost_model.CostModel
	InitialCapital     float64
	RiskFreeRate       float64
	VolumeLookbackDays int
}

// ParameterScore is the in-sample evaluation of one parameter set.
type ParameterScore struct {
	Name        string                   `yaml:"name" json:"name"`
	Sharpe      optional.Option[float64] `yaml:"-" json:"sharpe"`
	MaxDrawdown float64                  `yaml:"max_drawdown" json:"max_drawdown"`
	// Error is set when the parameter set could not be evaluated.
	Error string `yaml:"error,omitempty" json:"error,omitempty"`
}

// WindowOutcome is the result of a window that completed.
type WindowOutcome struct {
	Selected    types.ParameterSet `json:"selected"`
	InSample    types.Metrics      `json:"in_sample"`
	OutOfSample types.Metrics      `json:"out_of_sample"`
	// Overfit is set when both Sharpe ratios are known and their gap exceeds the threshold.
	Overfit bool `json:"overfit"`
}

// WindowResult is the record of one window. Outcome is None when the window failed.
type WindowResult struct {
	Window  types.OptimizationWindow       `json:"window"`
	Scores  []ParameterScore               `json:"scores"`
	Outcome optional.Option[WindowOutcome] `json:"outcome"`
	Error   string                         `json:"error,omitempty"`
}

// Aggregate summarizes the completed windows of a sweep.
type Aggregate struct {
	Windows   int `json:"windows"`
	Completed int `json:"completed"`

	MeanInSampleSharpe      optional.Option[float64] `json:"mean_in_sample_sharpe"`
	MeanOutOfSampleSharpe   optional.Option[float64] `json:"mean_out_of_sample_sharpe"`
	MedianOutOfSampleSharpe optional.Option[float64] `json:"median_out_of_sample_sharpe"`
	// PositiveFraction is the share of completed windows with a positive out-of-sample return.
	PositiveFraction optional.Option[float64] `json:"positive_fraction"`
	OverfitWindows   int                      `json:"overfit_windows"`
	// Overfit compares the mean in-sample and out-of-sample Sharpe against the threshold.
	Overfit bool `json:"overfit"`
}

// Report is the output of a sweep, windows in index order.
type Report struct {
	Windows   []WindowResult `json:"windows"`
	Aggregate Aggregate      `json:"aggregate"`
}

// Optimizer runs walk-forward sweeps. It is stateless and safe for concurrent use.
type Optimizer struct {
	engine engine.Engine
	config OptimizerConfig
	log    *logger.Logger
}

func NewOptimizer(e engine.Engine, config OptimizerConfig, log *logger.Logger) *Optimizer {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Optimizer{
		engine: e,
		config: config,
		log:    log.Named("walkforward"),
	}
}

// Run evaluates every window. Windows run concurrently; cancellation is checked before a window
// starts and never interrupts one. A window that fails yields a result without outcome; only an
// engine invariant violation aborts the sweep.
func (o *Optimizer) Run(ctx context.Context, req Request) (Report, error) {
	if err := validateParameters(req.Parameters); err != nil {
		return Report{}, err
	}

	if req.Strategy == nil {
		return Report{}, errors.New(errors.ErrCodeStrategyNotFound, "sweep requires a strategy factory")
	}

	windows, err := GenerateWindows(req.Range, req.Schedule)
	if err != nil {
		return Report{}, err
	}

	o.log.Info("Walk-forward sweep started",
		zap.String("range", req.Range.String()),
		zap.Int("windows", len(windows)),
		zap.Int("parameter_sets", len(req.Parameters)),
		zap.String("engine", o.engine.Name()),
	)

	parallelism := o.config.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}

	results := make([]WindowResult, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i, window := range windows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			// a started window always finishes
			result, err := o.evaluate(context.WithoutCancel(gctx), req, window)
			if err != nil {
				return err
			}

			results[i] = result

			if o.config.OnWindowDone != nil {
				o.config.OnWindowDone(result)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.IsEngineInvariantViolation(err) {
			o.log.Error("Walk-forward sweep aborted", zap.Error(err))

			return Report{}, err
		}

		return Report{}, errors.Wrap(errors.ErrCodeSweepCancelled, "walk-forward sweep cancelled", err)
	}

	report := Report{
		Windows:   results,
		Aggregate: aggregate(results, o.config.OverfitThreshold),
	}

	o.log.Info("Walk-forward sweep finished",
		zap.Int("windows", report.Aggregate.Windows),
		zap.Int("completed", report.Aggregate.Completed),
		zap.Int("overfit_windows", report.Aggregate.OverfitWindows),
		zap.Bool("overfit", report.Aggregate.Overfit),
	)

	return report, nil
}

// evaluate runs one window. The returned error is non-nil only for invariant violations.
func (o *Optimizer) evaluate(ctx context.Context, req Request, window types.OptimizationWindow) (WindowResult, error) {
	result := WindowResult{
		Window:  window,
		Scores:  make([]ParameterScore, 0, len(req.Parameters)),
		Outcome: optional.None[WindowOutcome](),
		Error:   "",
	}

	log := o.log.With(zap.Int("window", window.Index))

	type candidate struct {
		index   int
		metrics types.Metrics
	}

	var candidates []candidate

	for i, params := range req.Parameters {
		run, err := o.run(ctx, req, params, window.Train())
		if err != nil {
			if errors.IsEngineInvariantViolation(err) {
				return WindowResult{}, o.windowError(window, err)
			}

			log.Warn("Parameter set failed in-sample", zap.String("params", params.Name), zap.Error(err))
			result.Scores = append(result.Scores, ParameterScore{Name: params.Name, Sharpe: optional.None[float64](), Error: err.Error()})

			continue
		}

		result.Scores = append(result.Scores, ParameterScore{
			Name:        params.Name,
			Sharpe:      run.Metrics.Sharpe,
			MaxDrawdown: run.Metrics.MaxDrawdown,
		})

		if run.Metrics.Sharpe.IsSome() {
			candidates = append(candidates, candidate{index: i, metrics: run.Metrics})
		}
	}

	if len(candidates) == 0 {
		return o.fail(result, errors.Newf(errors.ErrCodeNoInSampleMetrics,
			"window %d: no parameter set produced an in-sample Sharpe ratio", window.Index)), nil
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		sa, sb := candidates[a].metrics.Sharpe.Unwrap(), candidates[b].metrics.Sharpe.Unwrap()
		if sa != sb {
			return sa > sb
		}

		if candidates[a].metrics.MaxDrawdown != candidates[b].metrics.MaxDrawdown {
			return candidates[a].metrics.MaxDrawdown < candidates[b].metrics.MaxDrawdown
		}

		return candidates[a].index < candidates[b].index
	})

	best := candidates[0]
	selected := req.Parameters[best.index]

	oos, err := o.run(ctx, req, selected, window.Test())
	if err != nil {
		if errors.IsEngineInvariantViolation(err) {
			return WindowResult{}, o.windowError(window, err)
		}

		return o.fail(result, errors.Wrapf(errors.ErrCodeWindowFailed, err,
			"window %d: out-of-sample run failed", window.Index)), nil
	}

	if oos.Metrics.TotalTrades == 0 {
		return o.fail(result, errors.Newf(errors.ErrCodeWindowFailed,
			"window %d: no out-of-sample trades", window.Index)), nil
	}

	outcome := WindowOutcome{
		Selected:    selected,
		InSample:    best.metrics,
		OutOfSample: oos.Metrics,
		Overfit:     false,
	}

	if oos.Metrics.Sharpe.IsSome() {
		outcome.Overfit = best.metrics.Sharpe.Unwrap()-oos.Metrics.Sharpe.Unwrap() > o.config.OverfitThreshold
	}

	result.Outcome = optional.Some(outcome)

	log.Info("Window evaluated",
		zap.String("selected", selected.Name),
		zap.Float64("in_sample_sharpe", best.metrics.Sharpe.Unwrap()),
		zap.Float64("out_of_sample_sharpe", oos.Metrics.Sharpe.TakeOr(0)),
		zap.Bool("overfit", outcome.Overfit),
	)

	return result, nil
}

func (o *Optimizer) run(ctx context.Context, req Request, params types.ParameterSet, dateRange types.DateRange) (engine.RunResult, error) {
	signals, err := req.Strategy(strategy.FactoryContext{
		Params:     params,
		Prices:     req.Prices,
		Range:      dateRange,
		SignalFile: req.SignalFile,
	})
	if err != nil {
		return engine.RunResult{}, err
	}

	result, err := o.engine.Run(ctx, engine.RunRequest{
		Signals:            signals,
		Prices:             req.Prices,
		CostModel:          req.CostModel,
		Range:              dateRange,
		InitialCapital:     req.InitialCapital,
		RiskFreeRate:       req.RiskFreeRate,
		VolumeLookbackDays: req.VolumeLookbackDays,
		Sink:               optional.None[engine.PersistenceSink](),
		Callbacks:          engine.LifecycleCallbacks{},
	})
	if err != nil {
		return engine.RunResult{}, errors.Wrapf(errors.GetCode(err), err, "%s on %s", params.Name, dateRange)
	}

	return result, nil
}

func (o *Optimizer) fail(result WindowResult, err error) WindowResult {
	o.log.Warn("Window produced no result", zap.Int("window", result.Window.Index), zap.Error(err))

	result.Error = err.Error()

	return result
}

func (o *Optimizer) windowError(window types.OptimizationWindow, err error) error {
	return errors.Wrapf(errors.ErrCodeEngineInvariantViolation, err, "window %d (%s, %s) failed",
		window.Index, window.Train(), window.Test())
}

func aggregate(results []WindowResult, threshold float64) Aggregate {
	agg := Aggregate{
		Windows:                 len(results),
		MeanInSampleSharpe:      optional.None[float64](),
		MeanOutOfSampleSharpe:   optional.None[float64](),
		MedianOutOfSampleSharpe: optional.None[float64](),
		PositiveFraction:        optional.None[float64](),
	}

	var (
		inSample    []float64
		outOfSample []float64
		positive    int
	)

	for _, result := range results {
		if result.Outcome.IsNone() {
			continue
		}

		outcome := result.Outcome.Unwrap()
		agg.Completed++

		if outcome.Overfit {
			agg.OverfitWindows++
		}

		if outcome.OutOfSample.TotalReturn.TakeOr(0) > 0 {
			positive++
		}

		if outcome.OutOfSample.Sharpe.IsSome() {
			inSample = append(inSample, outcome.InSample.Sharpe.Unwrap())
			outOfSample = append(outOfSample, outcome.OutOfSample.Sharpe.Unwrap())
		}
	}

	if agg.Completed > 0 {
		agg.PositiveFraction = optional.Some(float64(positive) / float64(agg.Completed))
	}

	if len(outOfSample) > 0 {
		meanIS, meanOOS := mean(inSample), mean(outOfSample)

		agg.MeanInSampleSharpe = optional.Some(meanIS)
		agg.MeanOutOfSampleSharpe = optional.Some(meanOOS)
		agg.MedianOutOfSampleSharpe = optional.Some(median(outOfSample))
		agg.Overfit = meanIS-meanOOS > threshold
	}

	return agg
}

func mean(values []float64) float64 {
	total := 0.0
	for _, value := range values {
		total += value
	}

	return total / float64(len(values))
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}

	return (sorted[mid-1] + sorted[mid]) / 2
}
