package walkforward

import (
	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"github.com/rxtech-lab/argo-backtest/pkg/utils"
	"gopkg.in/yaml.v3"
)

// DefaultOverfitThreshold is the in-sample minus out-of-sample Sharpe gap above which a window is
// flagged as overfit.
const DefaultOverfitThreshold = 0.5

// Config is the YAML form of a sweep: the schedule, the parameter space and optimizer settings.
//
//	schedule:
//	  train: 3y
//	  test: 1y
//	  step: 1y
//	parameters:
//	  - name: fast
//	    values: {fast: 5, slow: 20}
//	overfit_threshold: 0.5
//	parallelism: 4
type Config struct {
	Schedule   Schedule             `yaml:"schedule" json:"schedule" jsonschema:"required"`
	Parameters []types.ParameterSet `yaml:"parameters" json:"parameters" validate:"required,min=1,dive" jsonschema:"required,minItems=1"`
	// OverfitThreshold defaults to DefaultOverfitThreshold when omitted.
	OverfitThreshold float64 `yaml:"overfit_threshold" json:"overfit_threshold" validate:"gte=0"`
	// Parallelism bounds the number of windows evaluated at once. Zero uses GOMAXPROCS.
	Parallelism int `yaml:"parallelism" json:"parallelism" validate:"gte=0"`
}

// LoadConfig parses and validates a sweep configuration.
func LoadConfig(data []byte) (Config, error) {
	config := Config{OverfitThreshold: DefaultOverfitThreshold}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse walk-forward configuration", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate checks the parameter space and settings. The schedule is validated against the sweep
// range by GenerateWindows.
func (c Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		if len(c.Parameters) == 0 {
			return errors.Wrap(errors.ErrCodeEmptyParamSpace, "parameter space is empty", err)
		}

		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid walk-forward configuration", err)
	}

	return validateParameters(c.Parameters)
}

func validateParameters(parameters []types.ParameterSet) error {
	if len(parameters) == 0 {
		return errors.New(errors.ErrCodeEmptyParamSpace, "parameter space is empty")
	}

	names := make(map[string]bool, len(parameters))
	for _, set := range parameters {
		if names[set.Name] {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "parameter set %q declared twice", set.Name)
		}

		names[set.Name] = true
	}

	return nil
}

// ConfigSchemaJSON returns the JSON schema of the sweep configuration file.
func ConfigSchemaJSON() (string, error) {
	return utils.ToJSONSchema(Config{}, "walkforward-config")
}
