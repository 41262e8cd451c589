package engine

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/cost_model"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/internal/version"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"gopkg.in/yaml.v3"
)

type BacktestEngineV1Config struct {
	InitialCapital float64                `yaml:"initial_capital" json:"initial_capital" validate:"gte=0" jsonschema:"title=Initial Capital,description=Starting cash of the portfolio,minimum=0"`
	CostProfile    cost_model.ProfileName `yaml:"cost_profile" json:"cost_profile" jsonschema:"title=Cost Profile,description=Named transaction cost regime or custom"`
	// CustomCost is required when CostProfile is custom and ignored otherwise.
	CustomCost         optional.Option[CustomCostConfig] `yaml:"custom_cost" json:"custom_cost" jsonschema:"title=Custom Cost,description=Cost parameters used by the custom profile"`
	StartTime          optional.Option[time.Time]        `yaml:"start_time" json:"start_time" jsonschema:"title=Start Time,description=Optional first trading day of the backtest (inclusive)"`
	EndTime            optional.Option[time.Time]        `yaml:"end_time" json:"end_time" jsonschema:"title=End Time,description=Optional end of the backtest period (exclusive)"`
	RiskFreeRate       float64                           `yaml:"risk_free_rate" json:"risk_free_rate" validate:"gte=0,lt=1" jsonschema:"title=Risk Free Rate,description=Annual risk-free rate used by Sharpe and Sortino,minimum=0"`
	VolumeLookbackDays int                               `yaml:"volume_lookback_days" json:"volume_lookback_days" validate:"gte=0" jsonschema:"title=Volume Lookback Days,description=Trading days averaged for market impact volume,minimum=0"`
	// EngineVersion pins the engine release the configuration was written for. Empty skips the check.
	EngineVersion string `yaml:"engine_version" json:"engine_version,omitempty" jsonschema:"title=Engine Version,description=Engine release the configuration targets. Major and minor must match"`
}

// CustomCostConfig is the YAML form of cost_model.CustomParameters.
type CustomCostConfig struct {
	CommissionRate          float64                         `yaml:"commission_rate" json:"commission_rate"`
	SlippageBps             float64                         `yaml:"slippage_bps" json:"slippage_bps"`
	MarketImpactCoefficient float64                         `yaml:"market_impact_coefficient" json:"market_impact_coefficient"`
	TimeOfDayMultipliers    cost_model.TimeOfDayMultipliers `yaml:"time_of_day_multipliers" json:"time_of_day_multipliers"`
	ImpactCapFraction       float64                         `yaml:"impact_cap_fraction" json:"impact_cap_fraction"`
}

// UnmarshalYAML implements custom unmarshaling for BacktestEngineV1Config
func (c *BacktestEngineV1Config) UnmarshalYAML(value *yaml.Node) error {
	type Config struct {
		InitialCapital     float64                `yaml:"initial_capital"`
		CostProfile        cost_model.ProfileName `yaml:"cost_profile"`
		CustomCost         *CustomCostConfig      `yaml:"custom_cost"`
		StartTime          *time.Time             `yaml:"start_time"`
		EndTime            *time.Time             `yaml:"end_time"`
		RiskFreeRate       float64                `yaml:"risk_free_rate"`
		VolumeLookbackDays int                    `yaml:"volume_lookback_days"`
		EngineVersion      string                 `yaml:"engine_version"`
	}

	config := Config{CostProfile: cost_model.ProfileStandard}
	if err := value.Decode(&config); err != nil {
		return err
	}

	c.InitialCapital = config.InitialCapital
	c.CostProfile = config.CostProfile
	c.RiskFreeRate = config.RiskFreeRate
	c.VolumeLookbackDays = config.VolumeLookbackDays
	c.EngineVersion = config.EngineVersion
	c.CustomCost = optional.None[CustomCostConfig]()
	c.StartTime = optional.None[time.Time]()
	c.EndTime = optional.None[time.Time]()

	if config.CustomCost != nil {
		c.CustomCost = optional.Some(*config.CustomCost)
	}

	if config.StartTime != nil {
		c.StartTime = optional.Some(types.TruncateToDay(*config.StartTime))
	}

	if config.EndTime != nil {
		c.EndTime = optional.Some(types.TruncateToDay(*config.EndTime))
	}

	return nil
}

// MarshalYAML writes unset options as omitted keys so that the output loads back with LoadConfig.
func (c BacktestEngineV1Config) MarshalYAML() (any, error) {
	type Config struct {
		InitialCapital     float64                `yaml:"initial_capital"`
		CostProfile        cost_model.ProfileName `yaml:"cost_profile"`
		CustomCost         *CustomCostConfig      `yaml:"custom_cost,omitempty"`
		StartTime          *time.Time             `yaml:"start_time,omitempty"`
		EndTime            *time.Time             `yaml:"end_time,omitempty"`
		RiskFreeRate       float64                `yaml:"risk_free_rate"`
		VolumeLookbackDays int                    `yaml:"volume_lookback_days"`
		EngineVersion      string                 `yaml:"engine_version,omitempty"`
	}

	config := Config{
		InitialCapital:     c.InitialCapital,
		CostProfile:        c.CostProfile,
		RiskFreeRate:       c.RiskFreeRate,
		VolumeLookbackDays: c.VolumeLookbackDays,
		EngineVersion:      c.EngineVersion,
	}

	if c.CustomCost.IsSome() {
		custom := c.CustomCost.Unwrap()
		config.CustomCost = &custom
	}

	if c.StartTime.IsSome() {
		start := c.StartTime.Unwrap()
		config.StartTime = &start
	}

	if c.EndTime.IsSome() {
		end := c.EndTime.Unwrap()
		config.EndTime = &end
	}

	return config, nil
}

// Validate checks the numeric fields and that the cost model can be built.
func (c BacktestEngineV1Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid backtest configuration", err)
	}

	if c.EngineVersion != "" {
		if err := version.CheckVersionCompatibility(version.GetVersion(), c.EngineVersion); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfiguration, "configuration targets another engine version", err)
		}
	}

	if _, err := c.CostModel(); err != nil {
		return err
	}

	if c.StartTime.IsSome() && c.EndTime.IsSome() {
		if _, err := types.NewDateRange(c.StartTime.Unwrap(), c.EndTime.Unwrap()); err != nil {
			return err
		}
	}

	return nil
}

// CostModel builds the configured cost model.
func (c BacktestEngineV1Config) CostModel() (cost_model.CostModel, error) {
	if c.CostProfile != cost_model.ProfileCustom {
		return cost_model.NewCostModelByName(string(c.CostProfile))
	}

	if c.CustomCost.IsNone() {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "custom cost profile requires custom_cost parameters")
	}

	custom := c.CustomCost.Unwrap()

	profile, err := cost_model.NewCustomProfile(cost_model.CustomParameters{
		CommissionRate:          custom.CommissionRate,
		SlippageBps:             custom.SlippageBps,
		MarketImpactCoefficient: custom.MarketImpactCoefficient,
		TimeOfDayMultipliers:    custom.TimeOfDayMultipliers,
		ImpactCapFraction:       custom.ImpactCapFraction,
	})
	if err != nil {
		return nil, err
	}

	return cost_model.NewCostModel(profile), nil
}

// DateRange returns the configured range. Both bounds must be set.
func (c BacktestEngineV1Config) DateRange() (types.DateRange, error) {
	if c.StartTime.IsNone() || c.EndTime.IsNone() {
		return types.DateRange{}, errors.New(errors.ErrCodeInvalidDateRange, "backtest configuration needs start_time and end_time")
	}

	return types.NewDateRange(c.StartTime.Unwrap(), c.EndTime.Unwrap())
}

// Request builds the engine request for a signal provider and price provider.
func (c BacktestEngineV1Config) Request() (engine.RunRequest, error) {
	if err := c.Validate(); err != nil {
		return engine.RunRequest{}, err
	}

	dateRange, err := c.DateRange()
	if err != nil {
		return engine.RunRequest{}, err
	}

	costModel, err := c.CostModel()
	if err != nil {
		return engine.RunRequest{}, err
	}

	return engine.RunRequest{
		Signals:            nil,
		Prices:             nil,
		CostModel:          costModel,
		Range:              dateRange,
		InitialCapital:     c.InitialCapital,
		RiskFreeRate:       c.RiskFreeRate,
		VolumeLookbackDays: c.VolumeLookbackDays,
		Sink:               optional.None[engine.PersistenceSink](),
		Callbacks:          engine.LifecycleCallbacks{},
	}, nil
}

// GenerateSchema generates a JSON schema for the BacktestEngineV1Config
func (c *BacktestEngineV1Config) GenerateSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t.String() == "optional.Option[time.Time]" {
				return &jsonschema.Schema{
					Type:   "string",
					Format: "date-time",
				}
			}

			if t.Kind() == reflect.Slice && strings.HasSuffix(t.String(), "CustomCostConfig]") {
				inner := (&jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}).ReflectFromType(t.Elem())
				inner.Version = ""

				return inner
			}

			if strings.Contains(t.String(), "cost_model.ProfileName") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: profileEnum(),
				}
			}

			return nil
		},
	}

	schema := reflector.Reflect(c)

	schema.Title = "backtest-engine-v1-config"
	schema.Description = "Configuration schema for BacktestEngineV1"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema, nil
}

// GenerateSchemaJSON generates a JSON schema string for the BacktestEngineV1Config
func (c *BacktestEngineV1Config) GenerateSchemaJSON() (string, error) {
	schema, err := c.GenerateSchema()
	if err != nil {
		return "", err
	}

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}

// LoadConfig parses and validates a YAML configuration.
func LoadConfig(data []byte) (BacktestEngineV1Config, error) {
	config := EmptyConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return BacktestEngineV1Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse backtest configuration", err)
	}

	if err := config.Validate(); err != nil {
		return BacktestEngineV1Config{}, err
	}

	return config, nil
}

func TestConfig(startTime time.Time, endTime time.Time, profile cost_model.ProfileName) BacktestEngineV1Config {
	return BacktestEngineV1Config{
		InitialCapital:     10000,
		CostProfile:        profile,
		CustomCost:         optional.None[CustomCostConfig](),
		StartTime:          optional.Some(startTime),
		EndTime:            optional.Some(endTime),
		RiskFreeRate:       0,
		VolumeLookbackDays: engine.DefaultVolumeLookbackDays,
	}
}

// EmptyConfig returns a BacktestEngineV1Config with default values
func EmptyConfig() BacktestEngineV1Config {
	return BacktestEngineV1Config{
		InitialCapital:     0,
		CostProfile:        cost_model.ProfileStandard,
		CustomCost:         optional.None[CustomCostConfig](),
		StartTime:          optional.None[time.Time](),
		EndTime:            optional.None[time.Time](),
		RiskFreeRate:       0,
		VolumeLookbackDays: engine.DefaultVolumeLookbackDays,
	}
}

func profileEnum() []any {
	enum := make([]any, 0, len(cost_model.AllProfiles)+1)
	for _, name := range cost_model.AllProfiles {
		enum = append(enum, name)
	}

	return append(enum, cost_model.ProfileCustom)
}
