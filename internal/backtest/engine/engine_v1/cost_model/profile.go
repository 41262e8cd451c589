package cost_model

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// ProfileName identifies a cost regime.
type ProfileName string

const (
	// ProfileZero charges nothing.
	ProfileZero ProfileName = "zero"
	// ProfileStandard models a retail broker on a liquid exchange.
	ProfileStandard ProfileName = "standard"
	// ProfileLowLiquidity models small caps with wide spreads and heavy impact.
	ProfileLowLiquidity ProfileName = "low_liquidity"
	// ProfileInstitutional models negotiated commissions and algorithmic execution.
	ProfileInstitutional ProfileName = "institutional"
	// ProfileCustom marks profiles built from explicit parameters.
	ProfileCustom ProfileName = "custom"
)

// DefaultImpactCapFraction caps market impact at 10% of an order's notional.
const DefaultImpactCapFraction = 0.10

// AllProfiles lists the named profiles that ProfileByName resolves.
var AllProfiles = []ProfileName{
	ProfileZero,
	ProfileStandard,
	ProfileLowLiquidity,
	ProfileInstitutional,
}

// TimeOfDayMultipliers scale slippage by session. Liquidity is thinnest at the open,
// so Open > Close > Regular.
type TimeOfDayMultipliers struct {
	Open    float64 `yaml:"open" json:"open" validate:"gt=0"`
	Regular float64 `yaml:"regular" json:"regular" validate:"gt=0"`
	Close   float64 `yaml:"close" json:"close" validate:"gt=0"`
}

// For returns the multiplier of a session. Unknown sessions use regular hours.
func (m TimeOfDayMultipliers) For(tod types.TimeOfDay) float64 {
	switch tod {
	case types.TimeOfDayOpen:
		return m.Open
	case types.TimeOfDayClose:
		return m.Close
	default:
		return m.Regular
	}
}

// Profile is an immutable bundle of cost parameters. It is passed by value.
type Profile struct {
	Name                    ProfileName          `yaml:"name" json:"name" validate:"required"`
	CommissionRate          float64              `yaml:"commission_rate" json:"commission_rate" validate:"gte=0,lt=1"`
	SlippageBps             float64              `yaml:"slippage_bps" json:"slippage_bps" validate:"gte=0"`
	MarketImpactCoefficient float64              `yaml:"market_impact_coefficient" json:"market_impact_coefficient" validate:"gte=0"`
	TimeOfDayMultipliers    TimeOfDayMultipliers `yaml:"time_of_day_multipliers" json:"time_of_day_multipliers"`
	// ImpactCapFraction bounds market impact to this fraction of the order's notional.
	ImpactCapFraction float64 `yaml:"impact_cap_fraction" json:"impact_cap_fraction" validate:"gte=0,lte=1"`
}

// CustomParameters are the explicit parameters of a custom profile.
type CustomParameters struct {
	CommissionRate          float64
	SlippageBps             float64
	MarketImpactCoefficient float64
	TimeOfDayMultipliers    TimeOfDayMultipliers
	ImpactCapFraction       float64
}

// Validate validates the profile.
func (p Profile) Validate() error {
	validate := validator.New()
	if err := validate.Struct(p); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidCostProfile, "invalid cost profile", err)
	}

	m := p.TimeOfDayMultipliers
	if !(m.Open > m.Close && m.Close > m.Regular) {
		return errors.Newf(errors.ErrCodeInvalidCostProfile,
			"time of day multipliers must satisfy open > close > regular, got open=%g close=%g regular=%g",
			m.Open, m.Close, m.Regular)
	}

	return nil
}

// ProfileByName resolves one of the named profiles. Unknown names always fail.
func ProfileByName(name string) (Profile, error) {
	switch ProfileName(strings.ToLower(strings.TrimSpace(name))) {
	case ProfileZero:
		return zeroProfile(), nil
	case ProfileStandard:
		return standardProfile(), nil
	case ProfileLowLiquidity:
		return lowLiquidityProfile(), nil
	case ProfileInstitutional:
		return institutionalProfile(), nil
	case ProfileCustom:
		return Profile{}, errors.New(errors.ErrCodeUnknownCostProfile,
			"custom cost profiles must be built with NewCustomProfile")
	default:
		return Profile{}, errors.Newf(errors.ErrCodeUnknownCostProfile, "unknown cost profile %q", name)
	}
}

// NewCustomProfile builds a validated profile from explicit parameters.
func NewCustomProfile(params CustomParameters) (Profile, error) {
	profile := Profile{
		Name:                    ProfileCustom,
		CommissionRate:          params.CommissionRate,
		SlippageBps:             params.SlippageBps,
		MarketImpactCoefficient: params.MarketImpactCoefficient,
		TimeOfDayMultipliers:    params.TimeOfDayMultipliers,
		ImpactCapFraction:       params.ImpactCapFraction,
	}

	if err := profile.Validate(); err != nil {
		return Profile{}, err
	}

	return profile, nil
}

func defaultMultipliers() TimeOfDayMultipliers {
	return TimeOfDayMultipliers{Open: 1.5, Regular: 1.0, Close: 1.2}
}

func zeroProfile() Profile {
	return Profile{
		Name:                    ProfileZero,
		CommissionRate:          0,
		SlippageBps:             0,
		MarketImpactCoefficient: 0,
		TimeOfDayMultipliers:    defaultMultipliers(),
		ImpactCapFraction:       0,
	}
}

func standardProfile() Profile {
	return Profile{
		Name:                    ProfileStandard,
		CommissionRate:          0.00015,
		SlippageBps:             5,
		MarketImpactCoefficient: 0.1,
		TimeOfDayMultipliers:    defaultMultipliers(),
		ImpactCapFraction:       DefaultImpactCapFraction,
	}
}

func lowLiquidityProfile() Profile {
	return Profile{
		Name:                    ProfileLowLiquidity,
		CommissionRate:          0.00015,
		SlippageBps:             15,
		MarketImpactCoefficient: 0.3,
		TimeOfDayMultipliers:    TimeOfDayMultipliers{Open: 2.0, Regular: 1.0, Close: 1.5},
		ImpactCapFraction:       DefaultImpactCapFraction,
	}
}

func institutionalProfile() Profile {
	return Profile{
		Name:                    ProfileInstitutional,
		CommissionRate:          0.00005,
		SlippageBps:             2,
		MarketImpactCoefficient: 0.05,
		TimeOfDayMultipliers:    TimeOfDayMultipliers{Open: 1.3, Regular: 1.0, Close: 1.1},
		ImpactCapFraction:       DefaultImpactCapFraction,
	}
}
