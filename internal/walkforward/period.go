package walkforward

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Period is a calendar length such as "3y", "6m", "30d" or a combination like "1y6m".
type Period struct {
	Years  int `json:"years" validate:"gte=0"`
	Months int `json:"months" validate:"gte=0"`
	Days   int `json:"days" validate:"gte=0"`
}

// ParsePeriod parses a period string. Units are y, m and d; each may appear at most once.
func ParsePeriod(value string) (Period, error) {
	text := strings.ToLower(strings.TrimSpace(value))
	if text == "" {
		return Period{}, errors.New(errors.ErrCodeInvalidPeriod, "period is empty")
	}

	var (
		period Period
		seen   = make(map[rune]bool)
		digits strings.Builder
	)

	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)

			continue
		}

		if digits.Len() == 0 {
			return Period{}, errors.Newf(errors.ErrCodeInvalidPeriod, "period %q: unit %q has no amount", value, r)
		}

		if seen[r] {
			return Period{}, errors.Newf(errors.ErrCodeInvalidPeriod, "period %q: unit %q repeated", value, r)
		}

		amount, err := strconv.Atoi(digits.String())
		if err != nil {
			return Period{}, errors.Wrapf(errors.ErrCodeInvalidPeriod, err, "period %q", value)
		}

		switch r {
		case 'y':
			period.Years = amount
		case 'm':
			period.Months = amount
		case 'd':
			period.Days = amount
		default:
			return Period{}, errors.Newf(errors.ErrCodeInvalidPeriod, "period %q: unknown unit %q", value, r)
		}

		seen[r] = true
		digits.Reset()
	}

	if digits.Len() > 0 {
		return Period{}, errors.Newf(errors.ErrCodeInvalidPeriod, "period %q: amount %s has no unit", value, digits.String())
	}

	if period.IsZero() {
		return Period{}, errors.Newf(errors.ErrCodeInvalidPeriod, "period %q is zero", value)
	}

	return period, nil
}

// MustParsePeriod is ParsePeriod for constants. It panics on error.
func MustParsePeriod(value string) Period {
	period, err := ParsePeriod(value)
	if err != nil {
		panic(err)
	}

	return period
}

// IsZero reports whether the period has no length.
func (p Period) IsZero() bool {
	return p.Years == 0 && p.Months == 0 && p.Days == 0
}

// AddTo returns t moved forward by the period.
func (p Period) AddTo(t time.Time) time.Time {
	return t.AddDate(p.Years, p.Months, p.Days)
}

// Times returns the period repeated n times.
func (p Period) Times(n int) Period {
	return Period{Years: p.Years * n, Months: p.Months * n, Days: p.Days * n}
}

// String formats the period in the form accepted by ParsePeriod.
func (p Period) String() string {
	var b strings.Builder

	if p.Years > 0 {
		fmt.Fprintf(&b, "%dy", p.Years)
	}

	if p.Months > 0 {
		fmt.Fprintf(&b, "%dm", p.Months)
	}

	if p.Days > 0 || b.Len() == 0 {
		fmt.Fprintf(&b, "%dd", p.Days)
	}

	return b.String()
}

// UnmarshalYAML implements yaml.Unmarshaler for period strings.
func (p *Period) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}

	parsed, err := ParsePeriod(text)
	if err != nil {
		return err
	}

	*p = parsed

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (p Period) MarshalYAML() (any, error) {
	return p.String(), nil
}

// MarshalJSON writes the period as its string form.
func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON implements json.Unmarshaler for period strings.
func (p *Period) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidPeriod, "period must be a string", err)
	}

	parsed, err := ParsePeriod(text)
	if err != nil {
		return err
	}

	*p = parsed

	return nil
}

// JSONSchema describes the string form of a period.
func (Period) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^[0-9]+[yYmMdD]([0-9]+[yYmMdD]){0,2}$`,
		Description: "Calendar length such as 3y, 6m, 30d or 1y6m",
	}
}
