// Package config handles application configuration.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// FlexBool is a boolean type that can be unmarshalled from a boolean, a string, or a number.
type FlexBool bool

// UnmarshalYAML implements the yaml.Unmarshaler interface for FlexBool.
func (fb *FlexBool) UnmarshalYAML(value *yaml.Node) error {
	switch value.Tag {
	case "!!bool":
		var b bool
		if err := value.Decode(&b); err != nil {
			return err
		}
		*fb = FlexBool(b)
	case "!!str":
		b, err := strconv.ParseBool(value.Value)
		if err != nil {
			return fmt.Errorf("cannot unmarshal string %q into FlexBool", value.Value)
		}
		*fb = FlexBool(b)
	case "!!int":
		i, err := strconv.Atoi(value.Value)
		if err != nil {
			return err
		}
		*fb = FlexBool(i != 0)
	case "!!float":
		f, err := strconv.ParseFloat(value.Value, 64)
		if err != nil {
			return err
		}
		*fb = FlexBool(f != 0)
	default:
		return fmt.Errorf("cannot unmarshal %s into FlexBool", value.Tag)
	}
	return nil
}

// FlexDecimal is a decimal value that can be unmarshalled from a YAML number or a quoted string.
// Set reports whether the key was present in the file, so required values can be validated.
type FlexDecimal struct {
	decimal.Decimal
	Set bool
}

// NewFlexDecimal wraps a float literal, mostly for tests and programmatic configs.
func NewFlexDecimal(f float64) FlexDecimal {
	return FlexDecimal{Decimal: decimal.NewFromFloat(f), Set: true}
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for FlexDecimal.
func (fd *FlexDecimal) UnmarshalYAML(value *yaml.Node) error {
	switch value.Tag {
	case "!!int", "!!float", "!!str":
		d, err := decimal.NewFromString(value.Value)
		if err != nil {
			return fmt.Errorf("cannot unmarshal %q into FlexDecimal: %w", value.Value, err)
		}
		fd.Decimal = d
		fd.Set = true
	default:
		return fmt.Errorf("cannot unmarshal %s into FlexDecimal", value.Tag)
	}
	return nil
}

// ClockTime is a time of day in the exchange's local time zone, written as "HH:MM:SS".
type ClockTime struct {
	Hour, Minute, Second int
	Set                  bool
}

// ParseClockTime parses "HH:MM:SS" (or "HH:MM").
func ParseClockTime(s string) (ClockTime, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		t, err := time.Parse(layout, s)
		if err == nil {
			return ClockTime{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second(), Set: true}, nil
		}
	}
	return ClockTime{}, fmt.Errorf("invalid time of day %q, expected HH:MM:SS", s)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for ClockTime.
func (ct *ClockTime) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag != "!!str" {
		return fmt.Errorf("cannot unmarshal %s into ClockTime", value.Tag)
	}
	parsed, err := ParseClockTime(value.Value)
	if err != nil {
		return err
	}
	*ct = parsed
	return nil
}

// On returns the instant at this time of day on day's calendar date, in day's location.
func (ct ClockTime) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, ct.Hour, ct.Minute, ct.Second, 0, day.Location())
}

// String formats the clock time as HH:MM:SS.
func (ct ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", ct.Hour, ct.Minute, ct.Second)
}
