package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestFlexBool_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
		wantErr  bool
	}{
		{"v: true", true, false},
		{"v: \"false\"", false, false},
		{"v: 1", true, false},
		{"v: 0.0", false, false},
		{"v: \"maybe\"", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var out struct {
				V FlexBool `yaml:"v"`
			}
			err := yaml.Unmarshal([]byte(tt.input), &out)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, bool(out.V))
		})
	}
}

func TestFlexDecimal_UnmarshalYAML(t *testing.T) {
	var out struct {
		A FlexDecimal `yaml:"a"`
		B FlexDecimal `yaml:"b"`
		C FlexDecimal `yaml:"c"`
		D FlexDecimal `yaml:"d"`
	}
	err := yaml.Unmarshal([]byte("a: 5\nb: 0.3\nc: \"-1200.50\"\n"), &out)
	require.NoError(t, err)

	assert.True(t, out.A.Equal(decimal.NewFromInt(5)))
	assert.True(t, out.B.Equal(decimal.RequireFromString("0.3")))
	assert.True(t, out.C.Equal(decimal.RequireFromString("-1200.5")))
	assert.True(t, out.A.Set)
	assert.False(t, out.D.Set, "absent key must not be marked as set")

	err = yaml.Unmarshal([]byte("a: [1, 2]\n"), &out)
	assert.Error(t, err)
}

func TestClockTime(t *testing.T) {
	ct, err := ParseClockTime("09:22:00")
	require.NoError(t, err)
	assert.Equal(t, "09:22:00", ct.String())

	short, err := ParseClockTime("15:30")
	require.NoError(t, err)
	assert.Equal(t, "15:30:00", short.String())

	_, err = ParseClockTime("9am")
	assert.Error(t, err)

	loc := time.FixedZone("IST", 5*3600+1800)
	day := time.Date(2025, 5, 15, 13, 45, 10, 0, loc)
	assert.Equal(t, time.Date(2025, 5, 15, 9, 22, 0, 0, loc), ct.On(day))

	var out struct {
		T ClockTime `yaml:"t"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("t: \"09:15:00\""), &out))
	assert.True(t, out.T.Set)
	assert.Equal(t, 9, out.T.Hour)
	assert.Equal(t, 15, out.T.Minute)
}
