package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"rfc3339", "2026-01-15T10:30:00Z", time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"rfc3339 with offset", "2026-01-15T12:30:00+02:00", time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"fractional seconds", "2026-01-15T10:30:00.250Z", time.Date(2026, 1, 15, 10, 30, 0, 250_000_000, time.UTC)},
		{"no zone", "2026-01-15T10:30:00", time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"date only", "2026-01-15", time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := Parse(test.input)
			require.NoError(t, err)
			assert.True(t, got.Equal(test.want), "got %v want %v", got, test.want)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, input := range []string{"", "yesterday", "15/01/2026", "1737000000"} {
		_, err := Parse(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestParseOptional(t *testing.T) {
	got, err := ParseOptional("")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = ParseOptional("2026-01-15T10:30:00Z")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2026, got.Year())

	_, err = ParseOptional("junk")
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	loc := time.FixedZone("X", 3600)
	in := time.Date(2026, 1, 15, 11, 30, 0, 0, loc)
	assert.Equal(t, "2026-01-15T10:30:00Z", Format(in))
}
