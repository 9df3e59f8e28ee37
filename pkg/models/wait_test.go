package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWaitDuration(t *testing.T) {
	duration, err := ParseWaitDuration(map[string]any{"duration": 30, "unit": "minutes"})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, duration)

	duration, err = ParseWaitDuration(map[string]any{"duration": 2, "unit": "hours"})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, duration)

	// JSON decoding hands numbers over as float64.
	duration, err = ParseWaitDuration(map[string]any{"duration": float64(3), "unit": "days"})
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, duration)

	duration, err = ParseWaitDuration(map[string]any{"duration": 1.5, "unit": "hours"})
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, duration)
}

func TestParseWaitDuration_NegativeClampsToZero(t *testing.T) {
	duration, err := ParseWaitDuration(map[string]any{"duration": -5, "unit": "minutes"})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), duration)
}

func TestParseWaitDuration_UnknownUnit(t *testing.T) {
	_, err := ParseWaitDuration(map[string]any{"duration": 5, "unit": "fortnights"})
	assert.Error(t, err)
}

func TestParseWaitDuration_MissingDuration(t *testing.T) {
	_, err := ParseWaitDuration(map[string]any{"unit": "minutes"})
	assert.Error(t, err)

	_, err = ParseWaitDuration(map[string]any{"duration": "soon", "unit": "minutes"})
	assert.Error(t, err)
}
