package models

import (
	"fmt"
	"time"
)

// Wait node duration units. Durations are expressed by the editor in
// minutes, hours or days and converted to a time.Duration internally.
const (
	WaitUnitMinutes = "minutes"
	WaitUnitHours   = "hours"
	WaitUnitDays    = "days"
)

// ParseWaitDuration reads the duration/unit pair out of a wait node's config.
// Zero and negative durations are clamped to zero so the run resumes on the
// next tick.
func ParseWaitDuration(config map[string]any) (time.Duration, error) {
	amount, ok := toFloat(config["duration"])
	if !ok {
		return 0, fmt.Errorf("wait node config has no numeric duration, got %T", config["duration"])
	}

	unit, _ := config["unit"].(string)

	var per time.Duration

	switch unit {
	case WaitUnitMinutes:
		per = time.Minute
	case WaitUnitHours:
		per = time.Hour
	case WaitUnitDays:
		per = 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown wait unit %q", unit)
	}

	duration := time.Duration(amount * float64(per))
	if duration < 0 {
		duration = 0
	}

	return duration, nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
