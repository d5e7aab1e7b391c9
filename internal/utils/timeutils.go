package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseLookbackHours parses an hour count query value bounded by [min, max].
// Empty input yields def.
func ParseLookbackHours(value string, def, min, max int) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Duration(def) * time.Hour, nil
	}
	hours, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("hours must be an integer: %w", err)
	}
	if hours < min || hours > max {
		return 0, fmt.Errorf("hours must be between %d and %d", min, max)
	}
	return time.Duration(hours) * time.Hour, nil
}

// ClockUTC renders t as HH:MM UTC.
func ClockUTC(t time.Time) string {
	return t.UTC().Format("15:04") + " UTC"
}
