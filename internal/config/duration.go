package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// ParseTZOffset parses a signed "HH:MM" offset (e.g. "+03:00", "-05:30")
// into a fixed time.Location.
func ParseTZOffset(raw string) (*time.Location, error) {
	s := strings.TrimSpace(raw)
	if len(s) != 6 || (s[0] != '+' && s[0] != '-') || s[3] != ':' {
		return nil, fmt.Errorf("invalid offset %q: want signed HH:MM", raw)
	}
	h, err := strconv.Atoi(s[1:3])
	if err != nil || h > 14 {
		return nil, fmt.Errorf("invalid offset hours in %q", raw)
	}
	m, err := strconv.Atoi(s[4:6])
	if err != nil || m > 59 {
		return nil, fmt.Errorf("invalid offset minutes in %q", raw)
	}
	sec := h*3600 + m*60
	if s[0] == '-' {
		sec = -sec
	}
	return time.FixedZone("UTC"+s, sec), nil
}
