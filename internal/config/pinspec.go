package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alubbock/rpi-vidlooper/internal/pinmap"
)

// ParsePinSpec parses a pin mapping string of the form
// "in:out,in:out,..." or "in,in,..." (no indicator outputs). Pins are
// BCM numbers. Duplicate inputs are rejected later by pinmap.New; this
// only checks syntax.
func ParsePinSpec(spec string) ([]pinmap.Pair, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, &ConfigError{fmt.Errorf("empty pin specification")}
	}

	fields := strings.Split(spec, ",")
	pairs := make([]pinmap.Pair, 0, len(fields))

	for _, field := range fields {
		field = strings.TrimSpace(field)
		parts := strings.Split(field, ":")
		if len(parts) == 0 || len(parts) > 2 || parts[0] == "" {
			return nil, &ConfigError{fmt.Errorf("invalid pin pair %q (want IN or IN:OUT)", field)}
		}

		in, err := strconv.Atoi(parts[0])
		if err != nil || in < 0 {
			return nil, &ConfigError{fmt.Errorf("input pin must be a non-negative integer, got %q", parts[0])}
		}

		out := pinmap.NoOutput
		if len(parts) == 2 {
			out, err = strconv.Atoi(parts[1])
			if err != nil || out < 0 {
				return nil, &ConfigError{fmt.Errorf("output pin must be a non-negative integer, got %q", parts[1])}
			}
		}

		pairs = append(pairs, pinmap.Pair{Input: in, Output: out})
	}

	return pairs, nil
}
