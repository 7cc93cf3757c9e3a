// Package knockduration parses the gateway's human duration strings
// ("5s", "30m", "1y") into time.Duration. The grammar extends
// time.ParseDuration with calendar-ish units the standard parser lacks.
package knockduration

import (
	"fmt"
	"strconv"
	"time"
)

// unit multipliers, in time.Duration units. Week/month/year are
// approximated as 7/30/365 days, matching the gateway's stated
// approximation rather than calendar-accurate arithmetic.
var units = map[string]time.Duration{
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  24 * time.Hour,
	"w":  7 * 24 * time.Hour,
	"M":  30 * 24 * time.Hour,
	"y":  365 * 24 * time.Hour,
}

// Parse parses a string of the form "<n><unit>" where unit is one of
// ms, s, m, h, d, w, M, y. Parsing is strict: no whitespace, no sign,
// no unrecognized unit.
func Parse(s string) (time.Duration, error) {
	unit, numLen := splitUnit(s)
	if unit == "" {
		return 0, fmt.Errorf("knockduration: missing unit in %q", s)
	}
	mult, ok := units[unit]
	if !ok {
		return 0, fmt.Errorf("knockduration: unknown unit %q in %q", unit, s)
	}
	if numLen == 0 {
		return 0, fmt.Errorf("knockduration: missing number in %q", s)
	}
	if s[0] == '+' {
		return 0, fmt.Errorf("knockduration: sign not allowed in %q", s)
	}
	n, err := strconv.ParseFloat(s[:numLen], 64)
	if err != nil {
		return 0, fmt.Errorf("knockduration: invalid number in %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("knockduration: negative duration in %q", s)
	}
	return time.Duration(n * float64(mult)), nil
}

// splitUnit finds the longest recognized unit suffix and returns it along
// with the length of the numeric prefix that precedes it. "ms" is checked
// before "m" so milliseconds are not misparsed as minutes.
func splitUnit(s string) (unit string, numLen int) {
	for _, candidate := range []string{"ms", "s", "m", "h", "d", "w", "M", "y"} {
		if len(s) > len(candidate) && s[len(s)-len(candidate):] == candidate {
			return candidate, len(s) - len(candidate)
		}
	}
	return "", 0
}

// MustParse is like Parse but panics on error; useful for constants derived
// from literals known to be valid at compile time.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}
