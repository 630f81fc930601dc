package mount

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseStatus parses a status response such as "5#".
func ParseStatus(s string) (int, error) {
	v := strings.TrimSuffix(strings.TrimSpace(s), "#")
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("mount: bad status %q", s)
	}
	return n, nil
}

// ParseDec parses a declination in degrees. Accepted forms are
// "+DD:MM:SS.SS", "+DD*MM" and plain decimal degrees, with or without
// the trailing '#'.
func ParseDec(s string) (float64, error) {
	v := strings.TrimSuffix(strings.TrimSpace(s), "#")
	switch {
	case strings.Contains(v, ":"):
		return parseSexagesimal(v, ":")
	case strings.Contains(v, "*"):
		return parseSexagesimal(v, "*")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("mount: bad declination %q", s)
	}
	return f, nil
}

// ParseRA parses a right ascension in hours, "HH:MM:SS.SS" or decimal.
func ParseRA(s string) (float64, error) {
	v := strings.TrimSuffix(strings.TrimSpace(s), "#")
	if strings.Contains(v, ":") {
		return parseSexagesimal(v, ":")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("mount: bad right ascension %q", s)
	}
	return f, nil
}

func parseSexagesimal(v, sep string) (float64, error) {
	neg := strings.HasPrefix(v, "-")
	v = strings.TrimLeft(v, "+-")

	parts := strings.Split(v, sep)
	if len(parts) > 3 {
		return 0, fmt.Errorf("mount: bad coordinate %q", v)
	}
	var out float64
	scale := 1.0
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, fmt.Errorf("mount: bad coordinate %q", v)
		}
		out += f / scale
		scale *= 60
	}
	if neg {
		out = -out
	}
	return out, nil
}

// DecDrift is the absolute declination difference in degrees.
func DecDrift(actual, expected float64) float64 {
	return math.Abs(actual - expected)
}

// RADrift is the right ascension difference in hours, wrapping at 24h.
func RADrift(actual, expected float64) float64 {
	d := math.Abs(actual - expected)
	if d > 12 {
		d = 24 - d
	}
	return d
}
