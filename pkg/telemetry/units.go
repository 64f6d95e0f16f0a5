package telemetry

import (
	"fmt"
	"math"
	"strings"
)

// UnitMode decides how power values read from the portal are interpreted.
type UnitMode string

const (
	// UnitWatts never rescales.
	UnitWatts UnitMode = "watts"
	// UnitKilowatts always multiplies by 1000.
	UnitKilowatts UnitMode = "kilowatts"
	// UnitAuto treats magnitudes below the threshold as kilowatts. The portal
	// is inconsistent about units across endpoints; this is a heuristic and
	// not a documented contract.
	UnitAuto UnitMode = "auto"

	DefaultKWThreshold = 50
)

// ParseUnitMode parses a unit mode, accepting a few common spellings.
func ParseUnitMode(s string) (UnitMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "watts", "w", "watt":
		return UnitWatts, nil
	case "kilowatts", "kw", "kilowatt":
		return UnitKilowatts, nil
	case "auto", "":
		return UnitAuto, nil
	default:
		return "", fmt.Errorf("unknown power unit mode: %q", s)
	}
}

// NormalizePower returns v in watts according to mode.
func NormalizePower(v float64, mode UnitMode, threshold float64) float64 {
	switch mode {
	case UnitKilowatts:
		return v * 1000
	case UnitAuto:
		if v != 0 && math.Abs(v) < threshold {
			return v * 1000
		}
		return v
	default:
		return v
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
