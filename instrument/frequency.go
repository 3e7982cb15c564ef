package instrument

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/microscpi/pkg"
)

// Default bus and clock rates.
const (
	DefaultI2CFrequency = 100 * physic.KiloHertz
	DefaultSPIFrequency = 1 * physic.MegaHertz
	DefaultClock        = 125 * physic.MegaHertz
	DefaultPWMFrequency = 1 * physic.KiloHertz
)

var frequencyUnits = []struct {
	suffix string
	unit   physic.Frequency
}{
	// Longest suffix first. SCPI suffixes are case-insensitive, so MHZ is
	// mega and there is no milli prefix.
	{"GHZ", physic.GigaHertz},
	{"MHZ", physic.MegaHertz},
	{"KHZ", physic.KiloHertz},
	{"HZ", physic.Hertz},
}

// ParseFrequency parses numeric program data with an optional HZ, KHZ, MHZ
// or GHZ suffix. A bare number is in hertz.
func ParseFrequency(s string) (physic.Frequency, error) {
	s = strings.TrimSpace(s)
	num, unit := s, physic.Hertz
	upper := strings.ToUpper(s)
	for _, u := range frequencyUnits {
		if strings.HasSuffix(upper, u.suffix) {
			num, unit = strings.TrimSpace(s[:len(s)-len(u.suffix)]), u.unit
			break
		}
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: frequency %q", pkg.ErrInvalidParameter, s)
	}
	f := v * float64(unit)
	if f < 0 || f > math.MaxInt64 {
		return 0, fmt.Errorf("%w: frequency %q out of range", pkg.ErrInvalidParameter, s)
	}
	return physic.Frequency(math.Round(f)), nil
}

// formatHertz renders f as a whole number of hertz.
func formatHertz(f physic.Frequency) string {
	return strconv.FormatInt(int64(f/physic.Hertz), 10)
}
