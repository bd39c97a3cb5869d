package pid

import (
	"errors"
	"math"
)

// ErrInvalidLimits is returned when a lower output limit is not below the upper one.
var ErrInvalidLimits = errors.New("pid: lower limit must be less than upper")

// Limits bounds a value to [Min, Max]. Use math.Inf for an open side.
type Limits struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// NoLimits returns limits that leave every value unchanged.
func NoLimits() Limits {
	return Limits{Min: math.Inf(-1), Max: math.Inf(1)}
}

// Symmetric returns limits of [-m, m].
func Symmetric(m float64) Limits {
	return Limits{Min: -m, Max: m}
}

// Validate reports ErrInvalidLimits when Min >= Max.
func (l Limits) Validate() error {
	if l.Min >= l.Max {
		return ErrInvalidLimits
	}
	return nil
}

// Clamp restricts v to the limits.
func (l Limits) Clamp(v float64) float64 {
	return Clamp(v, l.Min, l.Max)
}

// Clamp restricts v to the range [min, max].
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// WrapDegrees folds an angle into [-180, 180).
// 190 becomes -170 and -190 becomes 170.
func WrapDegrees(deg float64) float64 {
	w := math.Mod(deg+180, 360)
	if w < 0 {
		w += 360
	}
	return w - 180
}
