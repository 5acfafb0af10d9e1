package units

import "errors"

// Unit describes the unit of a parameter's value.
type Unit string

// The valid units.
const (
	// Velocity
	MPH Unit = "mph"
	KMH Unit = "km/h"

	// Rotational Speed
	RPM Unit = "rpm"

	// Temperature
	F Unit = "F"
	C Unit = "C"

	// Pressure
	PSI Unit = "psi"
	KPA Unit = "kPa"

	// Electricity
	Volts Unit = "V"

	// Misc
	Percent Unit = "%"
	None    Unit = ""
)

// ErrInvalidConversion is returned when an invalid unit conversion attempt is made.
var ErrInvalidConversion = errors.New("units are invalid for conversion")

// Convert converts value from one unit to another.
func Convert(value float64, from, to Unit) (float64, error) {
	if from == to {
		return value, nil
	}

	cvs := Conversions[from]
	if cvs == nil {
		return 0, ErrInvalidConversion
	}

	cv := cvs[to]
	if cv == nil {
		return 0, ErrInvalidConversion
	}

	return cv(value), nil
}

// Imperial returns the imperial counterpart of u, or u itself when there
// isn't one.
func Imperial(u Unit) Unit {
	switch u {
	case KMH:
		return MPH
	case C:
		return F
	case KPA:
		return PSI
	}
	return u
}

// Conversions provides conversion functions for the package-defined Units.
var Conversions = map[Unit]map[Unit]func(v float64) float64{
	MPH: {
		KMH: func(v float64) float64 {
			return v * 1.609344
		},
	},
	KMH: {
		MPH: func(v float64) float64 {
			return v / 1.609344
		},
	},
	F: {
		C: func(v float64) float64 {
			return (v - 32) / 9 * 5
		},
	},
	C: {
		F: func(v float64) float64 {
			return (v / 5 * 9) + 32
		},
	},
	KPA: {
		PSI: func(v float64) float64 {
			return v * 0.145038
		},
	},
	PSI: {
		KPA: func(v float64) float64 {
			return v / 0.145038
		},
	},
}
