// Package units converts capture summaries to display units. Summaries are
// computed in metres and metres per second.
package units

import "strings"

const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits lists the accepted unit names.
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

const (
	metresPerMile = 1609.344
	mpsToMPH      = 3600 / metresPerMile
	mpsToKMPH     = 3.6
)

func IsValid(unit string) bool {
	for _, u := range ValidUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns the valid units for error messages.
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertSpeed converts metres per second to the target units. Unknown units
// leave the value in metres per second.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * mpsToMPH
	case KMPH, KPH:
		return speedMPS * mpsToKMPH
	default:
		return speedMPS
	}
}

// ConvertDistance converts metres to the distance unit matching a speed
// unit: miles for mph, kilometres for kmph/kph, metres otherwise.
func ConvertDistance(metres float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return metres / metresPerMile
	case KMPH, KPH:
		return metres / 1000
	default:
		return metres
	}
}

// DistanceLabel names the distance unit used by ConvertDistance.
func DistanceLabel(targetUnits string) string {
	switch targetUnits {
	case MPH:
		return "mi"
	case KMPH, KPH:
		return "km"
	default:
		return "m"
	}
}
