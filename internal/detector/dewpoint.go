package detector

import "math"

// Magnus coefficients over water, valid for roughly −45..60 °C.
const (
	magnusA = 17.27
	magnusB = 237.7
)

// DewPoint returns the dew point in °C for a temperature (°C) and relative
// humidity (%). Humidity at or below zero has no dew point and yields -Inf.
func DewPoint(tempC, humidity float64) float64 {
	if humidity <= 0 {
		return math.Inf(-1)
	}
	alpha := magnusA*tempC/(magnusB+tempC) + math.Log(humidity/100)
	return magnusB * alpha / (magnusA - alpha)
}

// DewPointSpread is temperature minus dew point; small spreads mean the air is
// close to saturation.
func DewPointSpread(tempC, humidity float64) float64 {
	return tempC - DewPoint(tempC, humidity)
}
