package domain

import (
	"fmt"
	"strconv"
)

// Radius is a neighborhood radius in meters.
type Radius int

const (
	Radius100m Radius = 100
	Radius500m Radius = 500
	Radius1km  Radius = 1000
	Radius5km  Radius = 5000
	Radius10km Radius = 10000

	DefaultRadius = Radius1km
)

// AllowedRadii is the closed set of radii a profile may carry, ascending.
var AllowedRadii = []Radius{Radius100m, Radius500m, Radius1km, Radius5km, Radius10km}

// Valid reports whether r is one of AllowedRadii.
func (r Radius) Valid() bool {
	for _, a := range AllowedRadii {
		if r == a {
			return true
		}
	}
	return false
}

// Label is the human-readable option text, e.g. "500 meters" or "5 kilometers".
func (r Radius) Label() string {
	switch {
	case r == 1000:
		return "1 kilometer"
	case r > 1000 && r%1000 == 0:
		return strconv.Itoa(int(r)/1000) + " kilometers"
	default:
		return strconv.Itoa(int(r)) + " meters"
	}
}

// ParseRadius accepts meters and rejects anything outside AllowedRadii.
func ParseRadius(meters int) (Radius, error) {
	r := Radius(meters)
	if !r.Valid() {
		return 0, &Error{
			Kind:    KindValidationFailed,
			Code:    CodeUnsupportedRadius,
			Message: fmt.Sprintf("radius %d is not an allowed option", meters),
			Fields:  []string{"radius"},
		}
	}
	return r, nil
}
