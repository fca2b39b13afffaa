package location

import "github.com/shomaj/neighborhood-client/internal/domain"

// AddressComponent is one typed part of a place-search result.
type AddressComponent struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

// PlaceDetails is a place-search result: a point and its address components.
type PlaceDetails struct {
	Location   domain.Coordinates
	Components []AddressComponent
}

// Address maps components to an unvalidated address. route is the street,
// locality the city, administrative_area_level_1 the state and country the
// country. The first component of each type wins.
func (d PlaceDetails) Address() domain.Address {
	var out domain.Address
	for _, c := range d.Components {
		for _, typ := range c.Types {
			switch typ {
			case "route":
				setOnce(&out.Street, c.LongName)
			case "locality":
				setOnce(&out.City, c.LongName)
			case "administrative_area_level_1":
				setOnce(&out.State, c.LongName)
			case "country":
				setOnce(&out.Country, c.LongName)
			}
		}
	}
	return out
}

func setOnce(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
