package address

import (
	"fmt"
	"strings"

	"github.com/shomaj/neighborhood-client/internal/domain"
)

// Validator accepts candidate addresses in a single allowed country.
type Validator struct {
	country string
}

func NewValidator(allowedCountry string) Validator {
	return Validator{country: strings.TrimSpace(allowedCountry)}
}

// Country returns the canonical allowed country.
func (v Validator) Country() string { return v.country }

// Validate trims addr and checks it. City and country must be non-empty and
// the country must equal the allowed country, ignoring case. On success the
// returned address carries the canonical country spelling.
func (v Validator) Validate(addr domain.Address) (domain.Address, error) {
	out := domain.Address{
		Street:  strings.TrimSpace(addr.Street),
		City:    strings.TrimSpace(addr.City),
		State:   strings.TrimSpace(addr.State),
		Country: strings.TrimSpace(addr.Country),
	}

	var missing []string
	if out.City == "" {
		missing = append(missing, "city")
	}
	if out.Country == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return domain.Address{}, domain.ValidationFailed(domain.CodeMissingCityOrCountry,
			"Could not determine city or country for this location", missing...)
	}
	if !strings.EqualFold(out.Country, v.country) {
		return domain.Address{}, domain.ValidationFailed(domain.CodeUnsupportedCountry,
			fmt.Sprintf("Only locations in %s are supported", v.country), "country")
	}
	out.Country = v.country
	return out, nil
}
