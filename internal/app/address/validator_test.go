package address

import (
	"testing"

	"github.com/shomaj/neighborhood-client/internal/domain"
)

func TestValidator_Validate(t *testing.T) {
	t.Parallel()

	v := NewValidator("Bangladesh")
	cases := []struct {
		name       string
		in         domain.Address
		wantCode   string
		wantFields string
		want       domain.Address
	}{
		{
			name: "accepts allowed country",
			in:   domain.Address{Street: "Road 11", City: "Dhaka", State: "Dhaka Division", Country: "Bangladesh"},
			want: domain.Address{Street: "Road 11", City: "Dhaka", State: "Dhaka Division", Country: "Bangladesh"},
		},
		{
			name: "country match ignores case and padding",
			in:   domain.Address{City: "  Sylhet ", Country: " bangladesh "},
			want: domain.Address{City: "Sylhet", Country: "Bangladesh"},
		},
		{
			name: "street and state are optional",
			in:   domain.Address{City: "Khulna", Country: "BANGLADESH"},
			want: domain.Address{City: "Khulna", Country: "Bangladesh"},
		},
		{
			name:       "missing city",
			in:         domain.Address{Country: "Bangladesh"},
			wantCode:   domain.CodeMissingCityOrCountry,
			wantFields: "city",
		},
		{
			name:       "blank city and country",
			in:         domain.Address{City: "   ", Country: ""},
			wantCode:   domain.CodeMissingCityOrCountry,
			wantFields: "city,country",
		},
		{
			name:       "other country",
			in:         domain.Address{City: "Kolkata", Country: "India"},
			wantCode:   domain.CodeUnsupportedCountry,
			wantFields: "country",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := v.Validate(tc.in)
			if tc.wantCode == "" {
				if err != nil {
					t.Fatalf("Validate() err=%v", err)
				}
				if got != tc.want {
					t.Fatalf("Validate()=%+v, want %+v", got, tc.want)
				}
				return
			}
			if domain.KindOf(err) != domain.KindValidationFailed || domain.CodeOf(err) != tc.wantCode {
				t.Fatalf("Validate() err=%v, want %s/%s", err, domain.KindValidationFailed, tc.wantCode)
			}
			de, ok := err.(*domain.Error)
			if !ok {
				t.Fatalf("Validate() err type=%T", err)
			}
			if de.FieldSet() != tc.wantFields {
				t.Fatalf("Fields=%q, want %q", de.FieldSet(), tc.wantFields)
			}
		})
	}
}
