package profilerepo

import (
	"context"
	"time"

	"github.com/shomaj/neighborhood-client/internal/domain"
)

// LocationFix is the location-setup write: coordinates, validated address and radius
// applied together as one update.
type LocationFix struct {
	Coordinates domain.Coordinates
	Address     domain.Address
	Radius      domain.Radius
}

// Patch is a partial profile update. Unspecified fields are left untouched.
//
// Profile-edit callers never set Location; location-setup callers set only Location.
type Patch struct {
	DisplayName domain.Optional[string] // cannot be null
	Bio         domain.Optional[string] // cannot be null
	AvatarURL   domain.Optional[string]
	Phone       domain.Optional[string]

	Location *LocationFix

	UpdatedAt time.Time
}

// IsEmpty reports whether p changes nothing.
func (p Patch) IsEmpty() bool {
	return !p.DisplayName.IsSpecified() &&
		!p.Bio.IsSpecified() &&
		!p.AvatarURL.IsSpecified() &&
		!p.Phone.IsSpecified() &&
		p.Location == nil
}

// Repository is the record-store contract for profiles.
//
// Errors wrap one of the sentinels in errors.go.
type Repository interface {
	Fetch(ctx context.Context, subject domain.SubjectID) (domain.Profile, error)
	Create(ctx context.Context, stub domain.Profile) error
	// Update applies patch and returns the stored record after the write.
	Update(ctx context.Context, subject domain.SubjectID, patch Patch) (domain.Profile, error)
}

// Apply merges patch into p. Adapters that cannot express the patch natively share it.
func Apply(p domain.Profile, patch Patch) domain.Profile {
	out := p.Clone()
	if patch.DisplayName.IsSpecified() && !patch.DisplayName.IsNull() {
		out.DisplayName = patch.DisplayName.Value()
	}
	if patch.Bio.IsSpecified() && !patch.Bio.IsNull() {
		out.Bio = patch.Bio.Value()
	}
	applyNullable(&out.AvatarURL, patch.AvatarURL)
	applyNullable(&out.Phone, patch.Phone)

	if fix := patch.Location; fix != nil {
		lat, lon := fix.Coordinates.Latitude, fix.Coordinates.Longitude
		out.Latitude = &lat
		out.Longitude = &lon
		out.Street = nonEmpty(fix.Address.Street)
		out.City = nonEmpty(fix.Address.City)
		out.State = nonEmpty(fix.Address.State)
		out.Country = nonEmpty(fix.Address.Country)
		r := fix.Radius
		out.NeighborhoodRadius = &r
		at := patch.UpdatedAt
		out.LocationUpdatedAt = &at
	}
	if !patch.UpdatedAt.IsZero() {
		out.UpdatedAt = patch.UpdatedAt
	}
	return out
}

func applyNullable(dst **string, o domain.Optional[string]) {
	if !o.IsSpecified() {
		return
	}
	if o.IsNull() {
		*dst = nil
		return
	}
	v := o.Value()
	*dst = &v
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
