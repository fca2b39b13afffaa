package domain

import "time"

// Coordinates is a WGS84 latitude/longitude pair.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Address is a candidate postal address. It is unvalidated until it passes the
// address validator; only then is it merged into a Profile.
type Address struct {
	Street  string
	City    string
	State   string
	Country string
}

// Profile is the durable per-user record keyed by subject.
//
// Nil pointer fields mean "unset". Latitude/Longitude decide onboarding
// completeness; see IsComplete.
type Profile struct {
	Subject SubjectID
	Email   string

	DisplayName string
	Bio         string
	AvatarURL   *string
	Phone       *string

	Latitude  *float64
	Longitude *float64

	Street  *string
	City    *string
	State   *string
	Country *string

	NeighborhoodRadius *Radius
	LocationUpdatedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsComplete reports whether onboarding is complete for p: a profile exists and
// both coordinates are set. No other field influences completeness, and every
// completeness check in the module goes through this function.
func IsComplete(p *Profile) bool {
	return p != nil && p.Latitude != nil && p.Longitude != nil
}

// Coordinates returns the profile location, if set.
func (p Profile) Coordinates() (Coordinates, bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return Coordinates{}, false
	}
	return Coordinates{Latitude: *p.Latitude, Longitude: *p.Longitude}, true
}

// StubProfile is the record created at registration: identity only, no location.
func StubProfile(subject SubjectID, email string, now time.Time) Profile {
	return Profile{
		Subject:   subject,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of p.
func (p Profile) Clone() Profile {
	out := p
	out.AvatarURL = clonePtr(p.AvatarURL)
	out.Phone = clonePtr(p.Phone)
	out.Latitude = clonePtr(p.Latitude)
	out.Longitude = clonePtr(p.Longitude)
	out.Street = clonePtr(p.Street)
	out.City = clonePtr(p.City)
	out.State = clonePtr(p.State)
	out.Country = clonePtr(p.Country)
	out.NeighborhoodRadius = clonePtr(p.NeighborhoodRadius)
	out.LocationUpdatedAt = clonePtr(p.LocationUpdatedAt)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
