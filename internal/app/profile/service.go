package profile

import (
	"context"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shomaj/neighborhood-client/internal/domain"
	"github.com/shomaj/neighborhood-client/internal/ports/out/profilerepo"
)

// Store is the session-owned profile cache and its single write path.
type Store interface {
	EnsureProfile(ctx context.Context) (domain.Profile, error)
	UpdateProfile(ctx context.Context, patch profilerepo.Patch) (domain.Profile, error)
}

// UpdateInput is a profile edit. Location fields are not editable here; they
// change only through location setup.
type UpdateInput struct {
	DisplayName domain.Optional[string] // cannot be null
	Bio         domain.Optional[string] // cannot be null
	AvatarURL   domain.Optional[string] // may be null
	Phone       domain.Optional[string] // may be null
}

type Service struct {
	store Store

	// MaxBioLength bounds bio length in characters.
	MaxBioLength int
}

func NewService(store Store) *Service {
	return &Service{
		store:        store,
		MaxBioLength: 500,
	}
}

// Get returns the signed-in user's profile, loading it if needed.
func (s *Service) Get(ctx context.Context) (domain.Profile, error) {
	return s.store.EnsureProfile(ctx)
}

// Update validates in and writes it through the store.
func (s *Service) Update(ctx context.Context, in UpdateInput) (domain.Profile, error) {
	var patch profilerepo.Patch

	if in.DisplayName.IsSpecified() {
		if in.DisplayName.IsNull() {
			return domain.Profile{}, invalid("displayName", "cannot be null")
		}
		displayName := domain.NormalizeHumanName(in.DisplayName.Value())
		if displayName == "" {
			return domain.Profile{}, invalid("displayName", "must be non-empty")
		}
		patch.DisplayName = domain.Some(displayName)
	}

	if in.Bio.IsSpecified() {
		if in.Bio.IsNull() {
			return domain.Profile{}, invalid("bio", "cannot be null")
		}
		bio := strings.TrimSpace(in.Bio.Value())
		if utf8.RuneCountInString(bio) > s.MaxBioLength {
			return domain.Profile{}, invalid("bio", "too long")
		}
		patch.Bio = domain.Some(bio)
	}

	if in.AvatarURL.IsSpecified() {
		if in.AvatarURL.IsNull() {
			patch.AvatarURL = domain.Null[string]()
		} else {
			raw := strings.TrimSpace(in.AvatarURL.Value())
			if err := validateAvatarURL(raw); err != "" {
				return domain.Profile{}, invalid("avatarUrl", err)
			}
			patch.AvatarURL = domain.Some(raw)
		}
	}

	if in.Phone.IsSpecified() {
		if in.Phone.IsNull() {
			patch.Phone = domain.Null[string]()
		} else {
			phone := strings.TrimSpace(in.Phone.Value())
			if err := validatePhone(phone); err != "" {
				return domain.Profile{}, invalid("phone", err)
			}
			patch.Phone = domain.Some(phone)
		}
	}

	if patch.IsEmpty() {
		return s.store.EnsureProfile(ctx)
	}
	return s.store.UpdateProfile(ctx, patch)
}

func invalid(field, reason string) error {
	return domain.ValidationFailed(domain.CodeInvalidField, "invalid "+field+": "+reason, field)
}

func validateAvatarURL(raw string) string {
	if raw == "" {
		return "must be non-empty"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return "must be an http(s) URL"
	}
	return ""
}

// validatePhone accepts digits with an optional leading '+' and common separators.
func validatePhone(phone string) string {
	if phone == "" {
		return "must be non-empty"
	}
	digits := 0
	for i, r := range phone {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "must contain only digits"
		}
	}
	if digits < 6 || digits > 15 {
		return "must have 6 to 15 digits"
	}
	return ""
}
