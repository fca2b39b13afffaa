package profilerepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/shomaj/neighborhood-client/internal/adapters/postgres"
	"github.com/shomaj/neighborhood-client/internal/domain"
	"github.com/shomaj/neighborhood-client/internal/ports/out/profilerepo"
)

const profileColumns = `
	subject, email, display_name, bio, avatar_url, phone,
	latitude, longitude, street, city, state, country,
	neighborhood_radius, location_updated_at, created_at, updated_at`

// Repo is a Postgres implementation of profilerepo.Repository.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func (r *Repo) Fetch(ctx context.Context, subject domain.SubjectID) (domain.Profile, error) {
	if r.pool == nil {
		return domain.Profile{}, errors.New("nil postgres pool")
	}
	row := r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE subject = $1`, string(subject))
	p, err := scanProfile(row)
	if err != nil {
		return domain.Profile{}, mapErr(err)
	}
	return p, nil
}

func (r *Repo) Create(ctx context.Context, stub domain.Profile) error {
	if r.pool == nil {
		return errors.New("nil postgres pool")
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO profiles (subject, email, display_name, bio, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		string(stub.Subject),
		stub.Email,
		stub.DisplayName,
		stub.Bio,
		stub.CreatedAt.UTC(),
		stub.UpdatedAt.UTC(),
	)
	if err != nil {
		if pe, ok := postgres.AsPgError(err); ok && pe.Code == postgres.UniqueViolationCode && pe.ConstraintName == "profiles_subject_unique" {
			return profilerepo.ErrAlreadyExists
		}
		return mapErr(err)
	}
	return nil
}

// Update locks the row, merges patch and writes the whole record back so the
// location fields change together.
func (r *Repo) Update(ctx context.Context, subject domain.SubjectID, patch profilerepo.Patch) (domain.Profile, error) {
	if r.pool == nil {
		return domain.Profile{}, errors.New("nil postgres pool")
	}
	var out domain.Profile
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE subject = $1 FOR UPDATE`, string(subject))
		existing, err := scanProfile(row)
		if err != nil {
			return err
		}
		merged := profilerepo.Apply(existing, patch)

		var radius *int32
		if merged.NeighborhoodRadius != nil {
			v := int32(*merged.NeighborhoodRadius)
			radius = &v
		}
		_, err = tx.Exec(ctx, `
			UPDATE profiles
			SET display_name = $2,
			    bio = $3,
			    avatar_url = $4,
			    phone = $5,
			    latitude = $6,
			    longitude = $7,
			    street = $8,
			    city = $9,
			    state = $10,
			    country = $11,
			    neighborhood_radius = $12,
			    location_updated_at = $13,
			    updated_at = $14
			WHERE subject = $1
		`,
			string(subject),
			merged.DisplayName,
			merged.Bio,
			merged.AvatarURL,
			merged.Phone,
			merged.Latitude,
			merged.Longitude,
			merged.Street,
			merged.City,
			merged.State,
			merged.Country,
			radius,
			utcPtr(merged.LocationUpdatedAt),
			merged.UpdatedAt.UTC(),
		)
		if err != nil {
			return err
		}
		out = merged
		return nil
	})
	if err != nil {
		return domain.Profile{}, mapErr(err)
	}
	return out, nil
}

func scanProfile(row pgx.Row) (domain.Profile, error) {
	var (
		p         domain.Profile
		subject   string
		radius    *int32
		locatedAt *time.Time
	)
	if err := row.Scan(
		&subject,
		&p.Email,
		&p.DisplayName,
		&p.Bio,
		&p.AvatarURL,
		&p.Phone,
		&p.Latitude,
		&p.Longitude,
		&p.Street,
		&p.City,
		&p.State,
		&p.Country,
		&radius,
		&locatedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return domain.Profile{}, err
	}
	p.Subject = domain.SubjectID(subject)
	if radius != nil {
		v := domain.Radius(*radius)
		p.NeighborhoodRadius = &v
	}
	p.LocationUpdatedAt = utcPtr(locatedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return profilerepo.ErrNotFound
	case postgres.IsUnreachable(err):
		return fmt.Errorf("%w: %v", profilerepo.ErrUnreachable, err)
	default:
		return err
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
