package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shomaj/neighborhood-client/internal/ports/out/idempotency"
)

// Store is a Postgres implementation of idempotency.Store, backing location
// submission replay when the shell runs against Postgres.
type Store struct {
	pool *pgxpool.Pool

	// TTL bounds how long a submission can be replayed. Zero keeps records forever.
	TTL time.Duration
	Now func() time.Time
}

func NewStore(pool *pgxpool.Pool, ttl time.Duration) *Store {
	return &Store{pool: pool, TTL: ttl, Now: time.Now}
}

func (s *Store) Get(ctx context.Context, fp idempotency.Fingerprint) (idempotency.Record, bool, error) {
	if s.pool == nil {
		return idempotency.Record{}, false, errors.New("nil postgres pool")
	}
	row := s.pool.QueryRow(ctx, `
		SELECT status_code, content_type, body, created_at
		FROM idempotency_keys
		WHERE idempotency_key = $1
		  AND subject = $2
		  AND method = $3
		  AND route = $4
		  AND body_hash = $5
		  AND created_at >= $6
	`,
		string(fp.Key),
		string(fp.Subject),
		fp.Method,
		fp.Route,
		fp.BodyHash,
		s.cutoff(),
	)
	var rec idempotency.Record
	if err := row.Scan(&rec.StatusCode, &rec.ContentType, &rec.Body, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return idempotency.Record{}, false, nil
		}
		return idempotency.Record{}, false, fmt.Errorf("get idempotency record: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, true, nil
}

// Put upserts rec and prunes expired records in the same transaction.
func (s *Store) Put(ctx context.Context, fp idempotency.Fingerprint, rec idempotency.Record) error {
	if s.pool == nil {
		return errors.New("nil postgres pool")
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.Now().UTC()
	}
	body := rec.Body
	if body == nil {
		body = []byte{}
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if s.TTL > 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, s.cutoff()); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO idempotency_keys (
				idempotency_key,
				subject,
				method,
				route,
				body_hash,
				status_code,
				content_type,
				body,
				created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (idempotency_key, subject, method, route, body_hash)
			DO UPDATE SET
				status_code = EXCLUDED.status_code,
				content_type = EXCLUDED.content_type,
				body = EXCLUDED.body,
				created_at = EXCLUDED.created_at
		`,
			string(fp.Key),
			string(fp.Subject),
			fp.Method,
			fp.Route,
			fp.BodyHash,
			rec.StatusCode,
			rec.ContentType,
			body,
			createdAt.UTC(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("put idempotency record: %w", err)
	}
	return nil
}

// cutoff is the oldest created_at still replayable.
func (s *Store) cutoff() time.Time {
	if s.TTL <= 0 {
		return time.Time{}
	}
	return s.Now().Add(-s.TTL).UTC()
}
