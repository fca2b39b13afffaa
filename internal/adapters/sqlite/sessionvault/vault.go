// Package sessionvault persists the device session in a local SQLite file.
package sessionvault

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shomaj/neighborhood-client/internal/domain"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Vault is a SQLite implementation of sessionvault.Vault holding at most one row.
type Vault struct {
	sqlDB *sql.DB
}

// Open opens (creating if needed) the vault file at path and applies migrations.
func Open(path string) (*Vault, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("vault path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer; SQLite serializes anyway.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Vault{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (v *Vault) Close() error {
	if v == nil || v.sqlDB == nil {
		return nil
	}
	return v.sqlDB.Close()
}

func (v *Vault) Load(ctx context.Context) (domain.Session, bool, error) {
	if v == nil || v.sqlDB == nil {
		return domain.Session{}, false, fmt.Errorf("vault is not configured")
	}
	var (
		s                  domain.Session
		subject            string
		issuedAt, expireAt int64
	)
	err := v.sqlDB.QueryRowContext(ctx, `
		SELECT subject, email, access_token, refresh_token, issued_at, expires_at
		FROM session WHERE id = 1
	`).Scan(&subject, &s.Email, &s.AccessToken, &s.RefreshToken, &issuedAt, &expireAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("load session: %w", err)
	}
	s.Subject = domain.SubjectID(subject)
	s.IssuedAt = fromMillis(issuedAt)
	s.ExpiresAt = fromMillis(expireAt)
	return s, true, nil
}

func (v *Vault) Save(ctx context.Context, s domain.Session) error {
	if v == nil || v.sqlDB == nil {
		return fmt.Errorf("vault is not configured")
	}
	if s.Subject == "" || s.AccessToken == "" {
		return fmt.Errorf("session subject and access token are required")
	}
	_, err := v.sqlDB.ExecContext(ctx, `
		INSERT INTO session (id, subject, email, access_token, refresh_token, issued_at, expires_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			subject = excluded.subject,
			email = excluded.email,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			issued_at = excluded.issued_at,
			expires_at = excluded.expires_at
	`,
		string(s.Subject),
		s.Email,
		s.AccessToken,
		s.RefreshToken,
		toMillis(s.IssuedAt),
		toMillis(s.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (v *Vault) Clear(ctx context.Context) error {
	if v == nil || v.sqlDB == nil {
		return fmt.Errorf("vault is not configured")
	}
	if _, err := v.sqlDB.ExecContext(ctx, `DELETE FROM session`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// toMillis stores the zero time as 0 so it round-trips as zero.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func applyMigrations(sqlDB *sql.DB) error {
	if _, err := sqlDB.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		var applied int
		if err := sqlDB.QueryRow(`SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, name).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, name, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}
