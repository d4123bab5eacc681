package vault

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres stores vault slots in a single table, letting several client
// processes share one session (for example a fleet of workers acting as the
// same service account).
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

// PostgresOption configures a Postgres vault.
type PostgresOption func(*Postgres)

// WithPostgresClock overrides the time source. Only intended for tests.
func WithPostgresClock(fn func() time.Time) PostgresOption {
	return func(p *Postgres) {
		if fn != nil {
			p.now = fn
		}
	}
}

// OpenPostgres connects to dsn with pool defaults tuned for a small client.
func OpenPostgres(dsn string, opts ...PostgresOption) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewPostgres(db, opts...), nil
}

// NewPostgres wraps an existing handle. Used by tests with sqlmock.
func NewPostgres(db *sql.DB, opts ...PostgresOption) *Postgres {
	p := &Postgres{db: db, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Postgres) Close() error { return p.db.Close() }

// EnsureSchema creates the vault table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		create table if not exists session_vault (
			key text primary key,
			value text not null,
			expires_at timestamptz,
			updated_at timestamptz not null default now()
		)`)
	return err
}

func (p *Postgres) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := p.now().Add(ttl)
		expiresAt = &t
	}
	_, err := p.db.ExecContext(ctx, `
		insert into session_vault(key, value, expires_at, updated_at)
		values ($1, $2, $3, now())
		on conflict (key) do update
		set value = excluded.value, expires_at = excluded.expires_at, updated_at = now()`,
		key, value, expiresAt)
	return err
}

func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value     string
		expiresAt sql.NullTime
	)
	err := p.db.QueryRowContext(ctx,
		`select value, expires_at from session_vault where key = $1`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if expiresAt.Valid && !p.now().Before(expiresAt.Time) {
		return "", false, nil
	}
	return value, true, nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `delete from session_vault where key = $1`, key)
	return err
}
