package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"authguard/internal/db"
	"authguard/internal/identity/domain"
)

const identityColumns = `id, role, identifier, secret_hash, status, phone, email, last_login_at, last_login_origin, created_at`

// PostgresRepository reads identities from the identities table. Every call is bounded by timeout.
type PostgresRepository struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresRepository returns an identity repository backed by conn.
func NewPostgresRepository(conn *sql.DB, timeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: conn, timeout: timeout}
}

// GetByID returns the identity for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	return scanIdentity(row)
}

// GetByIdentifier returns the identity for the login identifier, or nil if not found.
func (r *PostgresRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.Identity, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE identifier = $1`, identifier)
	return scanIdentity(row)
}

// Create inserts the identity. Returns ErrDuplicateIdentifier when the identifier is taken.
func (r *PostgresRepository) Create(ctx context.Context, i *domain.Identity) error {
	if err := i.Validate(); err != nil {
		return err
	}
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO identities (id, role, identifier, secret_hash, status, phone, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		i.ID, string(i.Role), i.Identifier, i.SecretHash, string(i.Status), i.Phone, i.Email, i.CreatedAt,
	)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateIdentifier
	}
	return db.Classify(err)
}

// RecordLogin sets last_login_at and last_login_origin.
func (r *PostgresRepository) RecordLogin(ctx context.Context, id string, at time.Time, origin string) error {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	_, err := r.db.ExecContext(ctx,
		`UPDATE identities SET last_login_at = $2, last_login_origin = $3 WHERE id = $1`, id, at, origin)
	return db.Classify(err)
}

func scanIdentity(row *sql.Row) (*domain.Identity, error) {
	var (
		i           domain.Identity
		role        string
		status      string
		lastLoginAt sql.NullTime
		lastOrigin  sql.NullString
	)
	err := row.Scan(&i.ID, &role, &i.Identifier, &i.SecretHash, &status, &i.Phone, &i.Email, &lastLoginAt, &lastOrigin, &i.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, db.Classify(err)
	}
	i.Role = domain.Role(role)
	i.Status = domain.Status(status)
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		i.LastLoginAt = &t
	}
	i.LastLoginOrigin = lastOrigin.String
	return &i, nil
}
