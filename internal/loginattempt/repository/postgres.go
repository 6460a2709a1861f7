package repository

import (
	"context"
	"database/sql"
	"time"

	"authguard/internal/db"
	"authguard/internal/loginattempt/domain"
)

// PostgresRepository appends to the login_attempts table.
type PostgresRepository struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresRepository returns a login attempt log backed by conn.
func NewPostgresRepository(conn *sql.DB, timeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: conn, timeout: timeout}
}

// Append inserts a. The attempt must have ID set.
func (r *PostgresRepository) Append(ctx context.Context, a *domain.Attempt) error {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO login_attempts (id, identifier, identity_id, origin_ip, client, success, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Identifier, nullString(a.IdentityID), a.OriginIP, a.Client, a.Success, a.Reason, a.CreatedAt,
	)
	return db.Classify(err)
}

// ListByIdentifier returns the newest attempts for identifier.
func (r *PostgresRepository) ListByIdentifier(ctx context.Context, identifier string, limit int) ([]*domain.Attempt, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, identifier, identity_id, origin_ip, client, success, reason, created_at
		FROM login_attempts WHERE identifier = $1 ORDER BY created_at DESC LIMIT $2`, identifier, limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []*domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		var identityID sql.NullString
		if err := rows.Scan(&a.ID, &a.Identifier, &identityID, &a.OriginIP, &a.Client, &a.Success, &a.Reason, &a.CreatedAt); err != nil {
			return nil, db.Classify(err)
		}
		a.IdentityID = identityID.String
		out = append(out, &a)
	}
	return out, db.Classify(rows.Err())
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
