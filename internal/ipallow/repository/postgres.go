package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"authguard/internal/db"
	"authguard/internal/ipallow/domain"
)

// PostgresRepository stores entries in ip_allow_entries; cidr is a Postgres CIDR column.
type PostgresRepository struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresRepository returns an allow-list repository backed by conn.
func NewPostgresRepository(conn *sql.DB, timeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: conn, timeout: timeout}
}

// ListActiveFor returns active identity-scoped and global entries.
func (r *PostgresRepository) ListActiveFor(ctx context.Context, identityID string) ([]*domain.Entry, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, identity_id, cidr::text, active, note, created_at FROM ip_allow_entries
		WHERE active AND (identity_id IS NULL OR identity_id = $1)`, identityID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []*domain.Entry
	for rows.Next() {
		var (
			e          domain.Entry
			identityID sql.NullString
			cidr       string
		)
		if err := rows.Scan(&e.ID, &identityID, &cidr, &e.Active, &e.Note, &e.CreatedAt); err != nil {
			return nil, db.Classify(err)
		}
		p, err := domain.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("ip_allow_entries %s: %w", e.ID, err)
		}
		e.IdentityID = identityID.String
		e.Prefix = p
		out = append(out, &e)
	}
	return out, db.Classify(rows.Err())
}

// Create inserts e. The entry must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Entry) error {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ip_allow_entries (id, identity_id, cidr, active, note, created_at)
		VALUES ($1, $2, $3::cidr, $4, $5, $6)`,
		e.ID, sql.NullString{String: e.IdentityID, Valid: e.IdentityID != ""}, e.Prefix.String(), e.Active, e.Note, e.CreatedAt)
	return db.Classify(err)
}

// SetActive toggles an entry.
func (r *PostgresRepository) SetActive(ctx context.Context, id string, active bool) error {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `UPDATE ip_allow_entries SET active = $2 WHERE id = $1`, id, active)
	return db.Classify(err)
}
