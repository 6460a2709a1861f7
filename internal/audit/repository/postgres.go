package repository

import (
	"context"
	"database/sql"
	"time"

	"authguard/internal/audit/domain"
	"authguard/internal/db"
)

// PostgresRepository stores audit logs in audit_logs.
type PostgresRepository struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresRepository returns an audit log repository backed by conn.
func NewPostgresRepository(conn *sql.DB, timeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: conn, timeout: timeout}
}

// Create persists a. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, identity_id, action, resource, ip, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.IdentityID, a.Action, a.Resource, a.IP, a.Metadata, a.CreatedAt)
	return db.Classify(err)
}

// ListByIdentity returns the newest entries for identityID ("" for all).
func (r *PostgresRepository) ListByIdentity(ctx context.Context, identityID string, limit int) ([]*domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, identity_id, action, resource, ip, metadata, created_at FROM audit_logs
		WHERE $1 = '' OR identity_id = $1 ORDER BY created_at DESC LIMIT $2`, identityID, limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		if err := rows.Scan(&a.ID, &a.IdentityID, &a.Action, &a.Resource, &a.IP, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, &a)
	}
	return out, db.Classify(rows.Err())
}
