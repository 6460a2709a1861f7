package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"authguard/internal/alert/domain"
	"authguard/internal/db"
)

const alertColumns = `id, type, severity, identity_id, origin, details, occurrences, first_seen_at, last_seen_at,
	resolved, resolved_by, resolved_at, resolution_notes`

// PostgresRepository stores alerts in security_alerts.
type PostgresRepository struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresRepository returns an alert repository backed by conn.
func NewPostgresRepository(conn *sql.DB, timeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: conn, timeout: timeout}
}

// Create inserts a. The alert must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Alert) error {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO security_alerts (id, type, severity, identity_id, origin, details, occurrences, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, string(a.Type), string(a.Severity), a.IdentityID, a.Origin, a.Details, a.Occurrences, a.FirstSeenAt, a.LastSeenAt,
	)
	return db.Classify(err)
}

// GetByID returns the alert for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Alert, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	return scanAlert(r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM security_alerts WHERE id = $1`, id))
}

// FindUnresolved returns the newest open alert for the dedup key seen since since, or nil.
func (r *PostgresRepository) FindUnresolved(ctx context.Context, t domain.Type, identityID, origin string, since time.Time) (*domain.Alert, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	return scanAlert(r.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+` FROM security_alerts
		WHERE NOT resolved AND type = $1 AND identity_id = $2 AND origin = $3 AND last_seen_at >= $4
		ORDER BY last_seen_at DESC LIMIT 1`, string(t), identityID, origin, since))
}

// Touch bumps occurrences and last_seen_at.
func (r *PostgresRepository) Touch(ctx context.Context, id string, at time.Time) (*domain.Alert, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	return scanAlert(r.db.QueryRowContext(ctx, `
		UPDATE security_alerts SET occurrences = occurrences + 1, last_seen_at = $2
		WHERE id = $1 RETURNING `+alertColumns, id, at))
}

// Resolve marks the alert resolved.
func (r *PostgresRepository) Resolve(ctx context.Context, id, resolverID, notes string, at time.Time) error {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `
		UPDATE security_alerts SET resolved = TRUE, resolved_by = $2, resolution_notes = $3, resolved_at = $4
		WHERE id = $1`, id, resolverID, notes, at)
	return db.Classify(err)
}

// List returns alerts matching f, newest first.
func (r *PostgresRepository) List(ctx context.Context, f domain.Filter) ([]*domain.Alert, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.IdentityID != "" {
		args = append(args, f.IdentityID)
		where = append(where, fmt.Sprintf("identity_id = $%d", len(args)))
	}
	if f.UnresolvedOnly {
		where = append(where, "NOT resolved")
	}
	q := `SELECT ` + alertColumns + ` FROM security_alerts`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY last_seen_at DESC LIMIT $%d`, len(args))

	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []*domain.Alert
	for rows.Next() {
		a, err := scanAlertRow(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, a)
	}
	return out, db.Classify(rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row *sql.Row) (*domain.Alert, error) {
	a, err := scanAlertRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, db.Classify(err)
	}
	return a, nil
}

func scanAlertRow(s scanner) (*domain.Alert, error) {
	var (
		a          domain.Alert
		typ, sev   string
		resolvedAt sql.NullTime
	)
	if err := s.Scan(&a.ID, &typ, &sev, &a.IdentityID, &a.Origin, &a.Details, &a.Occurrences, &a.FirstSeenAt,
		&a.LastSeenAt, &a.Resolved, &a.ResolvedBy, &resolvedAt, &a.ResolutionNotes); err != nil {
		return nil, err
	}
	a.Type = domain.Type(typ)
	a.Severity = domain.Severity(sev)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	return &a, nil
}
