package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"authguard/internal/db"
	identity "authguard/internal/identity/domain"
	"authguard/internal/session/domain"
)

const sessionColumns = `id, identity_id, role, token_hash, issued_at, expires_at, last_activity_at, warned_at,
	device_fingerprint, origin, state, ended_at, end_reason`

// PostgresRepository stores sessions in the sessions table, keyed by id and unique token hash.
type PostgresRepository struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresRepository returns a session repository backed by conn.
func NewPostgresRepository(conn *sql.DB, timeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: conn, timeout: timeout}
}

// Create inserts s. The session must have ID and TokenHash set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, identity_id, role, token_hash, issued_at, expires_at, last_activity_at,
			device_fingerprint, origin, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.IdentityID, string(s.Role), s.TokenHash, s.IssuedAt, s.ExpiresAt, s.LastActivityAt,
		s.DeviceFingerprint, s.Origin, string(s.State),
	)
	return db.Classify(err)
}

// GetByID returns the session for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	return scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// GetByTokenHash returns the session whose token hashes to tokenHash, or nil.
func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	return scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1`, tokenHash))
}

// ListActiveByIdentity returns the identity's active sessions, oldest first.
func (r *PostgresRepository) ListActiveByIdentity(ctx context.Context, identityID string) ([]*domain.Session, error) {
	return r.query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE identity_id = $1 AND state = 'active' ORDER BY issued_at`, identityID)
}

// ListActive returns every active session, oldest first.
func (r *PostgresRepository) ListActive(ctx context.Context) ([]*domain.Session, error) {
	return r.query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE state = 'active' ORDER BY issued_at`)
}

// Touch renews last activity and clears the warning marker.
func (r *PostgresRepository) Touch(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = $2, warned_at = NULL WHERE id = $1 AND state = 'active'`, id, at)
	return db.Classify(err)
}

// MarkWarned records that an idle warning was emitted.
func (r *PostgresRepository) MarkWarned(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET warned_at = $2 WHERE id = $1 AND state = 'active'`, id, at)
	return db.Classify(err)
}

// End moves an active session to state. Already-ended sessions are left unchanged.
func (r *PostgresRepository) End(ctx context.Context, id string, state domain.State, reason string, at time.Time) (bool, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET state = $2, end_reason = $3, ended_at = $4
		WHERE id = $1 AND state = 'active'`, id, string(state), reason, at)
	if err != nil {
		return false, db.Classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, db.Classify(err)
	}
	return n > 0, nil
}

// EndAllByIdentity ends all active sessions of identityID.
func (r *PostgresRepository) EndAllByIdentity(ctx context.Context, identityID string, state domain.State, reason string, at time.Time) ([]string, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `
		UPDATE sessions SET state = $2, end_reason = $3, ended_at = $4
		WHERE identity_id = $1 AND state = 'active' RETURNING id`, identityID, string(state), reason, at)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, db.Classify(err)
		}
		ids = append(ids, id)
	}
	return ids, db.Classify(rows.Err())
}

func (r *PostgresRepository) query(ctx context.Context, q string, args ...any) ([]*domain.Session, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanRow(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, s)
	}
	return out, db.Classify(rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row *sql.Row) (*domain.Session, error) {
	s, err := scanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, db.Classify(err)
	}
	return s, nil
}

func scanRow(sc scanner) (*domain.Session, error) {
	var (
		s               domain.Session
		role, state     string
		warnedAt, ended sql.NullTime
	)
	if err := sc.Scan(&s.ID, &s.IdentityID, &role, &s.TokenHash, &s.IssuedAt, &s.ExpiresAt, &s.LastActivityAt,
		&warnedAt, &s.DeviceFingerprint, &s.Origin, &state, &ended, &s.EndReason); err != nil {
		return nil, err
	}
	s.Role = identity.Role(role)
	s.State = domain.State(state)
	if warnedAt.Valid {
		t := warnedAt.Time
		s.WarnedAt = &t
	}
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	return &s, nil
}
