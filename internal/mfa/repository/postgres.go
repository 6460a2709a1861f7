package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"authguard/internal/db"
	"authguard/internal/mfa/domain"
)

const challengeColumns = `id, identity_id, code_hash, channel, issued_at, expires_at, attempts_used, max_attempts,
	status, resend_count, last_sent_at, origin, device_fingerprint`

// PostgresRepository stores challenges in otp_challenges. A partial unique index keeps at most
// one pending row per identity.
type PostgresRepository struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresRepository returns a challenge repository backed by conn.
func NewPostgresRepository(conn *sql.DB, timeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: conn, timeout: timeout}
}

// GetByID returns the challenge for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Challenge, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	return scanChallenge(r.db.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM otp_challenges WHERE id = $1`, id))
}

// GetPendingByIdentity returns the pending challenge for identityID, or nil.
func (r *PostgresRepository) GetPendingByIdentity(ctx context.Context, identityID string) (*domain.Challenge, error) {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	return scanChallenge(r.db.QueryRowContext(ctx,
		`SELECT `+challengeColumns+` FROM otp_challenges WHERE identity_id = $1 AND status = 'pending'`, identityID))
}

// Replace supersedes pending challenges of the identity and inserts next in one transaction.
func (r *PostgresRepository) Replace(ctx context.Context, next *domain.Challenge) error {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return db.Classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE otp_challenges SET status = 'superseded' WHERE identity_id = $1 AND status = 'pending'`,
		next.IdentityID); err != nil {
		return db.Classify(err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO otp_challenges (`+challengeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		next.ID, next.IdentityID, next.CodeHash, string(next.Channel), next.IssuedAt, next.ExpiresAt,
		next.AttemptsUsed, next.MaxAttempts, string(next.Status), next.ResendCount, next.LastSentAt,
		next.Origin, next.DeviceFingerprint,
	); err != nil {
		return db.Classify(err)
	}
	return db.Classify(tx.Commit())
}

// Update writes attempts_used and status.
func (r *PostgresRepository) Update(ctx context.Context, c *domain.Challenge) error {
	ctx, cancel := db.Bound(ctx, r.timeout)
	defer cancel()
	_, err := r.db.ExecContext(ctx,
		`UPDATE otp_challenges SET attempts_used = $2, status = $3 WHERE id = $1`,
		c.ID, c.AttemptsUsed, string(c.Status))
	return db.Classify(err)
}

func scanChallenge(row *sql.Row) (*domain.Challenge, error) {
	var (
		c       domain.Challenge
		channel string
		status  string
	)
	err := row.Scan(&c.ID, &c.IdentityID, &c.CodeHash, &channel, &c.IssuedAt, &c.ExpiresAt, &c.AttemptsUsed,
		&c.MaxAttempts, &status, &c.ResendCount, &c.LastSentAt, &c.Origin, &c.DeviceFingerprint)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, db.Classify(err)
	}
	c.Channel = domain.Channel(channel)
	c.Status = domain.Status(status)
	return &c, nil
}
