package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/studytrack-app/studytrack-api/internal/models"
)

// TokenRepository persists refresh token records and the access token
// blacklist. Revocation is delete-based: a missing row means the token is
// no longer valid, so concurrent revokes and sweeps need no coordination.
type TokenRepository struct {
	db *sqlx.DB
}

// NewTokenRepository creates a new instance of TokenRepository.
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// CreateRefreshToken persists a refresh token record. Issuance always
// inserts a fresh row; rotation deletes the old one separately.
func (r *TokenRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token_id, expires_at, created_at, ip_address, user_agent) VALUES (:id, :user_id, :token_id, :expires_at, :created_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns the record matching the compound key.
func (r *TokenRepository) FindRefreshToken(ctx context.Context, tokenID, userID string) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, token_id, expires_at, created_at, ip_address, user_agent FROM refresh_tokens WHERE token_id = $1 AND user_id = $2 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, tokenID, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// DeleteRefreshToken removes the record matching the compound key.
func (r *TokenRepository) DeleteRefreshToken(ctx context.Context, tokenID, userID string) error {
	const query = `DELETE FROM refresh_tokens WHERE token_id = $1 AND user_id = $2`
	if _, err := r.db.ExecContext(ctx, query, tokenID, userID); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// DeleteUserRefreshTokens removes every refresh record for a user.
func (r *TokenRepository) DeleteUserRefreshTokens(ctx context.Context, userID string) error {
	const query = `DELETE FROM refresh_tokens WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("delete user refresh tokens: %w", err)
	}
	return nil
}

// CreateBlacklistEntry records a revoked access token keyed by the literal
// signed string. Re-blacklisting the same token is harmless.
func (r *TokenRepository) CreateBlacklistEntry(ctx context.Context, entry *models.BlacklistEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO token_blacklist (token, expires_at, created_at) VALUES (:token, :expires_at, :created_at) ON CONFLICT (token) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("create blacklist entry: %w", err)
	}
	return nil
}

// IsBlacklisted reports whether a non-expired blacklist entry exists for
// the token.
func (r *TokenRepository) IsBlacklisted(ctx context.Context, token string, now time.Time) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM token_blacklist WHERE token = $1 AND expires_at > $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, token, now); err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return exists, nil
}

// DeleteExpired removes refresh token and blacklist rows whose expiry has
// passed, returning the total rows deleted. Idempotent and safe to run
// concurrently with issuance and verification.
func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var total int64

	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep refresh tokens: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = r.db.ExecContext(ctx, `DELETE FROM token_blacklist WHERE expires_at <= $1`, now)
	if err != nil {
		return total, fmt.Errorf("sweep blacklist: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	return total, nil
}
