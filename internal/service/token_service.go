package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/studytrack-app/studytrack-api/internal/models"
	"github.com/studytrack-app/studytrack-api/internal/repository"
	appErrors "github.com/studytrack-app/studytrack-api/pkg/errors"
)

type tokenRepository interface {
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	FindRefreshToken(ctx context.Context, tokenID, userID string) (*models.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, tokenID, userID string) error
	DeleteUserRefreshTokens(ctx context.Context, userID string) error
	CreateBlacklistEntry(ctx context.Context, entry *models.BlacklistEntry) error
	IsBlacklisted(ctx context.Context, token string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TokenConfig defines signing configuration for both token kinds. The two
// secrets are independent: compromise of one must not compromise the other.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Audience      []string
}

// TokenService mints, verifies and revokes access and refresh tokens.
// Access tokens are stateless except for the blacklist; refresh tokens are
// valid only while their backing record exists.
type TokenService struct {
	repo    tokenRepository
	cache   *repository.BlacklistCache
	metrics *MetricsService
	logger  *zap.Logger
	config  TokenConfig
}

// NewTokenService constructs a TokenService instance. The cache and metrics
// collaborators are optional.
func NewTokenService(repo tokenRepository, cache *repository.BlacklistCache, metrics *MetricsService, logger *zap.Logger, config TokenConfig) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = repository.NewBlacklistCache(nil, logger)
	}
	return &TokenService{repo: repo, cache: cache, metrics: metrics, logger: logger, config: config}
}

// IssueAccess signs a short-lived access token for the user.
func (s *TokenService) IssueAccess(user *models.User) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(s.config.AccessTTL)
	claims := &models.AccessClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			Audience:  s.config.Audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// IssueRefresh signs a refresh token bound to a freshly persisted record
// and returns both the signed string and the record's token ID. Issuance
// always inserts a new record; it never reuses or overwrites one.
func (s *TokenService) IssueRefresh(ctx context.Context, userID, ip, userAgent string) (string, string, error) {
	tokenID, err := generateTokenID()
	if err != nil {
		return "", "", fmt.Errorf("generate token id: %w", err)
	}

	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(s.config.RefreshTTL)
	claims := &models.RefreshClaims{
		UserID:  userID,
		TokenID: tokenID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.RefreshSecret))
	if err != nil {
		return "", "", fmt.Errorf("sign refresh token: %w", err)
	}

	record := &models.RefreshToken{
		UserID:    userID,
		TokenID:   tokenID,
		ExpiresAt: expiresAt,
		CreatedAt: issuedAt,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.repo.CreateRefreshToken(ctx, record); err != nil {
		return "", "", fmt.Errorf("persist refresh token: %w", err)
	}

	return signed, tokenID, nil
}

// VerifyAccess validates signature and expiry only. It never consults the
// blacklist; the request middleware does that as a separate, earlier step.
// Every decode failure resolves to TOKEN_INVALID, never a panic or a raw
// parser error.
func (s *TokenService) VerifyAccess(tokenString string) (*models.AccessClaims, error) {
	claims := &models.AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessSecret), nil
	})
	if err != nil || !token.Valid {
		s.observeVerification("access", false)
		return nil, appErrors.Clone(appErrors.ErrTokenInvalid, "")
	}

	s.observeVerification("access", true)
	return claims, nil
}

// VerifyRefresh validates signature and expiry, then requires a matching,
// non-expired record. The persisted record is the authoritative revocation
// signal: a missing or store-expired row invalidates the token even when
// its own expiry claim has not elapsed.
func (s *TokenService) VerifyRefresh(ctx context.Context, tokenString string) (*models.RefreshClaims, error) {
	claims := &models.RefreshClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.RefreshSecret), nil
	})
	if err != nil || !token.Valid {
		s.observeVerification("refresh", false)
		return nil, appErrors.Clone(appErrors.ErrTokenInvalid, "")
	}

	record, err := s.repo.FindRefreshToken(ctx, claims.TokenID, claims.UserID)
	if err != nil {
		s.observeVerification("refresh", false)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrTokenRevoked, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load refresh token record")
	}
	if time.Now().UTC().After(record.ExpiresAt) {
		s.observeVerification("refresh", false)
		return nil, appErrors.Clone(appErrors.ErrTokenInvalid, "")
	}

	s.observeVerification("refresh", true)
	return claims, nil
}

// Blacklist records the access token as revoked until its own expiry. A
// token that cannot be decoded is already invalid and needs no blacklisting,
// so that case is a deliberate no-op.
func (s *TokenService) Blacklist(ctx context.Context, tokenString string) error {
	claims, err := s.VerifyAccess(tokenString)
	if err != nil || claims.ExpiresAt == nil {
		return nil
	}

	expiresAt := claims.ExpiresAt.Time
	entry := &models.BlacklistEntry{
		Token:     tokenString,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateBlacklistEntry(ctx, entry); err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}

	s.cache.Add(ctx, tokenString, time.Until(expiresAt))
	return nil
}

// IsBlacklisted reports whether a non-expired blacklist entry exists for
// the literal token string, preferring the Redis fast path.
func (s *TokenService) IsBlacklisted(ctx context.Context, tokenString string) (bool, error) {
	if found, ok := s.cache.Contains(ctx, tokenString); ok {
		s.observeBlacklistLookup(found)
		return found, nil
	}

	found, err := s.repo.IsBlacklisted(ctx, tokenString, time.Now().UTC())
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check token blacklist")
	}
	s.observeBlacklistLookup(found)
	return found, nil
}

// Revoke deletes the refresh record matching the compound key.
func (s *TokenService) Revoke(ctx context.Context, tokenID, userID string) error {
	if err := s.repo.DeleteRefreshToken(ctx, tokenID, userID); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAll deletes every refresh record for the user ("log out
// everywhere").
func (s *TokenService) RevokeAll(ctx context.Context, userID string) error {
	if err := s.repo.DeleteUserRefreshTokens(ctx, userID); err != nil {
		return fmt.Errorf("revoke all refresh tokens: %w", err)
	}
	return nil
}

// SweepExpired prunes refresh and blacklist rows past their expiry. Expired
// rows already read as invalid, so the sweep is cleanup, not a correctness
// dependency.
func (s *TokenService) SweepExpired(ctx context.Context) (int64, error) {
	deleted, err := s.repo.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.ObserveTokenSweep(deleted)
	}
	return deleted, nil
}

func (s *TokenService) observeVerification(kind string, ok bool) {
	if s.metrics != nil {
		s.metrics.ObserveTokenVerification(kind, ok)
	}
}

func (s *TokenService) observeBlacklistLookup(hit bool) {
	if s.metrics != nil {
		s.metrics.ObserveBlacklistLookup(hit)
	}
}

func generateTokenID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
