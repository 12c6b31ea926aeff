package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/studytrack-app/studytrack-api/internal/models"
	"github.com/studytrack-app/studytrack-api/internal/repository"
	appErrors "github.com/studytrack-app/studytrack-api/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuthService provides registration, login, token rotation and logout use
// cases on top of the token service and the credential policy.
type AuthService struct {
	repo      authUserRepository
	tokens    *TokenService
	hasher    *PasswordHasher
	policy    *CredentialPolicy
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger

	// dummyHash gives the missing-user branch of Login the same scrypt
	// cost as the wrong-password branch.
	dummyHash string
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, tokens *TokenService, hasher *PasswordHasher, policy *CredentialPolicy, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) (*AuthService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if policy == nil {
		policy = NewCredentialPolicy()
	}

	dummyHash, err := hasher.Hash("studytrack-timing-equalizer")
	if err != nil {
		return nil, err
	}

	return &AuthService{
		repo:      repo,
		tokens:    tokens,
		hasher:    hasher,
		policy:    policy,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		dummyHash: dummyHash,
	}, nil
}

// Register validates, creates the account and issues the first token pair.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	fields := map[string]string{}
	if msg := s.policy.ValidateName(req.FullName); msg != "" {
		fields["full_name"] = msg
	}
	if msg := s.policy.ValidateEmail(req.Email); msg != "" {
		fields["email"] = msg
	}
	if msg := s.policy.ValidatePassword(req.Password); msg != "" {
		fields["password"] = msg
	} else if strength := s.policy.ScorePassword(req.Password); strength.Band == BandVeryWeak || strength.Band == BandWeak {
		fields["password"] = "password is too weak"
	}
	if req.Password != req.ConfirmPassword {
		fields["confirm_password"] = "passwords do not match"
	}
	if len(fields) > 0 {
		return nil, appErrors.Validation(fields)
	}

	if _, err := s.repo.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email is already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing account")
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: passwordHash,
		FullName:     req.FullName,
		Role:         models.RoleStudent,
		Active:       true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		// A concurrent registration can slip past the existence check and
		// hit the unique constraint instead.
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email is already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	res, err := s.issuePair(ctx, user, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, models.AuditActionRegister, user.ID, req.IP, req.UserAgent)
	return res, nil
}

// Login authenticates a user and returns an issued token pair. Unknown
// email and wrong password are indistinguishable to the caller, and both
// branches pay the same key derivation cost.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.hasher.Verify(req.Password, s.dummyHash)
			s.metrics.ObserveLogin(false)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if !s.hasher.Verify(req.Password, user.PasswordHash) {
		s.metrics.ObserveLogin(false)
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	res, err := s.issuePair(ctx, user, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.metrics.ObserveLogin(true)
	s.audit(ctx, models.AuditActionLogin, user.ID, req.IP, req.UserAgent)
	return res, nil
}

// Refresh consumes the presented refresh token exactly once and issues a
// brand-new pair. The consumed record is deleted before reissue, so
// presenting the same token twice fails on the second attempt.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest) (*models.AuthResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	claims, err := s.tokens.VerifyRefresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrTokenInvalid, "session no longer valid")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	if err := s.tokens.Revoke(ctx, claims.TokenID, claims.UserID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke consumed refresh token")
	}

	res, err := s.issuePair(ctx, user, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, models.AuditActionTokenRefresh, user.ID, req.IP, req.UserAgent)
	return res, nil
}

// Logout blacklists the presented access token and revokes the presented
// refresh token. Already-invalid tokens are no-ops; the caller always sees
// success unless the store itself fails. userID may be empty when the
// caller's access token no longer resolves an identity; the verified
// refresh claims then name the session to revoke, and the ownership check
// applies only when an identity is present.
func (s *AuthService) Logout(ctx context.Context, userID string, req models.LogoutRequest) error {
	if req.AccessToken != "" {
		if err := s.tokens.Blacklist(ctx, req.AccessToken); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to blacklist access token")
		}
	}

	actor := userID
	if req.RefreshToken != "" {
		if claims, err := s.tokens.VerifyRefresh(ctx, req.RefreshToken); err == nil {
			if userID != "" && claims.UserID != userID {
				return appErrors.Clone(appErrors.ErrForbidden, "token does not belong to user")
			}
			if err := s.tokens.Revoke(ctx, claims.TokenID, claims.UserID); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh token")
			}
			if actor == "" {
				actor = claims.UserID
			}
		}
	}

	if actor != "" {
		s.audit(ctx, models.AuditActionLogout, actor, req.IP, req.UserAgent)
	}
	return nil
}

// LogoutAll revokes every refresh record for the caller.
func (s *AuthService) LogoutAll(ctx context.Context, userID, ip, userAgent string) error {
	if err := s.tokens.RevokeAll(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke sessions")
	}
	s.audit(ctx, models.AuditActionLogoutAll, userID, ip, userAgent)
	return nil
}

// ChangePassword verifies the old password, applies the policy to the new
// one and revokes every open session afterwards.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	fields := map[string]string{}
	if msg := s.policy.ValidatePassword(req.NewPassword); msg != "" {
		fields["new_password"] = msg
	} else if strength := s.policy.ScorePassword(req.NewPassword); strength.Band == BandVeryWeak || strength.Band == BandWeak {
		fields["new_password"] = "password is too weak"
	}
	if req.NewPassword != req.ConfirmPassword {
		fields["confirm_password"] = "passwords do not match"
	}
	if len(fields) > 0 {
		return appErrors.Validation(fields)
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if !s.hasher.Verify(req.OldPassword, user.PasswordHash) {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	newHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	if err := s.repo.UpdatePassword(ctx, userID, newHash, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	if err := s.tokens.RevokeAll(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke refresh tokens after password change", zap.Error(err))
	}

	s.audit(ctx, models.AuditActionPasswordChange, userID, "", "")
	return nil
}

// CheckPasswordStrength scores a candidate password. Pure, no side effects.
func (s *AuthService) CheckPasswordStrength(password string) models.PasswordStrength {
	return s.policy.ScorePassword(password)
}

// UserByID resolves a user for the request middleware.
func (s *AuthService) UserByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

func (s *AuthService) issuePair(ctx context.Context, user *models.User, ip, userAgent string) (*models.AuthResponse, error) {
	accessToken, _, err := s.tokens.IssueAccess(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	refreshToken, _, err := s.tokens.IssueRefresh(ctx, user.ID, ip, userAgent)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	return &models.AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.tokens.config.AccessTTL.Seconds()),
		IssuedAt:     time.Now().UTC(),
		User:         user.Info(),
	}, nil
}

func (s *AuthService) audit(ctx context.Context, action, userID, ip, userAgent string) {
	log := &models.AuditLog{
		UserID:    &userID,
		Action:    action,
		Resource:  "auth",
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.repo.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
