package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/studytrack-app/studytrack-api/internal/models"
	appErrors "github.com/studytrack-app/studytrack-api/pkg/errors"
)

type fakeUserRepo struct {
	users     map[string]*models.User
	audits    []*models.AuditLog
	nextID    int
	createErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*models.User)}
}

func (f *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	user.CreatedAt = time.Now().UTC()
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if u, ok := f.users[id]; ok {
		u.LastLogin = &ts
	}
	return nil
}

func (f *fakeUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	u, ok := f.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = updatedAt
	return nil
}

func (f *fakeUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	f.audits = append(f.audits, log)
	return nil
}

type authFixture struct {
	svc       *AuthService
	users     *fakeUserRepo
	tokens    *TokenService
	tokenRepo *fakeTokenRepo
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	users := newFakeUserRepo()
	tokenRepo := newFakeTokenRepo()
	tokens := newTestTokenService(tokenRepo)
	hasher := testHasher()

	svc, err := NewAuthService(users, tokens, hasher, nil, nil, nil, zap.NewNop())
	require.NoError(t, err)

	return &authFixture{svc: svc, users: users, tokens: tokens, tokenRepo: tokenRepo}
}

func registerRequest() models.RegisterRequest {
	return models.RegisterRequest{
		FullName:        "Ada Lovelace",
		Email:           "ada@example.com",
		Password:        "Str0ng!Pass9",
		ConfirmPassword: "Str0ng!Pass9",
	}
}

func TestRegisterSuccess(t *testing.T) {
	fx := newAuthFixture(t)

	res, err := fx.svc.Register(context.Background(), registerRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "ada@example.com", res.User.Email)
	assert.Equal(t, models.RoleStudent, res.User.Role)

	stored, err := fx.users.FindByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "Str0ng!Pass9", stored.PasswordHash)
	assert.True(t, stored.Active)

	require.Len(t, fx.users.audits, 1)
	assert.Equal(t, models.AuditActionRegister, fx.users.audits[0].Action)
}

func TestRegisterConfirmMismatch(t *testing.T) {
	fx := newAuthFixture(t)

	req := registerRequest()
	req.ConfirmPassword = "Different!Pw9"

	_, err := fx.svc.Register(context.Background(), req)
	require.Error(t, err)

	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Fields, "confirm_password")
	assert.NotContains(t, appErr.Fields, "password")
}

func TestRegisterWeakPassword(t *testing.T) {
	fx := newAuthFixture(t)

	req := registerRequest()
	req.Password = "abcdefgh"
	req.ConfirmPassword = "abcdefgh"

	_, err := fx.svc.Register(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, appErrors.FromError(err).Fields, "password")
}

func TestRegisterDuplicateEmail(t *testing.T) {
	fx := newAuthFixture(t)

	_, err := fx.svc.Register(context.Background(), registerRequest())
	require.NoError(t, err)

	_, err = fx.svc.Register(context.Background(), registerRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestRegisterUniqueViolationRace(t *testing.T) {
	fx := newAuthFixture(t)

	// A concurrent registration can pass the existence check and lose the
	// insert race; the constraint violation must read as a conflict, not
	// an internal error.
	fx.users.createErr = fmt.Errorf("create user: %w", &pq.Error{Code: "23505"})

	_, err := fx.svc.Register(context.Background(), registerRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestLoginSuccess(t *testing.T) {
	fx := newAuthFixture(t)

	_, err := fx.svc.Register(context.Background(), registerRequest())
	require.NoError(t, err)

	res, err := fx.svc.Login(context.Background(), models.LoginRequest{
		Email:    "ada@example.com",
		Password: "Str0ng!Pass9",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)

	stored, err := fx.users.FindByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLogin)
}

func TestLoginFailureIsGeneric(t *testing.T) {
	fx := newAuthFixture(t)

	_, err := fx.svc.Register(context.Background(), registerRequest())
	require.NoError(t, err)

	_, unknownErr := fx.svc.Login(context.Background(), models.LoginRequest{
		Email:    "nobody@example.com",
		Password: "Str0ng!Pass9",
	})
	require.Error(t, unknownErr)

	_, wrongErr := fx.svc.Login(context.Background(), models.LoginRequest{
		Email:    "ada@example.com",
		Password: "Wrong!Pass99",
	})
	require.Error(t, wrongErr)

	unknown := appErrors.FromError(unknownErr)
	wrong := appErrors.FromError(wrongErr)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, unknown.Code)
	assert.Equal(t, unknown.Code, wrong.Code)
	assert.Equal(t, unknown.Message, wrong.Message)
}

func TestLoginInactiveAccount(t *testing.T) {
	fx := newAuthFixture(t)

	_, err := fx.svc.Register(context.Background(), registerRequest())
	require.NoError(t, err)

	stored, err := fx.users.FindByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	stored.Active = false

	_, err = fx.svc.Login(context.Background(), models.LoginRequest{
		Email:    "ada@example.com",
		Password: "Str0ng!Pass9",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestRefreshRotatesSingleUse(t *testing.T) {
	fx := newAuthFixture(t)

	registered, err := fx.svc.Register(context.Background(), registerRequest())
	require.NoError(t, err)

	rotated, err := fx.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: registered.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, registered.RefreshToken, rotated.RefreshToken)

	// Second presentation of the consumed token must fail.
	_, err = fx.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: registered.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTokenRevoked.Code, appErrors.FromError(err).Code)

	// The rotated token is still good.
	_, err = fx.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: rotated.RefreshToken})
	assert.NoError(t, err)
}

func TestLogoutRevokesPresentedTokens(t *testing.T) {
	fx := newAuthFixture(t)

	registered, err := fx.svc.Register(context.Background(), registerRequest())
	require.NoError(t, err)
	userID := registered.User.ID

	err = fx.svc.Logout(context.Background(), userID, models.LogoutRequest{
		AccessToken:  registered.AccessToken,
		RefreshToken: registered.RefreshToken,
	})
	require.NoError(t, err)

	revoked, err := fx.tokens.IsBlacklisted(context.Background(), registered.AccessToken)
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = fx.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: registered.RefreshToken})
	assert.Error(t, err)
}

func TestLogoutRejectsForeignRefreshToken(t *testing.T) {
	fx := newAuthFixture(t)

	first, err := fx.svc.Register(context.Background(), registerRequest())
	require.NoError(t, err)

	other := registerRequest()
	other.Email = "grace@example.com"
	second, err := fx.svc.Register(context.Background(), other)
	require.NoError(t, err)

	err = fx.svc.Logout(context.Background(), second.User.ID, models.LogoutRequest{
		RefreshToken: first.RefreshToken,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestLogoutWithoutIdentityRevokesRefresh(t *testing.T) {
	fx := newAuthFixture(t)

	registered, err := fx.svc.Register(context.Background(), registerRequest())
	require.NoError(t, err)

	// No resolved identity: the verified refresh claims alone name the
	// session, so an expired access token cannot strand it.
	err = fx.svc.Logout(context.Background(), "", models.LogoutRequest{
		RefreshToken: registered.RefreshToken,
	})
	require.NoError(t, err)

	_, err = fx.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: registered.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTokenRevoked.Code, appErrors.FromError(err).Code)
}

func TestLogoutIgnoresUndecodableAccessToken(t *testing.T) {
	fx := newAuthFixture(t)

	registered, err := fx.svc.Register(context.Background(), registerRequest())
	require.NoError(t, err)

	err = fx.svc.Logout(context.Background(), "", models.LogoutRequest{
		AccessToken:  "not-a-token",
		RefreshToken: registered.RefreshToken,
	})
	require.NoError(t, err)

	_, err = fx.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: registered.RefreshToken})
	assert.Error(t, err)
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	fx := newAuthFixture(t)

	registered, err := fx.svc.Register(context.Background(), registerRequest())
	require.NoError(t, err)

	relogin, err := fx.svc.Login(context.Background(), models.LoginRequest{
		Email:    "ada@example.com",
		Password: "Str0ng!Pass9",
	})
	require.NoError(t, err)

	require.NoError(t, fx.svc.LogoutAll(context.Background(), registered.User.ID, "", ""))

	_, err = fx.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: registered.RefreshToken})
	assert.Error(t, err)
	_, err = fx.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: relogin.RefreshToken})
	assert.Error(t, err)
}

func TestChangePassword(t *testing.T) {
	fx := newAuthFixture(t)

	registered, err := fx.svc.Register(context.Background(), registerRequest())
	require.NoError(t, err)
	userID := registered.User.ID

	err = fx.svc.ChangePassword(context.Background(), userID, models.ChangePasswordRequest{
		OldPassword:     "Wrong!Pass99",
		NewPassword:     "N3w!Passw0rdZ",
		ConfirmPassword: "N3w!Passw0rdZ",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	err = fx.svc.ChangePassword(context.Background(), userID, models.ChangePasswordRequest{
		OldPassword:     "Str0ng!Pass9",
		NewPassword:     "N3w!Passw0rdZ",
		ConfirmPassword: "N3w!Passw0rdZ",
	})
	require.NoError(t, err)

	// Old sessions are revoked and only the new password logs in.
	_, err = fx.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: registered.RefreshToken})
	assert.Error(t, err)

	_, err = fx.svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "Str0ng!Pass9"})
	assert.Error(t, err)
	_, err = fx.svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "N3w!Passw0rdZ"})
	assert.NoError(t, err)
}

func TestCheckPasswordStrength(t *testing.T) {
	fx := newAuthFixture(t)

	strength := fx.svc.CheckPasswordStrength("Aa1!Aa1!Aa1!Aa1!")
	assert.Equal(t, BandStrong, strength.Band)
}
