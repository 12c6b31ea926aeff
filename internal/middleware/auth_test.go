package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/studytrack-app/studytrack-api/internal/models"
	"github.com/studytrack-app/studytrack-api/internal/service"
	appErrors "github.com/studytrack-app/studytrack-api/pkg/errors"
)

type memoryTokenRepo struct {
	refresh   map[string]*models.RefreshToken
	blacklist map[string]*models.BlacklistEntry
}

func newMemoryTokenRepo() *memoryTokenRepo {
	return &memoryTokenRepo{
		refresh:   make(map[string]*models.RefreshToken),
		blacklist: make(map[string]*models.BlacklistEntry),
	}
}

func (m *memoryTokenRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	m.refresh[token.TokenID+"|"+token.UserID] = token
	return nil
}

func (m *memoryTokenRepo) FindRefreshToken(ctx context.Context, tokenID, userID string) (*models.RefreshToken, error) {
	rt, ok := m.refresh[tokenID+"|"+userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *memoryTokenRepo) DeleteRefreshToken(ctx context.Context, tokenID, userID string) error {
	delete(m.refresh, tokenID+"|"+userID)
	return nil
}

func (m *memoryTokenRepo) DeleteUserRefreshTokens(ctx context.Context, userID string) error {
	for key, rt := range m.refresh {
		if rt.UserID == userID {
			delete(m.refresh, key)
		}
	}
	return nil
}

func (m *memoryTokenRepo) CreateBlacklistEntry(ctx context.Context, entry *models.BlacklistEntry) error {
	m.blacklist[entry.Token] = entry
	return nil
}

func (m *memoryTokenRepo) IsBlacklisted(ctx context.Context, token string, now time.Time) (bool, error) {
	entry, ok := m.blacklist[token]
	return ok && entry.ExpiresAt.After(now), nil
}

func (m *memoryTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type memoryUserRepo struct {
	users map[string]*models.User
}

func (m *memoryUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (m *memoryUserRepo) Create(ctx context.Context, user *models.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *memoryUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return nil
}

func (m *memoryUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	return nil
}

func (m *memoryUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return nil
}

type authTestEnv struct {
	tokens *service.TokenService
	auth   *service.AuthService
	users  *memoryUserRepo
	user   *models.User
}

func newAuthTestEnv(t *testing.T) *authTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	user := &models.User{
		ID:     "user-1",
		Email:  "ada@example.com",
		Role:   models.RoleStudent,
		Active: true,
	}
	users := &memoryUserRepo{users: map[string]*models.User{user.ID: user}}

	tokens := service.NewTokenService(newMemoryTokenRepo(), nil, nil, zap.NewNop(), service.TokenConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    time.Hour,
		Issuer:        "studytrack-test",
	})

	hasher := service.NewPasswordHasher(service.ScryptParams{N: 1024, R: 8, P: 1})
	auth, err := service.NewAuthService(users, tokens, hasher, nil, nil, nil, zap.NewNop())
	require.NoError(t, err)

	return &authTestEnv{tokens: tokens, auth: auth, users: users, user: user}
}

func (env *authTestEnv) router() *gin.Engine {
	router := gin.New()
	router.GET("/protected", RequireAuth(env.tokens, env.auth, ""), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": CurrentUser(c).ID})
	})
	router.GET("/maybe", OptionalAuth(env.tokens, env.auth, ""), func(c *gin.Context) {
		if user := CurrentUser(c); user != nil {
			c.JSON(http.StatusOK, gin.H{"user_id": user.ID})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": nil})
	})
	return router
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var envelope struct {
		Error *appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	require.NotNil(t, envelope.Error)
	return envelope.Error.Code
}

func TestRequireAuthMissingToken(t *testing.T) {
	env := newAuthTestEnv(t)
	recorder := httptest.NewRecorder()

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	env.router().ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Equal(t, appErrors.ErrTokenMissing.Code, errorCode(t, recorder.Body.Bytes()))
}

func TestRequireAuthGarbageToken(t *testing.T) {
	env := newAuthTestEnv(t)
	recorder := httptest.NewRecorder()

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	env.router().ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Equal(t, appErrors.ErrTokenInvalid.Code, errorCode(t, recorder.Body.Bytes()))
}

func TestRequireAuthAcceptsBearerToken(t *testing.T) {
	env := newAuthTestEnv(t)
	recorder := httptest.NewRecorder()

	signed, _, err := env.tokens.IssueAccess(env.user)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	env.router().ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "user-1")
}

func TestRequireAuthAcceptsCookieFallback(t *testing.T) {
	env := newAuthTestEnv(t)
	recorder := httptest.NewRecorder()

	signed, _, err := env.tokens.IssueAccess(env.user)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: signed})
	env.router().ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestRequireAuthConfiguredCookieName(t *testing.T) {
	env := newAuthTestEnv(t)

	router := gin.New()
	router.GET("/protected", RequireAuth(env.tokens, env.auth, "st_access"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": CurrentUser(c).ID})
	})

	signed, _, err := env.tokens.IssueAccess(env.user)
	require.NoError(t, err)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "st_access", Value: signed})
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusOK, recorder.Code)

	// The default cookie name is not consulted once one is configured.
	recorder = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: signed})
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestOptionalAuthRecordsUnverifiedToken(t *testing.T) {
	env := newAuthTestEnv(t)
	gin.SetMode(gin.TestMode)

	expiredTokens := service.NewTokenService(newMemoryTokenRepo(), nil, nil, zap.NewNop(), service.TokenConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     -time.Minute,
		RefreshTTL:    time.Hour,
		Issuer:        "studytrack-test",
	})
	signed, _, err := expiredTokens.IssueAccess(env.user)
	require.NoError(t, err)

	router := gin.New()
	router.GET("/maybe", OptionalAuth(env.tokens, env.auth, ""), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"token":     c.GetString(ContextTokenKey),
			"anonymous": CurrentUser(c) == nil,
		})
	})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/maybe", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	router.ServeHTTP(recorder, req)

	// The expired token resolves no identity but its raw string is kept
	// for best-effort consumers.
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), signed)
	assert.Contains(t, recorder.Body.String(), `"anonymous":true`)
}

func TestRequireAuthHeaderWinsOverCookie(t *testing.T) {
	env := newAuthTestEnv(t)
	recorder := httptest.NewRecorder()

	signed, _, err := env.tokens.IssueAccess(env.user)
	require.NoError(t, err)

	// A malformed header is not papered over by a valid cookie.
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Token "+signed)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: signed})
	env.router().ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Equal(t, appErrors.ErrTokenMissing.Code, errorCode(t, recorder.Body.Bytes()))
}

func TestRequireAuthBlacklistedBeforeInvalid(t *testing.T) {
	env := newAuthTestEnv(t)
	recorder := httptest.NewRecorder()

	signed, _, err := env.tokens.IssueAccess(env.user)
	require.NoError(t, err)
	require.NoError(t, env.tokens.Blacklist(context.Background(), signed))

	// Signature still verifies, so the revoked reason must win.
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	env.router().ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Equal(t, appErrors.ErrTokenRevoked.Code, errorCode(t, recorder.Body.Bytes()))
}

func TestRequireAuthDeletedUser(t *testing.T) {
	env := newAuthTestEnv(t)
	recorder := httptest.NewRecorder()

	signed, _, err := env.tokens.IssueAccess(env.user)
	require.NoError(t, err)
	delete(env.users.users, env.user.ID)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	env.router().ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, errorCode(t, recorder.Body.Bytes()))
}

func TestOptionalAuthNeverRejects(t *testing.T) {
	env := newAuthTestEnv(t)
	router := env.router()

	for _, header := range []string{"", "Bearer not-a-token"} {
		recorder := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/maybe", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		router.ServeHTTP(recorder, req)
		assert.Equal(t, http.StatusOK, recorder.Code)
		assert.Contains(t, recorder.Body.String(), "null")
	}
}

func TestOptionalAuthAttachesIdentity(t *testing.T) {
	env := newAuthTestEnv(t)
	recorder := httptest.NewRecorder()

	signed, _, err := env.tokens.IssueAccess(env.user)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/maybe", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	env.router().ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "user-1")
}
