package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/studytrack-app/studytrack-api/internal/models"
	"github.com/studytrack-app/studytrack-api/internal/service"
	appErrors "github.com/studytrack-app/studytrack-api/pkg/errors"
	"github.com/studytrack-app/studytrack-api/pkg/response"
)

// Context keys for the resolved identity.
const (
	ContextClaimsKey = "currentClaims"
	ContextUserKey   = "currentUser"
	ContextTokenKey  = "currentToken"
)

const defaultAccessCookie = "access_token"

// RequireAuth gates a route on a valid, non-revoked access token and a
// still-existing user. The blacklist is checked before signature
// verification so an explicitly revoked token is rejected as revoked, not
// merely invalid. cookieName selects the fallback cookie; empty uses the
// default.
func RequireAuth(tokens *service.TokenService, auth *service.AuthService, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c, cookieName)
		if token == "" {
			response.Error(c, appErrors.ErrTokenMissing)
			c.Abort()
			return
		}

		revoked, err := tokens.IsBlacklisted(c.Request.Context(), token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if revoked {
			response.Error(c, appErrors.ErrTokenRevoked)
			c.Abort()
			return
		}

		claims, err := tokens.VerifyAccess(token)
		if err != nil {
			response.Error(c, appErrors.ErrTokenInvalid)
			c.Abort()
			return
		}

		user, err := auth.UserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "user not found"))
			c.Abort()
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Set(ContextUserKey, user)
		c.Set(ContextTokenKey, token)
		c.Next()
	}
}

// OptionalAuth runs the same resolution as RequireAuth but proceeds
// anonymously on any failure. Used for endpoints that behave differently
// for anonymous and authenticated callers. The raw presented token is
// recorded even when verification fails so best-effort endpoints like
// logout can act on it.
func OptionalAuth(tokens *service.TokenService, auth *service.AuthService, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c, cookieName)
		if token == "" {
			c.Next()
			return
		}
		c.Set(ContextTokenKey, token)

		if revoked, err := tokens.IsBlacklisted(c.Request.Context(), token); err != nil || revoked {
			c.Next()
			return
		}

		claims, err := tokens.VerifyAccess(token)
		if err != nil {
			c.Next()
			return
		}

		user, err := auth.UserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			c.Next()
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// ExtractToken pulls the access token from the Authorization header,
// falling back to the named access token cookie when the header is absent.
func ExtractToken(c *gin.Context, cookieName string) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	if cookieName == "" {
		cookieName = defaultAccessCookie
	}
	if cookie, err := c.Cookie(cookieName); err == nil {
		return cookie
	}
	return ""
}

// CurrentClaims returns the access claims attached by RequireAuth.
func CurrentClaims(c *gin.Context) *models.AccessClaims {
	value, exists := c.Get(ContextClaimsKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.AccessClaims)
	if !ok {
		return nil
	}
	return claims
}

// CurrentUser returns the user attached by RequireAuth.
func CurrentUser(c *gin.Context) *models.User {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}
