package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/studytrack-app/studytrack-api/internal/models"
	appErrors "github.com/studytrack-app/studytrack-api/pkg/errors"
	"github.com/studytrack-app/studytrack-api/pkg/response"
)

// RequireRoles gates a route on the caller holding one of the listed roles.
// Must run after RequireAuth.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		claims := CurrentClaims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}

		c.Next()
	}
}
