package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/krs-api/internal/models"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
	"github.com/noah-isme/krs-api/pkg/response"
)

// RequireRoles admits callers holding one of the roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return rbac("", roles)
}

// RequireRolesOrSelf also admits a student whose id equals the named path
// parameter, e.g. the studentId of a waitlist entry.
func RequireRolesOrSelf(param string, roles ...models.UserRole) gin.HandlerFunc {
	return rbac(param, roles)
}

func rbac(selfParam string, roles []models.UserRole) gin.HandlerFunc {
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

		if _, ok := allowed[claims.Role]; ok {
			c.Next()
			return
		}

		if selfParam != "" && claims.Role == models.RoleStudent {
			if target := c.Param(selfParam); target != "" && target == claims.UserID {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}
