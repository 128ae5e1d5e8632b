package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/siga-api/internal/models"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
	"github.com/noah-isme/siga-api/pkg/response"
)

// RoleSelf lets a caller reach routes whose :id is their own user id.
const RoleSelf = "SELF"

var errAwaitingRole = appErrors.Clone(appErrors.ErrForbidden, "account awaiting role assignment")

// RBAC admits callers whose role is listed, or RoleSelf matches. PENDING
// accounts are refused with a dedicated message even on RoleSelf routes.
func RBAC(allowed ...string) gin.HandlerFunc {
	roles := make(map[models.UserRole]struct{}, len(allowed))
	allowSelf := false
	for _, a := range allowed {
		if a == RoleSelf {
			allowSelf = true
			continue
		}
		roles[models.UserRole(a)] = struct{}{}
	}

	return func(c *gin.Context) {
		claims := claimsOf(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if claims.Role == models.RolePending {
			response.Error(c, errAwaitingRole)
			c.Abort()
			return
		}
		if _, ok := roles[claims.Role]; ok {
			c.Next()
			return
		}
		if allowSelf && c.Param("id") != "" && c.Param("id") == claims.UserID {
			c.Next()
			return
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// RequireRoles is RBAC over typed roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make([]string, len(roles))
	for i, r := range roles {
		allowed[i] = string(r)
	}
	return RBAC(allowed...)
}
