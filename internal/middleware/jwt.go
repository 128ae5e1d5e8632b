package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/siga-api/internal/models"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
	"github.com/noah-isme/siga-api/pkg/logger"
	"github.com/noah-isme/siga-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

var errBadAuthHeader = appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")

// TokenValidator parses access tokens into claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*models.JWTClaims, error)
}

// bearerToken extracts the token from "Authorization: Bearer <token>". The
// bool is false when the header is absent.
func bearerToken(c *gin.Context) (string, bool, error) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return "", false, nil
	}
	scheme, token, found := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !found || token == "" || !strings.EqualFold(scheme, "Bearer") {
		return "", true, errBadAuthHeader
	}
	return token, true, nil
}

// claimsOf returns the claims JWT stored, or nil.
func claimsOf(c *gin.Context) *models.JWTClaims {
	value, _ := c.Get(ContextUserKey)
	claims, _ := value.(*models.JWTClaims)
	return claims
}

func attachClaims(c *gin.Context, claims *models.JWTClaims) {
	c.Set(ContextUserKey, claims)
	c.Set(logger.UserIDKey, claims.UserID)
}

// JWT protects routes by requiring a valid access token. Subscription and
// role checks happen at login and in RBAC, not here.
func JWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, present, err := bearerToken(c)
		if !present {
			err = appErrors.ErrUnauthorized
		}
		if err == nil {
			var claims *models.JWTClaims
			if claims, err = validator.ValidateToken(token); err == nil {
				attachClaims(c, claims)
				c.Next()
				return
			}
		}
		response.Error(c, err)
		c.Abort()
	}
}

// OptionalJWT attaches claims when a valid token is sent and otherwise lets
// the request through anonymously.
func OptionalJWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, present, err := bearerToken(c); present && err == nil {
			if claims, err := validator.ValidateToken(token); err == nil {
				attachClaims(c, claims)
			}
		}
		c.Next()
	}
}
