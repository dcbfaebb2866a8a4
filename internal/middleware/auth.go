package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"trustmymrr/internal/auth"
	"trustmymrr/internal/startups"
	"trustmymrr/pkg/models"
)

const startupKey = "startup"

// ManagementAuthorizer checks a management token for a startup.
type ManagementAuthorizer interface {
	AuthorizeManagement(ctx context.Context, startupID, token string) (*models.Startup, error)
}

// RequireManagementToken authorizes edits to the startup named by the
// route parameter param. The token is read from "Authorization: Bearer" or
// X-Management-Token. On success the startup is stored in the context.
func RequireManagementToken(authz ManagementAuthorizer, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("X-Management-Token")
		if token == "" {
			var err error
			token, err = extractBearerToken(c.GetHeader("Authorization"))
			if err != nil {
				abort(c, http.StatusUnauthorized, "MANAGEMENT_TOKEN_REQUIRED", "Management token required", nil)
				return
			}
		}

		st, err := authz.AuthorizeManagement(c.Request.Context(), c.Param(param), token)
		switch {
		case err == nil:
		case errors.Is(err, startups.ErrStartupNotFound):
			abort(c, http.StatusNotFound, "STARTUP_NOT_FOUND", "Startup not found", nil)
			return
		case errors.Is(err, auth.ErrTokenRevoked):
			abort(c, http.StatusUnauthorized, "TOKEN_REVOKED", "Management token has been revoked", nil)
			return
		case errors.Is(err, auth.ErrInvalidToken):
			abort(c, http.StatusForbidden, "INVALID_MANAGEMENT_TOKEN", "Invalid management token", nil)
			return
		default:
			abort(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to verify management token", nil)
			return
		}

		c.Set(startupKey, st)
		c.Next()
	}
}

var errBearerFormat = errors.New("expected 'Bearer <token>'")

func extractBearerToken(authHeader string) (string, error) {
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", errBearerFormat
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
	if token == "" {
		return "", errBearerFormat
	}
	return token, nil
}

// GetStartup returns the startup authorized by RequireManagementToken.
func GetStartup(c *gin.Context) (*models.Startup, bool) {
	v, ok := c.Get(startupKey)
	if !ok {
		return nil, false
	}
	st, ok := v.(*models.Startup)
	return st, ok
}
