package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/weiawesome/wes-io-chat/pkg/jwt"
	"github.com/weiawesome/wes-io-chat/pkg/response"
)

const (
	UserIDKey     = "user_id"
	UsernameKey   = "username"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// TokenVerifier validates a bearer credential.
type TokenVerifier interface {
	Verify(token string) (*jwt.Claims, error)
}

// BearerToken extracts the token from an "Authorization: Bearer" header value.
func BearerToken(header string) string {
	if !strings.HasPrefix(header, BearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, BearerPrefix))
}

// RequireAuth returns a Gin middleware that rejects requests without a valid
// bearer token and stores the caller's identity in the context.
func RequireAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			response.Abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "missing authorization header")
			return
		}

		token := BearerToken(authHeader)
		if token == "" {
			response.Abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid authorization format")
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			response.Abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", err.Error())
			return
		}

		c.Set(UserIDKey, claims.Subject())
		c.Set(UsernameKey, claims.DisplayName())

		c.Next()
	}
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetUsername extracts username from Gin context.
func GetUsername(c *gin.Context) string {
	return c.GetString(UsernameKey)
}
