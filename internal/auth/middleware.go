package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cohortlive/pkg/types"
)

const identityContextKey = "auth_identity"

// Middleware validates bearer tokens and stores the identity in the context.
func (v *Verifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c.Request)
		if token == "" {
			abortUnauthenticated(c)
			return
		}
		identity, err := v.Verify(token)
		if err != nil {
			abortUnauthenticated(c)
			return
		}
		c.Set(identityContextKey, *identity)
		c.Next()
	}
}

// IdentityFromContext retrieves the identity set by Middleware.
func IdentityFromContext(c *gin.Context) (types.Identity, bool) {
	val, ok := c.Get(identityContextKey)
	if !ok {
		return types.Identity{}, false
	}
	identity, ok := val.(types.Identity)
	return identity, ok
}

// ExtractToken reads a bearer token from the Authorization header, falling
// back to the access_token query parameter used by websocket clients.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func abortUnauthenticated(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": types.ErrAuthenticationRequired.Message,
		"code":  types.KindAuthenticationRequired,
	})
}
