package middleware

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/credcore"
	"github.com/gin-gonic/gin"
)

// Authenticator is the part of credcore.Engine the guards need.
type Authenticator interface {
	Authenticate(header string) (*credcore.Identity, error)
}

// ginIdentityKey is the gin context key holding the *credcore.Identity.
const ginIdentityKey = "credcore.identity"

// Guard rejects requests without a valid access token and attaches the
// identity to the request context for next.
func Guard(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				unauthorized(w, credcore.ErrEngineNotReady)
				return
			}
			id, err := auth.Authenticate(r.Header.Get("Authorization"))
			if err != nil {
				unauthorized(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(credcore.WithIdentity(r.Context(), id)))
		})
	}
}

// GinGuard is Guard for gin routers. The identity is available through
// IdentityFromGin and credcore.IdentityFromContext(c.Request.Context()).
func GinGuard(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil {
			c.Header("WWW-Authenticate", challenge(credcore.ErrEngineNotReady))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := auth.Authenticate(c.GetHeader("Authorization"))
		if err != nil {
			c.Header("WWW-Authenticate", challenge(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(ginIdentityKey, id)
		c.Request = c.Request.WithContext(credcore.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// IdentityFromGin returns the identity attached by GinGuard.
func IdentityFromGin(c *gin.Context) (*credcore.Identity, bool) {
	v, ok := c.Get(ginIdentityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*credcore.Identity)
	return id, ok && id != nil
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", challenge(err))
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// challenge builds the RFC 6750 header value. A missing credential gets the
// bare challenge; a rejected one names invalid_token.
func challenge(err error) string {
	if err == nil || errors.Is(err, credcore.ErrTokenMissing) || errors.Is(err, credcore.ErrEngineNotReady) {
		return `Bearer`
	}
	if errors.Is(err, credcore.ErrTokenExpired) {
		return `Bearer error="invalid_token", error_description="token expired"`
	}
	return `Bearer error="invalid_token"`
}
