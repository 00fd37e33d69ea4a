package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"qrattendance/internal/attendance"
)

const identityKey = "identity"

// ResolveIdentity reads the caller's identity from the cookie session, or
// from a bearer JWT when no session is present (the scanner client uses
// tokens). It never aborts; handlers decide what an anonymous caller may do.
func ResolveIdentity(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if who := identityFromSession(c); !who.IsZero() {
			c.Set(identityKey, who)
			c.Next()
			return
		}
		authz := c.GetHeader("Authorization")
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			tokenStr := strings.TrimSpace(authz[len("bearer "):])
			if claims, err := Parse(tokenStr, signingKey, issuer); err == nil {
				c.Set(identityKey, attendance.Identity{
					UserID:   claims.Subject,
					Username: claims.Username,
					Role:     claims.Role,
				})
			}
		}
		c.Next()
	}
}

// IdentityFrom returns the resolved identity, zero when anonymous.
func IdentityFrom(c *gin.Context) attendance.Identity {
	if v, ok := c.Get(identityKey); ok {
		if who, ok := v.(attendance.Identity); ok {
			return who
		}
	}
	return attendance.Identity{}
}

// RequireAdminPage redirects non-admin callers to the admin login page.
func RequireAdminPage() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IdentityFrom(c).IsAdmin() {
			c.Redirect(http.StatusFound, "/admin/login")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAdminAPI rejects non-admin callers with a JSON 403.
func RequireAdminAPI() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IdentityFrom(c).IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "Forbidden"})
			return
		}
		c.Next()
	}
}
