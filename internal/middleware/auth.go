package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"libraryapi/internal/apperror"
	"libraryapi/internal/auth"
	"libraryapi/internal/authz"
	"libraryapi/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	accessTokenCookie = "access_token"
	principalKey      = "principal"
)

// PrincipalResolver loads the live permission set of an active user.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, userID uuid.UUID) (authz.Principal, error)
}

// Auth verifies access tokens and attaches the caller's Principal to the
// gin context. Permissions come from storage on every request, so revoked
// permissions and disabled accounts take effect before the token expires.
type Auth struct {
	issuer        *auth.Issuer
	resolver      PrincipalResolver
	secureCookies bool
}

func NewAuth(issuer *auth.Issuer, resolver PrincipalResolver, secureCookies bool) *Auth {
	return &Auth{issuer: issuer, resolver: resolver, secureCookies: secureCookies}
}

// SetTokenCookie stores the access token as an HttpOnly cookie
func (a *Auth) SetTokenCookie(c *gin.Context, token string, ttl time.Duration) {
	// Production (cross-origin): SameSiteNoneMode + Secure=true
	// Development (same-site):   SameSiteLaxMode  + Secure=false
	sameSite := http.SameSiteLaxMode
	if a.secureCookies {
		sameSite = http.SameSiteNoneMode
	}
	c.SetSameSite(sameSite)
	c.SetCookie(accessTokenCookie, token, int(ttl.Seconds()), "/", "", a.secureCookies, true)
}

// ClearTokenCookie removes the access token cookie
func (a *Auth) ClearTokenCookie(c *gin.Context) {
	sameSite := http.SameSiteLaxMode
	if a.secureCookies {
		sameSite = http.SameSiteNoneMode
	}
	c.SetSameSite(sameSite)
	c.SetCookie(accessTokenCookie, "", -1, "/", "", a.secureCookies, true)
}

// tokenFromRequest tries the cookie first, then the Authorization header.
func tokenFromRequest(c *gin.Context) (string, string) {
	tokenString, err := c.Cookie(accessTokenCookie)
	if err == nil && tokenString != "" {
		return tokenString, ""
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", "Authorization is missing"
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", "Invalid authorization format. Expected 'Bearer <token>'"
	}
	return parts[1], ""
}

// authenticate resolves the principal or aborts the request. It reports
// whether the chain may continue.
func (a *Auth) authenticate(c *gin.Context) bool {
	tokenString, problem := tokenFromRequest(c)
	if problem != "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, problem))
		return false
	}

	claims, err := a.issuer.Verify(tokenString)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token"))
		return false
	}
	userID, err := claims.UserID()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token claims"))
		return false
	}

	principal, err := a.resolver.ResolvePrincipal(c.Request.Context(), userID)
	if err != nil {
		if apperror.IsKind(err, apperror.KindNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Account is disabled or does not exist"))
			return false
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to verify permissions"))
		return false
	}

	c.Set(principalKey, principal)
	return true
}

// RequireAuth only checks that the caller is a known, active user.
func (a *Auth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.authenticate(c) {
			return
		}
		c.Next()
	}
}

// RequirePermission validates the token and checks that the caller holds
// every required permission.
func (a *Auth) RequirePermission(requiredPerms ...authz.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.authenticate(c) {
			return
		}

		principal := PrincipalFrom(c)
		for _, required := range requiredPerms {
			if !authz.Authorize(principal, required) {
				c.AbortWithStatusJSON(http.StatusForbidden, response.ErrorWithCode(http.StatusForbidden,
					string(apperror.KindPermissionDenied), "Access denied: missing permission '"+required.String()+"'"))
				return
			}
		}

		c.Next()
	}
}

// PrincipalFrom returns the principal attached by RequireAuth or
// RequirePermission, or the zero Principal on public routes.
func PrincipalFrom(c *gin.Context) authz.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(authz.Principal); ok {
			return p
		}
	}
	return authz.Principal{}
}
