package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	// Context keys for the authenticated caller
	ContextKeyPrincipal = "auth_principal"

	// HeaderAPIKey carries a raw API key
	HeaderAPIKey = "x-api-key"
)

// Authenticator checks API keys and signed client tokens on incoming requests
type Authenticator struct {
	keys   *KeyService
	tokens *JWTManager
	logger zerolog.Logger
}

// NewAuthenticator creates an authenticator. tokens may be nil when token
// authentication is not configured.
func NewAuthenticator(keys *KeyService, tokens *JWTManager, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		keys:   keys,
		tokens: tokens,
		logger: logger.With().Str("component", "auth").Logger(),
	}
}

// credential extracts the raw credential from x-api-key or a Bearer header.
// Websocket upgrades may also pass it as the api_key query parameter since
// browsers cannot set headers on them.
func credential(c *gin.Context) string {
	if v := strings.TrimSpace(c.GetHeader(HeaderAPIKey)); v != "" {
		return v
	}
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return strings.TrimSpace(c.Query("api_key"))
	}
	return ""
}

// Authenticate resolves a raw credential to a principal
func (a *Authenticator) Authenticate(c *gin.Context, raw string) (*Principal, error) {
	if looksLikeJWT(raw) && a.tokens.Enabled() {
		claims, err := a.tokens.Validate(raw)
		if err != nil {
			return nil, err
		}
		return &Principal{Subject: claims.Subject, Name: claims.Name, Scope: claims.Scope, Method: "token"}, nil
	}

	key, err := a.keys.Verify(c.Request.Context(), raw)
	if err != nil {
		return nil, err
	}
	return &Principal{Subject: key.ID, Name: key.Name, Scope: key.Scope, Method: "api_key"}, nil
}

// Middleware rejects requests without a valid credential
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := credential(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   ErrAPIKeyRequired.Code,
				"message": ErrAPIKeyRequired.Message,
			})
			return
		}

		principal, err := a.Authenticate(c, raw)
		if err != nil {
			var authErr AuthError
			if !errors.As(err, &authErr) {
				a.logger.Error().Err(err).Msg("credential check failed")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   authErr.Code,
				"message": authErr.Message,
			})
			return
		}

		c.Set(ContextKeyPrincipal, principal)
		c.Next()
	}
}

// RequireScope ensures the authenticated caller holds scope
func RequireScope(scope Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := GetPrincipal(c)
		if p == nil || !p.Scope.Allows(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   ErrForbidden.Code,
				"message": ErrForbidden.Message,
			})
			return
		}
		c.Next()
	}
}

// GetPrincipal extracts the authenticated caller from the Gin context
func GetPrincipal(c *gin.Context) *Principal {
	if p, exists := c.Get(ContextKeyPrincipal); exists {
		if principal, ok := p.(*Principal); ok {
			return principal
		}
	}
	return nil
}
