package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"chatcore/internal/domain/chat"
)

const principalContextKey = "chatcore.principal"

// TokenResolver turns a bearer token into a participant ID. Implementations
// return chat.ErrUnauthenticated for unknown or expired tokens.
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (string, error)
}

// StaticResolver serves a fixed token->user map from configuration. Good
// enough for development and integration tests; production wires an
// identity service here.
type StaticResolver map[string]string

func (r StaticResolver) ResolveToken(_ context.Context, token string) (string, error) {
	userID, ok := r[token]
	if !ok {
		return "", chat.ErrUnauthenticated
	}
	return userID, nil
}

type principal struct {
	UserID string
	Token  string
}

// AuthMiddleware resolves the Authorization header into a principal.
// Requests without a valid token pass through unauthenticated; each handler
// decides whether to require one.
type AuthMiddleware struct {
	Resolver TokenResolver
	Logger   *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		// Browsers cannot set headers on websocket dials; accept the token
		// as a query parameter on upgrade requests.
		token = strings.TrimSpace(c.Query("token"))
	}
	if token == "" || m.Resolver == nil {
		c.Next()
		return
	}
	userID, err := m.Resolver.ResolveToken(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, chat.ErrUnauthenticated) && m.Logger != nil {
			m.Logger.Debug("token resolution failed", "error", err)
		}
		c.Next()
		return
	}
	c.Set(principalContextKey, principal{UserID: userID, Token: token})
	c.Next()
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return principal{}, false
	}
	p, ok := val.(principal)
	return p, ok
}

// requireAuth resolves the principal or writes a 401 and aborts.
func requireAuth(c *gin.Context) (principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required", "code": "unauthenticated"})
		return principal{}, false
	}
	return p, true
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
