package security

import (
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/cola-ai/knowledge-service/internal/config"
)

// ContextKeyUsername is the gin context key for the authenticated username.
const ContextKeyUsername = "username"

var errUnknownAPIKey = errors.New("unknown API key")

// Resolver maps bearer API keys to usernames. In testing mode the
// X-Client-ID header is accepted as the caller identity so integration
// tests can impersonate users without provisioning keys.
type Resolver struct {
	apiKeys     map[string]string
	testingMode bool
}

// NewResolver creates a Resolver from the application config.
func NewResolver(cfg *config.Config) *Resolver {
	testingMode := cfg.Mode == config.ModeTesting
	if testingMode {
		log.Warn("Testing mode enabled: X-Client-ID header is trusted as caller identity")
	}
	return &Resolver{
		apiKeys:     cfg.APIKeys,
		testingMode: testingMode,
	}
}

// Resolve returns the username for a bearer API key.
func (r *Resolver) Resolve(token string) (string, error) {
	username, ok := r.apiKeys[token]
	if !ok {
		return "", errUnknownAPIKey
	}
	return username, nil
}

// GetUsername returns the authenticated username from the gin context.
func GetUsername(c *gin.Context) string {
	return c.GetString(ContextKeyUsername)
}

// AuthMiddleware returns a gin middleware that resolves the caller
// identity from the Authorization header, or from X-Client-ID when
// testing mode is enabled.
func AuthMiddleware(resolver *Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if resolver.testingMode {
			if clientID := strings.TrimSpace(c.GetHeader("X-Client-ID")); clientID != "" {
				c.Set(ContextKeyUsername, strings.ToLower(clientID))
				c.Next()
				return
			}
		}

		auth := c.GetHeader("Authorization")
		if auth == "" {
			log.Info("Auth rejected: missing Authorization header", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth {
			log.Info("Auth rejected: invalid Authorization header; expected Bearer token", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header; expected Bearer token"})
			return
		}

		username, err := resolver.Resolve(token)
		if err != nil {
			log.Info("Auth rejected: unknown API key", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		c.Set(ContextKeyUsername, username)
		c.Next()
	}
}
