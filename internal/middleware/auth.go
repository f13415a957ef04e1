package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"

	"github.com/corelinkhq/platform-core/internal/model"
	"github.com/corelinkhq/platform-core/pkg/scope"
)

// Claims is the token shape the upstream authentication layer issues.
// Verification happened upstream conceptually; this middleware only
// re-checks the signature and materializes the per-request AuthContext.
type Claims struct {
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

type AuthMiddleware struct {
	secret []byte
	// cache avoids re-parsing the same bearer token on every request of
	// a burst. Entries expire well before any sane token lifetime.
	cache *gocache.Cache
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{
		secret: []byte(secret),
		cache:  gocache.New(time.Minute, 5*time.Minute),
	}
}

// Authenticate verifies the bearer token and attaches the AuthContext the
// scope guard evaluates against. The context lives for this request only.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status":  "error",
				"message": "missing authorization header",
			})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status":  "error",
				"message": "invalid authorization format",
			})
			return
		}

		auth, err := m.resolve(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status":  "error",
				"message": "invalid token",
			})
			return
		}

		c.Set(scope.ContextAuth, auth)
		c.Next()
	}
}

func (m *AuthMiddleware) resolve(token string) (*model.AuthContext, error) {
	if cached, ok := m.cache.Get(token); ok {
		return cached.(*model.AuthContext), nil
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token claims")
	}

	auth := &model.AuthContext{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		Roles:    claims.Roles,
	}
	m.cache.Set(token, auth, gocache.DefaultExpiration)
	return auth, nil
}
