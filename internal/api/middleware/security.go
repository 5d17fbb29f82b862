package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SecurityMiddleware enforces the cross-site check on state-changing
// signer routes. The webhook ingress is exempt: it authenticates with a
// body MAC, not a browser session.
type SecurityMiddleware struct {
	allowedOrigins map[string]bool
	logger         *zap.Logger
}

// NewSecurityMiddleware takes a comma-separated origin allowlist. Empty
// means same-origin clients only are expected and the check is skipped.
func NewSecurityMiddleware(allowedOrigins string, logger *zap.Logger) *SecurityMiddleware {
	allowed := make(map[string]bool)
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimSpace(strings.TrimSuffix(o, "/"))
		if o != "" {
			allowed[o] = true
		}
	}
	return &SecurityMiddleware{allowedOrigins: allowed, logger: logger}
}

func (sm *SecurityMiddleware) CheckOrigin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(sm.allowedOrigins) == 0 {
			c.Next()
			return
		}
		origin := strings.TrimSuffix(c.GetHeader("Origin"), "/")
		if origin == "" {
			// Non-browser clients carry no Origin; the signing token is
			// their credential.
			c.Next()
			return
		}
		if !sm.allowedOrigins[origin] {
			sm.logger.Warn("cross-origin submission rejected",
				zap.String("origin", origin),
				zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "FORBIDDEN",
				"message": "origin not allowed",
			})
			return
		}
		c.Next()
	}
}
