// Package security provides HTTP hardening middleware for the callwatch API.
package security

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeadersMiddleware adds security headers to all responses. The API serves
// JSON and websocket upgrades only, so the content policy forbids everything
// except same-origin connections.
func HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Content-Security-Policy", "default-src 'none'; connect-src 'self' ws: wss:; frame-ancestors 'none'")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// Origins is a set of allowed browser origins. An empty set or "*" allows any.
type Origins map[string]bool

// NewOrigins builds an origin set.
func NewOrigins(allowed []string) Origins {
	o := make(Origins, len(allowed))
	for _, a := range allowed {
		if a != "" {
			o[a] = true
		}
	}
	return o
}

// Allows reports whether origin may call the API.
func (o Origins) Allows(origin string) bool {
	return len(o) == 0 || o["*"] || o[origin]
}

// CheckOrigin matches the websocket.Upgrader.CheckOrigin signature. Requests
// without an Origin header are non-browser clients and are allowed.
func (o Origins) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || o.Allows(origin)
}

// CORSMiddleware handles CORS for API endpoints
func CORSMiddleware(allowed Origins) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if allowed.Allows(origin) {
			if origin != "" {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			c.Header("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
