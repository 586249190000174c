package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig holds configuration for CORS middleware
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig allows read and mutation calls from allowedOrigins, or
// from any origin when the list is empty. The API carries no credentials.
func DefaultCORSConfig(allowedOrigins []string) *CORSConfig {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &CORSConfig{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept", "Origin", "X-Requested-With"},
		ExposedHeaders: []string{"Content-Length", "Content-Type"},
		MaxAge:         86400, // 24 hours
	}
}

// CORSMiddleware echoes an allowed Origin back with the configured policy.
// A preflight from an allowed origin is answered here with 204 and never
// reaches the router; anything else passes through untouched.
func CORSMiddleware(config *CORSConfig) func(http.Handler) http.Handler {
	if config == nil {
		config = DefaultCORSConfig(nil)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || !config.allows(origin) {
				next.ServeHTTP(w, r)
				return
			}

			config.writeHeaders(w.Header(), origin)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (c *CORSConfig) writeHeaders(h http.Header, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	// Responses differ per origin.
	h.Add("Vary", "Origin")
	h.Set("Access-Control-Allow-Methods", strings.Join(c.AllowedMethods, ", "))
	h.Set("Access-Control-Allow-Headers", strings.Join(c.AllowedHeaders, ", "))
	h.Set("Access-Control-Expose-Headers", strings.Join(c.ExposedHeaders, ", "))
	h.Set("Access-Control-Max-Age", strconv.Itoa(c.MaxAge))
	if c.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
}

func (c *CORSConfig) allows(origin string) bool {
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
