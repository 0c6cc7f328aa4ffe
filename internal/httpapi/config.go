package httpapi

import "time"

// maxBodyBytes controls the maximum allowed request body size. Images travel
// inline, so the default is larger than a plain JSON API would need.
var maxBodyBytes int64 = defaultMaxBodyBytes

const defaultMaxBodyBytes = 32 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
		return
	}
	maxBodyBytes = n
}

// generateTimeout bounds a /generate request. Zero means no limit beyond
// server and connection timeouts.
var generateTimeout time.Duration

// SetGenerateTimeout sets the /generate timeout (0 disables).
func SetGenerateTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	generateTimeout = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

// rateLimit is the per-client-IP request budget per minute on API routes.
var rateLimit int

// SetRateLimit sets requests per minute per client IP (0 disables).
func SetRateLimit(perMinute int) {
	if perMinute < 0 {
		perMinute = 0
	}
	rateLimit = perMinute
}

// swaggerEnabled mounts the API docs UI under /swagger/.
var swaggerEnabled bool

// SetSwagger toggles the /swagger/ UI.
func SetSwagger(enabled bool) { swaggerEnabled = enabled }
