// endpoint_ratelimit.go - Per-endpoint rate limiting.
//
// Sign-in and sign-up get a stricter bucket than the rest of the API so
// password guessing runs into the limit long before normal browsing does.
// Uploads have their own bucket since each one is expensive.
package server

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// EndpointLimits are per-IP requests per minute for each endpoint class.
// A zero class limit falls back to API.
type EndpointLimits struct {
	API    int
	Auth   int
	Upload int
}

// endpointLimiter picks the bucket for a request by its endpoint class.
type endpointLimiter struct {
	api    *rateLimiter
	auth   *rateLimiter
	upload *rateLimiter
	log    *zap.Logger
}

func newEndpointLimiter(ctx context.Context, limits EndpointLimits, log *zap.Logger) *endpointLimiter {
	if limits.Auth <= 0 {
		limits.Auth = limits.API
	}
	if limits.Upload <= 0 {
		limits.Upload = limits.API
	}
	return &endpointLimiter{
		api:    newRateLimiter(ctx, limits.API),
		auth:   newRateLimiter(ctx, limits.Auth),
		upload: newRateLimiter(ctx, limits.Upload),
		log:    log,
	}
}

// classify maps a request to its limiter and limit type. Actuator probes are
// not limited.
func (e *endpointLimiter) classify(r *http.Request) (*rateLimiter, string) {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/actuator/"):
		return nil, ""
	case path == "/api/auth/sign-in" || path == "/api/auth/sign-up":
		return e.auth, "authentication"
	case path == "/api/resource" && r.Method == http.MethodPost:
		return e.upload, "upload"
	default:
		return e.api, "api"
	}
}

// middleware answers 429 with Retry-After once the client's bucket for the
// endpoint class is empty.
func (e *endpointLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter, limitType := e.classify(r)
		if limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		ip := getClientIP(r)
		if !limiter.allow(ip) {
			e.log.Warn("rate_limit_exceeded",
				zap.String("ip", ip),
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method),
				zap.String("limit_type", limitType))

			w.Header().Set("Retry-After", limiter.retryAfter())
			w.Header().Set("X-RateLimit-Limit-Type", limitType)
			writeMessage(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
