package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"wallvault/internal/server/config"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

// SecretGate guards operator endpoints with the shared secret, taken
// from the "secret" query parameter (legacy clients) or the
// X-Admin-Secret header. A bcrypt hash is preferred when configured;
// the plain secret is compared in constant time.
func SecretGate(cfg *config.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			secret := c.QueryParam("secret")
			if secret == "" {
				secret = c.Request().Header.Get("X-Admin-Secret")
			}
			if !secretMatches(cfg, secret) {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "unauthorized"})
			}
			return next(c)
		}
	}
}

func secretMatches(cfg *config.Config, secret string) bool {
	if secret == "" {
		return false
	}
	if cfg.AdminSecretHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(cfg.AdminSecretHash), []byte(secret)) == nil
	}
	if cfg.AdminSecret == "" {
		// No secret configured means the operator surface stays closed.
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cfg.AdminSecret), []byte(secret)) == 1
}

// client tracks the rate limit state for a single IP.
type client struct {
	tokens    float64
	lastCheck time.Time
}

// RateLimiter is a per-IP token-bucket rate limiter, applied to the
// upload and download-tracking endpoints.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rate    float64 // tokens per second
	burst   int     // max tokens
}

// NewRateLimiter creates a rate limiter with the given rate
// (requests/sec) and burst size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*client),
		rate:    rps,
		burst:   burst,
	}

	// Clean up stale entries every 5 minutes
	go func() {
		for {
			time.Sleep(5 * time.Minute)
			rl.cleanup()
		}
	}()

	return rl
}

// Middleware returns an echo middleware function that enforces rate limits.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !rl.allow(ip) {
				slog.Warn("rate limit exceeded", "ip", ip)
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error": "rate limit exceeded, try again later",
				})
			}
			return next(c)
		}
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.clients[ip]
	now := time.Now()

	if !exists {
		rl.clients[ip] = &client{
			tokens:    float64(rl.burst) - 1,
			lastCheck: now,
		}
		return true
	}

	// Refill tokens based on elapsed time
	elapsed := now.Sub(v.lastCheck).Seconds()
	v.tokens += elapsed * rl.rate
	if v.tokens > float64(rl.burst) {
		v.tokens = float64(rl.burst)
	}
	v.lastCheck = now

	if v.tokens < 1 {
		return false
	}

	v.tokens--
	return true
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, v := range rl.clients {
		if v.lastCheck.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

// RequestLogger returns an echo middleware that logs requests using slog.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			slog.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
				"user_agent", req.UserAgent(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
