package auth

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TenantRateLimiter provides per-token request rate limiting with token
// bucket semantics. Inactive limiters are dropped after cleanupTTL.
type TenantRateLimiter struct {
	mu          sync.RWMutex
	limiters    map[string]*rate.Limiter
	lastAccess  map[string]time.Time
	defaultRate rate.Limit
	burst       int
	cleanupTTL  time.Duration
}

// RateLimiterConfig configures the tenant rate limiter.
type RateLimiterConfig struct {
	RequestsPerMinute int
	Burst             int
	CleanupTTL        time.Duration
}

// NewTenantRateLimiter creates a per-tenant rate limiter and starts its
// cleanup loop.
func NewTenantRateLimiter(cfg RateLimiterConfig) *TenantRateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.CleanupTTL <= 0 {
		cfg.CleanupTTL = 10 * time.Minute
	}

	trl := &TenantRateLimiter{
		limiters:    make(map[string]*rate.Limiter),
		lastAccess:  make(map[string]time.Time),
		defaultRate: rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:       cfg.Burst,
		cleanupTTL:  cfg.CleanupTTL,
	}

	go trl.cleanupLoop()

	return trl
}

// Allow reports whether a request from the given tenant is allowed.
func (trl *TenantRateLimiter) Allow(tenantID string) bool {
	return trl.getLimiter(tenantID).Allow()
}

func (trl *TenantRateLimiter) getLimiter(tenantID string) *rate.Limiter {
	trl.mu.RLock()
	limiter, exists := trl.limiters[tenantID]
	trl.mu.RUnlock()

	trl.mu.Lock()
	defer trl.mu.Unlock()

	if !exists {
		// Double-check after acquiring the write lock.
		if limiter, exists = trl.limiters[tenantID]; !exists {
			limiter = rate.NewLimiter(trl.defaultRate, trl.burst)
			trl.limiters[tenantID] = limiter
		}
	}
	trl.lastAccess[tenantID] = time.Now()
	return limiter
}

// cleanupLoop periodically removes inactive limiters.
func (trl *TenantRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(trl.cleanupTTL / 2)
	defer ticker.Stop()

	for range ticker.C {
		trl.cleanup()
	}
}

func (trl *TenantRateLimiter) cleanup() {
	trl.mu.Lock()
	defer trl.mu.Unlock()

	now := time.Now()
	for tenantID, last := range trl.lastAccess {
		if now.Sub(last) > trl.cleanupTTL {
			delete(trl.limiters, tenantID)
			delete(trl.lastAccess, tenantID)
		}
	}
}

// RateLimitMiddleware limits authenticated requests per app token.
// Unauthenticated requests are keyed by remote address.
func (trl *TenantRateLimiter) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if token := TokenFromContext(r.Context()); token != nil {
			key = "token:" + strconv.FormatInt(token.ID, 10)
		}

		if !trl.Allow(key) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limit exceeded","type":"rate_limit_error"}}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
