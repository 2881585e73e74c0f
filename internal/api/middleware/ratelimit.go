package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/nexbridge/snowgate/internal/api/response"
	"github.com/nexbridge/snowgate/internal/cache"
	"github.com/nexbridge/snowgate/internal/metering"
	"github.com/nexbridge/snowgate/pkg/models"
)

const defaultLimit = 100

// RateLimit enforces the per-plan calls-per-window limit via a fixed-window
// Redis counter keyed by customer id. The counter is decoupled from the
// usage log, so limiter correctness never depends on log durability.
type RateLimit struct {
	cache      cache.Cache
	meter      *metering.Recorder
	window     time.Duration
	planLimits map[string]int
}

// NewRateLimit creates the RateLimit middleware.
func NewRateLimit(c cache.Cache, meter *metering.Recorder, window time.Duration, planLimits map[string]int) *RateLimit {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimit{cache: c, meter: meter, window: window, planLimits: planLimits}
}

func (rl *RateLimit) limitFor(plan string) int {
	if limit, ok := rl.planLimits[plan]; ok && limit > 0 {
		return limit
	}
	return defaultLimit
}

// Limit applies rate limiting based on the customer set by auth middleware.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		customer, ok := GetCustomer(r)
		if !ok {
			// Auth middleware didn't run; nothing to key on.
			next.ServeHTTP(w, r)
			return
		}

		limit := rl.limitFor(customer.Plan)

		count, remainingWindow, err := rl.cache.IncrWindow(r.Context(),
			cache.RateLimitKey(customer.ID), rl.window)
		if err != nil {
			// On Redis error, allow the request (fail open).
			next.ServeHTTP(w, r)
			return
		}

		remaining := limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(remainingWindow).Unix(), 10))

		if count > int64(limit) {
			retryAfter := int(math.Ceil(remainingWindow.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			if rl.meter != nil {
				msg := "rate limit exceeded"
				rl.meter.Record(&models.UsageLogEntry{
					CustomerID:   customer.ID,
					InstanceID:   GetInstanceID(r),
					Category:     "rate_limited",
					Success:      false,
					ErrorMessage: &msg,
					Origin:       r.RemoteAddr,
				})
			}

			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests",
				map[string]any{"retry_after_seconds": retryAfter})
			return
		}

		next.ServeHTTP(w, r)
	})
}
