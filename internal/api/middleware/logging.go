package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLog is seeded into the context by Logger and filled in by the auth
// middleware further down the chain, so the request line carries the resolved
// tenant. A request is handled by one goroutine, so no locking.
type requestLog struct {
	customerID   string
	plan         string
	instanceID   string
	integratorID string
}

const requestLogKey contextKey = "request_log"

func requestLogFrom(ctx context.Context) *requestLog {
	rl, _ := ctx.Value(requestLogKey).(*requestLog)
	return rl
}

// Logger emits one structured line per request. Tenant fields appear once the
// license key has been resolved; unauthenticated requests log without them.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		rl := &requestLog{}
		r = r.WithContext(context.WithValue(r.Context(), requestLogKey, rl))

		next.ServeHTTP(rec, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		}
		if rl.customerID != "" {
			attrs = append(attrs, "customer_id", rl.customerID, "plan", rl.plan)
		}
		if rl.instanceID != "" {
			attrs = append(attrs, "instance_id", rl.instanceID)
		}
		if rl.integratorID != "" {
			attrs = append(attrs, "integrator_id", rl.integratorID)
		}
		slog.Info("request", attrs...)
	})
}
