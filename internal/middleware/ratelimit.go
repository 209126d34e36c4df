package middleware

import (
	"net"
	"net/http"
	"strconv"

	"github.com/servimarket/payments-engine/internal/auth"
	"github.com/servimarket/payments-engine/internal/handler"
	"github.com/servimarket/payments-engine/internal/logging"
	"github.com/servimarket/payments-engine/internal/ratelimit"
)

// RateLimit guards write endpoints against bursts. Keys on the authenticated
// actor when there is one, otherwise the remote address.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)

			decision := limiter.CheckAndRecord(key)
			if !decision.Allowed {
				logging.FromContext(r.Context()).Warn("request rate limited",
					"key", key,
					"path", r.URL.Path,
					"count", decision.Count,
				)
				retryAfter := int(decision.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				handler.RespondAppError(w, handler.ErrRateLimited, nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if actorID, ok := auth.ActorIDFromContext(r.Context()); ok {
		return actorID.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
