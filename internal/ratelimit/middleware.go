package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// Identity is resolved per request by the caller's auth middleware. Falls
// back to IP-keyed limits when empty.
type Identity struct {
	UserID string
	Tier   string
}

// IdentityFunc extracts the caller identity from a request.
type IdentityFunc func(r *http.Request) Identity

// Middleware enforces the endpoint class's limit, the flood guard, and the
// blocklist, emitting standard rate-limit headers on every response.
func Middleware(limiter *Limiter, guard *FloodGuard, blocklist *Blocklist, class string, identify IdentityFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			identity := Identity{}
			if identify != nil {
				identity = identify(r)
			}

			identifier := identity.UserID
			if identifier == "" {
				identifier = ip
			}

			if blocklist.Blocked(ip) || (identity.UserID != "" && blocklist.Blocked(identity.UserID)) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			fingerprint := r.Header.Get("X-Client-Fingerprint")
			if guard != nil && guard.Suspicious(r.UserAgent(), fingerprint) {
				key := fingerprint
				if key == "" {
					key = ip
				}
				if !guard.Allow(key) {
					w.Header().Set("Retry-After", "1")
					writeTooManyRequests(w, 1)
					return
				}
			}

			result := limiter.CheckClass(r.Context(), identifier, class, identity.Tier)
			setHeaders(w, result)

			if !result.Allowed {
				retry := int(result.RetryAfter.Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeTooManyRequests(w, retry)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setHeaders(w http.ResponseWriter, result Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.UnixMilli(), 10))
}

func writeTooManyRequests(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = fmt.Fprintf(w, `{"error":"Rate limit exceeded","retry_after":%d}`, retryAfter)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
