package ratelimit

import (
	"strings"
	"sync"

	"github.com/CloudReel/sentinel/internal/metrics"
	"golang.org/x/time/rate"
)

// automationSignatures is the denylist of client signatures that mark a
// request as likely automated traffic.
var automationSignatures = []string{
	"curl/",
	"python-requests",
	"python-urllib",
	"go-http-client",
	"wget/",
	"scrapy",
	"headlesschrome",
	"phantomjs",
	"selenium",
	"bot",
	"spider",
	"crawler",
}

// FloodGuard applies a stricter per-fingerprint token bucket to requests
// whose metadata matches known-automation heuristics. It runs in parallel
// with the windowed limiter, in front of it.
type FloodGuard struct {
	mu         sync.Mutex
	buckets    map[string]*rate.Limiter
	perSecond  rate.Limit
	burst      int
	signatures []string
}

// NewFloodGuard creates a guard allowing perSecond sustained requests with
// the given burst per suspicious fingerprint.
func NewFloodGuard(perSecond, burst int) *FloodGuard {
	return &FloodGuard{
		buckets:    make(map[string]*rate.Limiter),
		perSecond:  rate.Limit(perSecond),
		burst:      burst,
		signatures: automationSignatures,
	}
}

// Suspicious reports whether the client metadata matches an automation
// signature.
func (g *FloodGuard) Suspicious(userAgent, fingerprint string) bool {
	ua := strings.ToLower(userAgent)
	for _, sig := range g.signatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	// An empty fingerprint from a browser endpoint is itself a signal.
	return fingerprint == "" && ua == ""
}

// Allow consumes one token from the fingerprint's bucket.
func (g *FloodGuard) Allow(fingerprint string) bool {
	g.mu.Lock()
	bucket, ok := g.buckets[fingerprint]
	if !ok {
		bucket = rate.NewLimiter(g.perSecond, g.burst)
		g.buckets[fingerprint] = bucket
	}
	g.mu.Unlock()

	allowed := bucket.Allow()
	if !allowed {
		metrics.FloodGuardBlocks.Inc()
	}
	return allowed
}
