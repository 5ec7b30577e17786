// internal/validators/ratelimit.go
package validators

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/FairForge/gatekeep/internal/pipeline"
)

// RateLimit enforces a per-caller token bucket. One limiter is created per
// caller on first sight and kept for the process lifetime.
//
// The check is time-of-check sensitive, so it opts out of verdict caching.
type RateLimit struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	perSecond rate.Limit
	burst     int
	priority  uint8
}

// NewRateLimit creates a rate-limit validator allowing perSecond requests
// with the given burst per caller.
func NewRateLimit(perSecond float64, burst int, priority uint8) *RateLimit {
	return &RateLimit{
		limiters:  make(map[string]*rate.Limiter),
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		priority:  priority,
	}
}

// Name returns the validator name.
func (v *RateLimit) Name() string { return "rate_limit" }

// ResourceClass reports the concurrency budget this validator consumes.
func (v *RateLimit) ResourceClass() pipeline.ResourceClass { return pipeline.IOBound }

// Priority is the ordering tie-break hint.
func (v *RateLimit) Priority() uint8 { return v.priority }

// CacheEligible opts out of verdict memoization: a pass right now says
// nothing about the next call.
func (v *RateLimit) CacheEligible() bool { return false }

// Validate consumes one token from the caller's bucket.
func (v *RateLimit) Validate(_ context.Context, req *pipeline.Request) error {
	caller := req.CallerID
	if caller == "" {
		caller = "anonymous"
	}

	v.mu.Lock()
	limiter, ok := v.limiters[caller]
	if !ok {
		limiter = rate.NewLimiter(v.perSecond, v.burst)
		v.limiters[caller] = limiter
	}
	v.mu.Unlock()

	if !limiter.Allow() {
		return pipeline.NewError(pipeline.KindRateLimited, v.Name(), "rate limit exceeded")
	}
	return nil
}
