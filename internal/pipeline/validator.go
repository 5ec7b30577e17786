// internal/pipeline/validator.go
package pipeline

import (
	"context"
)

// ResourceClass categorizes where a validator spends its time. The executor
// uses it to bound intra-stage parallelism per class.
type ResourceClass int

const (
	CPUBound ResourceClass = iota
	IOBound
	MemoryBound
)

// String returns the class name
func (rc ResourceClass) String() string {
	switch rc {
	case CPUBound:
		return "cpu"
	case IOBound:
		return "io"
	case MemoryBound:
		return "memory"
	default:
		return "unknown"
	}
}

// Validator is a named, idempotent check run against a request.
//
// Validate must return nil when the request passes and a *ValidationError
// when it is rejected. Calling Validate twice with the same request and
// caller must produce the same verdict; the cache relies on this.
// A validator must not observably mutate the request or external state.
type Validator interface {
	// Name returns the unique validator name.
	Name() string

	// ResourceClass reports which concurrency budget the validator
	// consumes while executing.
	ResourceClass() ResourceClass

	// Priority is a tie-break hint for ordering; lower runs earlier
	// when adjusted costs are equal.
	Priority() uint8

	// Validate checks the request. It should honor ctx cancellation at
	// its own suspension points.
	Validate(ctx context.Context, req *Request) error
}

// Cacheable is implemented by validators that want to opt out of verdict
// memoization. Validators that do not implement it are cache-eligible.
// Time-of-check sensitive validators (rate limits, quota checks) should
// implement it and return false.
type Cacheable interface {
	CacheEligible() bool
}

// Versioned is implemented by validators whose logic can change between
// deployments. The version string becomes part of the cache key, so bumping
// it invalidates verdicts cached by an older version.
type Versioned interface {
	Version() string
}

// Registration binds a validator into a pipeline at construction time.
// Validators are immutable for the process lifetime; replacing one requires
// building a new pipeline.
type Registration struct {
	Validator Validator

	// DependsOn lists names of validators that must complete in an
	// earlier stage. Most validators are independent and leave this nil.
	DependsOn []string

	// Tags let relevance rules address groups of validators without
	// naming each one.
	Tags []string
}

// registered is the pipeline's internal record for one validator.
type registered struct {
	v        Validator
	deps     []string
	tags     map[string]bool
	version  string
	eligible bool
}

func newRegistered(reg Registration) *registered {
	r := &registered{
		v:        reg.Validator,
		deps:     reg.DependsOn,
		tags:     make(map[string]bool, len(reg.Tags)),
		eligible: true,
	}
	for _, t := range reg.Tags {
		r.tags[t] = true
	}
	if c, ok := reg.Validator.(Cacheable); ok {
		r.eligible = c.CacheEligible()
	}
	if v, ok := reg.Validator.(Versioned); ok {
		r.version = v.Version()
	}
	return r
}

func (r *registered) name() string { return r.v.Name() }
