// internal/validators/sizelimit.go

// Package validators provides the stock validators shipped with the
// pipeline: size limiting, per-caller rate limiting, JSON schema checks,
// bearer-token authentication, and content screening. They double as
// reference implementations of the pipeline's validator contract.
package validators

import (
	"context"
	"fmt"

	"github.com/FairForge/gatekeep/internal/pipeline"
)

// SizeLimit rejects requests whose body exceeds a configured byte bound.
type SizeLimit struct {
	maxBytes int64
	priority uint8
}

// NewSizeLimit creates a size-limit validator.
func NewSizeLimit(maxBytes int64, priority uint8) *SizeLimit {
	return &SizeLimit{maxBytes: maxBytes, priority: priority}
}

// Name returns the validator name.
func (v *SizeLimit) Name() string { return "size_limit" }

// ResourceClass reports the concurrency budget this validator consumes.
func (v *SizeLimit) ResourceClass() pipeline.ResourceClass { return pipeline.CPUBound }

// Priority is the ordering tie-break hint.
func (v *SizeLimit) Priority() uint8 { return v.priority }

// Validate checks the body length against the bound.
func (v *SizeLimit) Validate(_ context.Context, req *pipeline.Request) error {
	if req.Size() > v.maxBytes {
		return pipeline.NewError(pipeline.KindInputTooLarge, v.Name(),
			fmt.Sprintf("body is %d bytes, limit is %d", req.Size(), v.maxBytes))
	}
	return nil
}
