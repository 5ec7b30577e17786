// internal/validators/sanitize.go
package validators

import (
	"bytes"
	"context"
	"fmt"
	"regexp"

	"github.com/FairForge/gatekeep/internal/pipeline"
)

// defaultDenyPatterns screen for content that should never reach handlers.
var defaultDenyPatterns = []string{
	`(?i)<script[\s>]`,
	`(?i)javascript:`,
	`(?i)on(load|error|click|mouseover)\s*=`,
	`(?i)<iframe[\s>]`,
}

// Sanitize screens request bodies against a deny-pattern table. Patterns
// are compiled once at construction.
type Sanitize struct {
	patterns []*regexp.Regexp
	priority uint8
}

// NewSanitize creates a content-screening validator. With no patterns the
// default set is used.
func NewSanitize(patterns []string, priority uint8) (*Sanitize, error) {
	if len(patterns) == 0 {
		patterns = defaultDenyPatterns
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("validators: compiling deny pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &Sanitize{patterns: compiled, priority: priority}, nil
}

// Name returns the validator name.
func (v *Sanitize) Name() string { return "sanitize" }

// ResourceClass reports the concurrency budget this validator consumes.
func (v *Sanitize) ResourceClass() pipeline.ResourceClass { return pipeline.CPUBound }

// Priority is the ordering tie-break hint.
func (v *Sanitize) Priority() uint8 { return v.priority }

// Validate scans the body for denied content. Null bytes are rejected
// before any pattern runs.
func (v *Sanitize) Validate(_ context.Context, req *pipeline.Request) error {
	if bytes.IndexByte(req.Body, 0) >= 0 {
		return pipeline.NewError(pipeline.KindUnsafeContent, v.Name(), "body contains null bytes")
	}
	for _, re := range v.patterns {
		if re.Match(req.Body) {
			return pipeline.NewError(pipeline.KindUnsafeContent, v.Name(), "body matched a denied content pattern")
		}
	}
	return nil
}
