// internal/pipeline/pipeline_test.go
package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testValidator is the configurable stub used across the package tests.
type testValidator struct {
	name      string
	class     ResourceClass
	priority  uint8
	cacheable bool
	version   string
	fn        func(ctx context.Context, req *Request) error
}

func (v *testValidator) Name() string                 { return v.name }
func (v *testValidator) ResourceClass() ResourceClass { return v.class }
func (v *testValidator) Priority() uint8              { return v.priority }
func (v *testValidator) CacheEligible() bool          { return v.cacheable }
func (v *testValidator) Version() string              { return v.version }

func (v *testValidator) Validate(ctx context.Context, req *Request) error {
	if v.fn == nil {
		return nil
	}
	return v.fn(ctx, req)
}

func passing(name string, class ResourceClass) *testValidator {
	return &testValidator{name: name, class: class, cacheable: true}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CacheCleanupInterval = time.Hour
	return cfg
}

func TestNew_ConstructionErrors(t *testing.T) {
	tests := []struct {
		name string
		regs []Registration
	}{
		{
			name: "no validators",
			regs: nil,
		},
		{
			name: "duplicate names",
			regs: []Registration{
				{Validator: passing("a", CPUBound)},
				{Validator: passing("a", CPUBound)},
			},
		},
		{
			name: "unknown dependency",
			regs: []Registration{
				{Validator: passing("a", CPUBound), DependsOn: []string{"ghost"}},
			},
		},
		{
			name: "self dependency",
			regs: []Registration{
				{Validator: passing("a", CPUBound), DependsOn: []string{"a"}},
			},
		},
		{
			name: "dependency cycle",
			regs: []Registration{
				{Validator: passing("a", CPUBound), DependsOn: []string{"b"}},
				{Validator: passing("b", CPUBound), DependsOn: []string{"a"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(testConfig(), tt.regs)
			assert.Error(t, err)
		})
	}
}

func failFastFixture(t *testing.T, rateLimitFails bool) (*Pipeline, *atomic.Int64, *atomic.Int64) {
	t.Helper()

	var schemaCalls, sanitizeCalls atomic.Int64

	rateLimit := &testValidator{name: "rate_limit", class: IOBound}
	if rateLimitFails {
		rateLimit.fn = func(context.Context, *Request) error {
			return NewError(KindRateLimited, "rate_limit", "over budget")
		}
	}
	schema := &testValidator{name: "schema", class: CPUBound, cacheable: true,
		fn: func(context.Context, *Request) error { schemaCalls.Add(1); return nil }}
	sanitize := &testValidator{name: "sanitize", class: CPUBound, cacheable: true,
		fn: func(context.Context, *Request) error { sanitizeCalls.Add(1); return nil }}

	cfg := testConfig()
	cfg.Rules = []RelevanceRule{
		{When: RulePredicate{ContentKind: "structured"}, Validator: "schema", Multiplier: 0.5},
	}

	p, err := New(cfg, []Registration{
		{Validator: rateLimit},
		{Validator: schema},
		{Validator: sanitize},
	},
		WithBaseScore("rate_limit", 5),
		WithBaseScore("sanitize", 40),
		WithBaseScore("schema", 60),
	)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	return p, &schemaCalls, &sanitizeCalls
}

func structuredRequest(caller string) *Request {
	return &Request{
		Method:      "POST",
		Path:        "/api/items",
		ContentType: "application/json",
		Body:        []byte(`{"ok":true}`),
		CallerID:    caller,
	}
}

func TestPipeline_AdaptiveOrdering(t *testing.T) {
	p, _, _ := failFastFixture(t, false)

	// Structured content halves schema's cost (60 -> 30), pulling it
	// ahead of sanitize (40).
	plan := p.Plan(structuredRequest("tenant-1"))
	assert.Equal(t, []string{"rate_limit", "schema", "sanitize"}, plan.Order())
	assert.Len(t, plan.Stages, 2)

	// Without a structured content type no rule matches and the static
	// cost order stands.
	plan = p.Plan(&Request{Method: "POST", Path: "/api/items", Body: []byte("x")})
	assert.Equal(t, []string{"rate_limit", "sanitize", "schema"}, plan.Order())
}

func TestPipeline_FailFast(t *testing.T) {
	p, schemaCalls, sanitizeCalls := failFastFixture(t, true)

	err := p.Evaluate(context.Background(), structuredRequest("tenant-1"))
	require.Error(t, err)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindRateLimited, kind)

	// The rejection happened in stage one; nothing downstream ran.
	assert.Zero(t, schemaCalls.Load())
	assert.Zero(t, sanitizeCalls.Load())
}

func TestPipeline_CacheIdempotence(t *testing.T) {
	var executions atomic.Int64

	check := &testValidator{name: "check", class: CPUBound, cacheable: true,
		fn: func(context.Context, *Request) error { executions.Add(1); return nil }}

	p, err := New(testConfig(), []Registration{{Validator: check}})
	require.NoError(t, err)
	defer p.Close()

	req := structuredRequest("tenant-1")

	require.NoError(t, p.Evaluate(context.Background(), req))
	require.NoError(t, p.Evaluate(context.Background(), req))

	assert.Equal(t, int64(1), executions.Load(), "second call must be served from cache")

	p.Flush()
	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Cache.Hits)
	metrics := stats.Validators["check"]
	assert.Greater(t, metrics.CacheHitRate, 0.0)
	assert.Equal(t, int64(2), metrics.SampleCount)
}

func TestPipeline_CachedRejectionIsStable(t *testing.T) {
	var executions atomic.Int64

	check := &testValidator{name: "check", class: CPUBound, cacheable: true,
		fn: func(context.Context, *Request) error {
			executions.Add(1)
			return NewError(KindSchemaInvalid, "check", "bad shape")
		}}

	p, err := New(testConfig(), []Registration{{Validator: check}})
	require.NoError(t, err)
	defer p.Close()

	req := structuredRequest("tenant-1")

	first := p.Evaluate(context.Background(), req)
	second := p.Evaluate(context.Background(), req)

	require.Error(t, first)
	assert.Equal(t, first.Error(), second.Error())
	assert.Equal(t, int64(1), executions.Load())
}

func TestPipeline_InvalidateCaller(t *testing.T) {
	var executions atomic.Int64

	check := &testValidator{name: "check", class: CPUBound, cacheable: true,
		fn: func(context.Context, *Request) error { executions.Add(1); return nil }}

	p, err := New(testConfig(), []Registration{{Validator: check}})
	require.NoError(t, err)
	defer p.Close()

	req := structuredRequest("tenant-1")
	require.NoError(t, p.Evaluate(context.Background(), req))

	removed := p.InvalidateCaller("tenant-1")
	assert.Equal(t, 1, removed)

	require.NoError(t, p.Evaluate(context.Background(), req))
	assert.Equal(t, int64(2), executions.Load(), "invalidation must force re-execution")
}

func TestPipeline_DistinctCallersDoNotShareVerdicts(t *testing.T) {
	var executions atomic.Int64

	check := &testValidator{name: "check", class: CPUBound, cacheable: true,
		fn: func(context.Context, *Request) error { executions.Add(1); return nil }}

	p, err := New(testConfig(), []Registration{{Validator: check}})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Evaluate(context.Background(), structuredRequest("tenant-1")))
	require.NoError(t, p.Evaluate(context.Background(), structuredRequest("tenant-2")))

	assert.Equal(t, int64(2), executions.Load())
}

func TestPipeline_ObserverReceivesSamples(t *testing.T) {
	var observed atomic.Int64

	p, err := New(testConfig(),
		[]Registration{{Validator: passing("a", CPUBound)}},
		WithObserver(func(Sample) { observed.Add(1) }))
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Evaluate(context.Background(), structuredRequest("t")))
	assert.Equal(t, int64(1), observed.Load())
}
