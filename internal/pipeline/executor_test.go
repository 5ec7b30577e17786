// internal/pipeline/executor_test.go
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sleeper(name string, class ResourceClass, d time.Duration) *testValidator {
	return &testValidator{name: name, class: class, fn: func(ctx context.Context, _ *Request) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}}
}

func TestExecutor_ValidatorTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ValidatorTimeout = 50 * time.Millisecond

	p, err := New(cfg, []Registration{
		{Validator: sleeper("slow", CPUBound, 5 * time.Second)},
	})
	require.NoError(t, err)
	defer p.Close()

	start := time.Now()
	err = p.Evaluate(context.Background(), structuredRequest("t"))
	elapsed := time.Since(start)

	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, kind)
	assert.Less(t, elapsed, time.Second)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "slow", ve.Validator)
}

func TestExecutor_ConcurrencyCap(t *testing.T) {
	cfg := testConfig()
	cfg.CPULimit = 2

	var current, peak atomic.Int64
	track := func(ctx context.Context, _ *Request) error {
		n := current.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		current.Add(-1)
		return nil
	}

	var regs []Registration
	for _, name := range []string{"a", "b", "c", "d"} {
		regs = append(regs, Registration{Validator: &testValidator{
			name: name, class: CPUBound, fn: track,
		}})
	}

	p, err := New(cfg, regs)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Evaluate(context.Background(), structuredRequest("t")))
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestExecutor_FailureCancelsSiblings(t *testing.T) {
	var slowSaw atomic.Bool

	fail := &testValidator{name: "fail", class: CPUBound, fn: func(context.Context, *Request) error {
		time.Sleep(10 * time.Millisecond)
		return NewError(KindUnsafeContent, "fail", "denied pattern")
	}}
	slow := &testValidator{name: "slow", class: CPUBound, fn: func(ctx context.Context, _ *Request) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			slowSaw.Store(true)
			return ctx.Err()
		}
	}}

	p, err := New(testConfig(), []Registration{
		{Validator: fail},
		{Validator: slow},
	})
	require.NoError(t, err)
	defer p.Close()

	start := time.Now()
	err = p.Evaluate(context.Background(), structuredRequest("t"))
	elapsed := time.Since(start)

	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindUnsafeContent, kind)
	assert.Less(t, elapsed, time.Second, "rejection must not wait out the slow sibling")
	assert.True(t, slowSaw.Load(), "sibling must observe the cancellation")
}

func TestExecutor_CallerCancellation(t *testing.T) {
	p, err := New(testConfig(), []Registration{
		{Validator: sleeper("slow", CPUBound, 5 * time.Second)},
	})
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err = p.Evaluate(ctx, structuredRequest("t"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecutor_EarliestPlanPositionWins(t *testing.T) {
	// first ignores cancellation and fails late; second fails immediately.
	// The verdict must still come from the validator earlier in the plan.
	first := &testValidator{name: "first", class: CPUBound, fn: func(context.Context, *Request) error {
		time.Sleep(40 * time.Millisecond)
		return NewError(KindUnsafeContent, "first", "bad content")
	}}
	second := &testValidator{name: "second", class: CPUBound, fn: func(context.Context, *Request) error {
		return NewError(KindSchemaInvalid, "second", "bad shape")
	}}

	p, err := New(testConfig(),
		[]Registration{{Validator: first}, {Validator: second}},
		WithBaseScore("first", 1),
		WithBaseScore("second", 2),
	)
	require.NoError(t, err)
	defer p.Close()

	err = p.Evaluate(context.Background(), structuredRequest("t"))
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "first", ve.Validator)
	assert.Equal(t, KindUnsafeContent, ve.Kind)
}

func TestExecutor_UnexpectedErrorBecomesInternal(t *testing.T) {
	boom := errors.New("database on fire")
	flaky := &testValidator{name: "flaky", class: CPUBound, fn: func(context.Context, *Request) error {
		return boom
	}}

	p, err := New(testConfig(), []Registration{{Validator: flaky}})
	require.NoError(t, err)
	defer p.Close()

	err = p.Evaluate(context.Background(), structuredRequest("t"))
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, KindInternal, ve.Kind)
	assert.Equal(t, "flaky", ve.Validator)
	assert.NotContains(t, err.Error(), "database", "cause must not leak into the message")
	assert.True(t, strings.Contains(err.Error(), "internal"))

	// The cause stays reachable for logging.
	assert.ErrorIs(t, err, boom)
}

func TestExecutor_TransientVerdictsAreNotCached(t *testing.T) {
	cfg := testConfig()
	cfg.ValidatorTimeout = 30 * time.Millisecond

	var calls atomic.Int64
	slow := &testValidator{name: "slow", class: CPUBound, cacheable: true,
		fn: func(ctx context.Context, _ *Request) error {
			calls.Add(1)
			<-ctx.Done()
			return ctx.Err()
		}}

	p, err := New(cfg, []Registration{{Validator: slow}})
	require.NoError(t, err)
	defer p.Close()

	req := structuredRequest("t")
	for i := 0; i < 2; i++ {
		err := p.Evaluate(context.Background(), req)
		require.Error(t, err)
		kind, ok := KindOf(err)
		require.True(t, ok)
		assert.Equal(t, KindTimeout, kind)
	}
	assert.Equal(t, int64(2), calls.Load(), "a timeout must be retried, not replayed")
}
