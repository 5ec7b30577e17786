// internal/pipeline/executor.go
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// runState tracks one request's progress through the executor.
type runState int

const (
	statePending runState = iota
	stateRunning
	statePassed
	stateRejected
	stateTimedOut
)

// String returns the state name
func (s runState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateRunning:
		return "running"
	case statePassed:
		return "passed"
	case stateRejected:
		return "rejected"
	case stateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// executor runs an execution plan against a request. Stages run strictly in
// order; within a stage every member runs concurrently, bounded by the
// stage class's semaphore. The first failure (by plan position, for
// determinism) rejects the request and cooperatively cancels the rest of
// the stage.
type executor struct {
	timeout time.Duration
	limits  map[ResourceClass]int
	cache   *Cache
	report  func(Sample)
	logger  *zap.Logger
}

func newExecutor(timeout time.Duration, limits map[ResourceClass]int, cache *Cache, report func(Sample), logger *zap.Logger) *executor {
	if report == nil {
		report = func(Sample) {}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &executor{
		timeout: timeout,
		limits:  limits,
		cache:   cache,
		report:  report,
		logger:  logger,
	}
}

func (e *executor) limit(class ResourceClass) int {
	if n, ok := e.limits[class]; ok && n > 0 {
		return n
	}
	return 1
}

// run executes the plan. It returns nil when every validator passes, the
// first *ValidationError when one rejects, or the context error when the
// caller goes away.
func (e *executor) run(ctx context.Context, plan Plan, req *Request) error {
	state := statePending
	fingerprint := ""
	if e.cache != nil {
		fingerprint = req.Fingerprint()
	}

	for i, stage := range plan.Stages {
		if err := ctx.Err(); err != nil {
			return err
		}

		state = stateRunning
		e.logger.Debug("stage starting",
			zap.Int("stage", i),
			zap.Int("validators", len(stage.Validators)),
			zap.String("state", state.String()))

		if err := e.runStage(ctx, &stage, req, fingerprint); err != nil {
			state = stateRejected
			if kind, ok := KindOf(err); ok && kind == KindTimeout {
				state = stateTimedOut
			}
			e.logger.Debug("stage failed",
				zap.Int("stage", i),
				zap.String("state", state.String()),
				zap.Error(err))
			return err
		}
	}

	state = statePassed
	e.logger.Debug("evaluation complete", zap.String("state", state.String()))
	return nil
}

// runStage launches every validator in the stage and joins them. On the
// first failure it cancels the stage context; still-running validators
// observe the cancellation at their own suspension points and their results
// are discarded. Among multiple failures the one earliest in the plan wins,
// regardless of completion order.
func (e *executor) runStage(ctx context.Context, stage *Stage, req *Request, fingerprint string) error {
	stageCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, e.limit(stage.Class))

	type result struct {
		pos int
		err error
	}
	results := make(chan result, len(stage.Validators))

	var wg sync.WaitGroup
	for pos, v := range stage.Validators {
		wg.Add(1)
		go func(v *registered, pos int) {
			defer wg.Done()
			results <- result{pos: pos, err: e.invoke(stageCtx, sem, v, req, fingerprint)}
		}(v, pos)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	firstPos := len(stage.Validators)
	cancelled := false

	for res := range results {
		if res.err == nil {
			continue
		}
		if isCancellation(res.err) {
			// Discarded result of a cooperatively cancelled sibling, or
			// the caller going away; never surfaced as a verdict.
			continue
		}
		if !cancelled {
			cancel()
			cancelled = true
		}
		if res.pos < firstPos {
			firstPos = res.pos
			firstErr = res.err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return firstErr
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// invoke runs one validator, consulting the cache for eligible validators.
// A hit serves the recorded verdict at zero execution cost and is still
// reported to the cost model as a cache-hit sample.
func (e *executor) invoke(ctx context.Context, sem chan struct{}, v *registered, req *Request, fingerprint string) error {
	if !v.eligible || e.cache == nil {
		return e.execute(ctx, sem, v, req)
	}

	key := CacheKey{
		Validator:   v.name(),
		Version:     v.version,
		Fingerprint: fingerprint,
		Caller:      req.CallerID,
	}

	verdict, hit, err := e.cache.GetOrCompute(ctx, key, func() (error, bool) {
		verdict := e.execute(ctx, sem, v, req)
		return verdict, storableVerdict(verdict)
	})
	if err != nil {
		return err
	}
	if hit {
		if isCancellation(verdict) {
			// The computation this request joined was cancelled by its
			// own caller; run the check ourselves.
			return e.execute(ctx, sem, v, req)
		}
		e.report(Sample{
			Validator: v.name(),
			Success:   verdict == nil,
			CacheHit:  true,
			Timestamp: time.Now(),
		})
	}
	return verdict
}

// storableVerdict reports whether a verdict may be memoized. Passes and
// deterministic rejections are; timeouts and internal faults are transient
// and must be retried on the next evaluation.
func storableVerdict(verdict error) bool {
	if verdict == nil {
		return true
	}
	kind, ok := KindOf(verdict)
	if !ok {
		return false
	}
	return kind != KindTimeout && kind != KindInternal
}

// execute acquires the resource-class budget, runs the validator under its
// timeout, and reports the sample.
func (e *executor) execute(ctx context.Context, sem chan struct{}, v *registered, req *Request) error {
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sem }()

	vctx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		vctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	err := v.v.Validate(vctx, req)
	latency := time.Since(start)

	err = normalize(ctx, v.name(), err)

	if err == nil || !isCancellation(err) {
		e.report(Sample{
			Validator: v.name(),
			Latency:   latency,
			Success:   err == nil,
			Timestamp: time.Now(),
		})
	}
	return err
}

// normalize folds validator return values into the pipeline's error
// taxonomy. Deadline overruns of the per-validator budget become Timeout;
// caller cancellation passes through raw so the stage loop can discard it;
// anything else unexpected becomes Internal.
func normalize(parent context.Context, name string, err error) error {
	if err == nil {
		return nil
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		if ve.Validator == "" {
			ve.Validator = name
		}
		return ve
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		if parent.Err() == nil {
			return NewTimeout(name)
		}
		return err
	case errors.Is(err, context.Canceled):
		return err
	default:
		return NewInternal(name, err)
	}
}
