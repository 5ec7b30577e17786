// internal/pipeline/pipeline.go

// Package pipeline implements an adaptive request-validation pipeline: a
// configurable set of independent validators run against each request in an
// order that minimizes expected latency and maximizes early failure
// detection. Ordering decisions learn from execution history through a
// per-validator cost model fed asynchronously by the executor.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config carries the pipeline's global tuning knobs. Zero values fall back
// to the defaults from DefaultConfig.
type Config struct {
	// ValidatorTimeout bounds each validator call. There is no
	// pipeline-level aggregate timeout; that wrapper belongs to the
	// caller.
	ValidatorTimeout time.Duration `yaml:"validator_timeout"`

	// Per-class concurrency limits within a stage. CPU-bound checks
	// contend under unbounded concurrency while IO-bound checks benefit
	// from more of it, so the limits are distinct.
	CPULimit    int `yaml:"cpu_limit"`
	IOLimit     int `yaml:"io_limit"`
	MemoryLimit int `yaml:"memory_limit"`

	CacheTTL             time.Duration `yaml:"cache_ttl"`
	CacheCapacity        int           `yaml:"cache_capacity"`
	CacheCleanupInterval time.Duration `yaml:"cache_cleanup_interval"`

	// Smoothing is the EMA factor: the weight given to the latest
	// sample when updating validator metrics.
	Smoothing float64 `yaml:"smoothing"`

	Weights CostWeights `yaml:"weights"`

	// Rules adjust validator relevance per request profile. Loaded once
	// at construction; no hot reload.
	Rules []RelevanceRule `yaml:"rules"`

	// Categories drive the classifier's endpoint categorization.
	Categories []CategoryRule       `yaml:"categories"`
	Thresholds ClassifierThresholds `yaml:"thresholds"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ValidatorTimeout:     2 * time.Second,
		CPULimit:             4,
		IOLimit:              16,
		MemoryLimit:          4,
		CacheTTL:             30 * time.Second,
		CacheCapacity:        10000,
		CacheCleanupInterval: time.Minute,
		Smoothing:            0.2,
		Weights:              DefaultCostWeights(),
		Thresholds:           DefaultThresholds(),
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.ValidatorTimeout <= 0 {
		c.ValidatorTimeout = def.ValidatorTimeout
	}
	if c.CPULimit <= 0 {
		c.CPULimit = def.CPULimit
	}
	if c.IOLimit <= 0 {
		c.IOLimit = def.IOLimit
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = def.MemoryLimit
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = def.CacheCapacity
	}
	if c.CacheCleanupInterval <= 0 {
		c.CacheCleanupInterval = def.CacheCleanupInterval
	}
	if c.Smoothing <= 0 || c.Smoothing > 1 {
		c.Smoothing = def.Smoothing
	}
	if c.Weights.Failure == 0 && c.Weights.CacheHit == 0 {
		c.Weights = def.Weights
	}
	if c.Thresholds.MediumBytes <= 0 {
		c.Thresholds = def.Thresholds
	}
}

// Option customizes pipeline construction.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithObserver registers an additional sink for execution samples, e.g. a
// metrics collector or telemetry emitter. Observers run on the executor's
// reporting path after the verdict is decided, not while validators run.
func WithObserver(fn func(Sample)) Option {
	return func(p *Pipeline) { p.observers = append(p.observers, fn) }
}

// WithBaseScore primes a validator's initial cost score before any
// execution history exists.
func WithBaseScore(validator string, score float64) Option {
	return func(p *Pipeline) { p.primed[validator] = score }
}

// WithClock injects the cache's time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.clock = now }
}

// Pipeline is the per-process validation pipeline. Validators are
// registered once at construction and immutable for the process lifetime;
// replacing one requires building a new pipeline.
type Pipeline struct {
	validators []*registered
	classifier *Classifier
	sorter     *Sorter
	costs      *CostModel
	cache      *Cache
	exec       *executor

	observers []func(Sample)
	primed    map[string]float64
	clock     func() time.Time
	logger    *zap.Logger
}

// New builds a pipeline from the registrations and configuration.
// Duplicate names, unknown dependency references, and dependency cycles are
// construction errors, never silent request-time behavior.
func New(cfg Config, regs []Registration, opts ...Option) (*Pipeline, error) {
	if len(regs) == 0 {
		return nil, errors.New("pipeline: at least one validator is required")
	}
	cfg.applyDefaults()

	p := &Pipeline{
		primed: make(map[string]float64),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	seen := make(map[string]bool, len(regs))
	for _, reg := range regs {
		if reg.Validator == nil {
			return nil, errors.New("pipeline: nil validator in registration")
		}
		name := reg.Validator.Name()
		if name == "" {
			return nil, errors.New("pipeline: validator with empty name")
		}
		if seen[name] {
			return nil, fmt.Errorf("pipeline: duplicate validator name %q", name)
		}
		seen[name] = true
		p.validators = append(p.validators, newRegistered(reg))
	}

	if err := validateDependencies(p.validators); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p.classifier = NewClassifier(cfg.Categories, cfg.Thresholds)
	p.sorter = NewSorter(cfg.Rules)
	p.costs = NewCostModel(cfg.Smoothing, cfg.Weights, p.logger.Named("costmodel"))
	for name, score := range p.primed {
		p.costs.Prime(name, score)
	}

	p.cache = NewCache(cfg.CacheCapacity, cfg.CacheTTL, cfg.CacheCleanupInterval)
	if p.clock != nil {
		p.cache.setClock(p.clock)
	}

	limits := map[ResourceClass]int{
		CPUBound:    cfg.CPULimit,
		IOBound:     cfg.IOLimit,
		MemoryBound: cfg.MemoryLimit,
	}
	p.exec = newExecutor(cfg.ValidatorTimeout, limits, p.cache, p.record, p.logger.Named("executor"))

	return p, nil
}

// record fans a sample out to the cost model and any registered observers.
func (p *Pipeline) record(s Sample) {
	p.costs.Record(s)
	for _, fn := range p.observers {
		fn(s)
	}
}

// Evaluate runs the pipeline against one request. It returns nil when every
// validator passes, the first *ValidationError in plan order when one
// rejects, or the context error when the caller goes away. Each call is a
// single attempt; validator idempotence makes external retries safe.
func (p *Pipeline) Evaluate(ctx context.Context, req *Request) error {
	profile := p.classifier.Classify(req)
	ordered := p.sorter.Order(p.validators, p.costs.Scores(), profile)
	plan := buildPlan(ordered)
	return p.exec.run(ctx, plan, req)
}

// Plan exposes the execution plan the pipeline would build for a request
// right now. Useful for inspection and tests; Evaluate builds its own.
func (p *Pipeline) Plan(req *Request) Plan {
	profile := p.classifier.Classify(req)
	ordered := p.sorter.Order(p.validators, p.costs.Scores(), profile)
	return buildPlan(ordered)
}

// InvalidateCaller drops every cached verdict tied to a caller. Call it on
// identity-affecting events such as a permission change.
func (p *Pipeline) InvalidateCaller(callerID string) int {
	return p.cache.InvalidateCaller(callerID)
}

// Stats bundles the pipeline's observable state.
type Stats struct {
	Cache      CacheStats
	Validators map[string]ValidatorMetrics
	Scores     map[string]float64
}

// Stats returns a snapshot of cache counters and validator metrics.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Cache:      p.cache.Stats(),
		Validators: p.costs.Snapshot(),
		Scores:     p.costs.Scores(),
	}
}

// Flush waits for queued samples to be applied. Intended for tests.
func (p *Pipeline) Flush() {
	p.costs.Flush()
}

// Close releases the pipeline's background goroutines.
func (p *Pipeline) Close() {
	p.costs.Close()
	p.cache.Close()
}
