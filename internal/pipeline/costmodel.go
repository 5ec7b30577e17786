// internal/pipeline/costmodel.go
package pipeline

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ValidatorMetrics is the rolling performance record for one validator.
// Old samples decay through an exponential moving average so the model
// stays responsive to drift. Records are never deleted.
type ValidatorMetrics struct {
	AvgLatency   time.Duration
	FailureRate  float64
	CacheHitRate float64
	SampleCount  int64
}

// Sample is one recorded validator execution. Cache hits update the hit
// rate and failure rate but not the latency average.
type Sample struct {
	Validator string
	Latency   time.Duration
	Success   bool
	CacheHit  bool
	Timestamp time.Time
}

// CostWeights tunes how failure rate and cache hit rate discount the
// latency-derived cost score.
type CostWeights struct {
	Failure  float64 `yaml:"failure"`
	CacheHit float64 `yaml:"cache_hit"`
}

// DefaultCostWeights returns the standard weighting.
func DefaultCostWeights() CostWeights {
	return CostWeights{Failure: 1.0, CacheHit: 1.0}
}

// defaultBaseScore is used for validators with no execution history and no
// primed score.
const defaultBaseScore = 10.0

// CostModel maintains per-validator metrics and the derived cost scores the
// sorter orders by. Samples arrive over a buffered channel and are applied
// by a single collector goroutine, so recording never gates the request
// path. Score reads return snapshot copies; a slightly stale score is
// acceptable and self-correcting.
type CostModel struct {
	mu      sync.RWMutex
	metrics map[string]*ValidatorMetrics
	scores  map[string]float64
	primed  map[string]float64

	alpha   float64
	weights CostWeights

	samples chan Sample
	flush   chan chan struct{}
	done    chan struct{}
	logger  *zap.Logger
}

// NewCostModel creates a cost model and starts its collector goroutine.
// alpha is the EMA smoothing factor giving the weight of the latest sample.
func NewCostModel(alpha float64, weights CostWeights, logger *zap.Logger) *CostModel {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.2
	}
	if weights.Failure == 0 && weights.CacheHit == 0 {
		weights = DefaultCostWeights()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &CostModel{
		metrics: make(map[string]*ValidatorMetrics),
		scores:  make(map[string]float64),
		primed:  make(map[string]float64),
		alpha:   alpha,
		weights: weights,
		samples: make(chan Sample, 1024),
		flush:   make(chan chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go m.collect()
	return m
}

// Prime seeds the initial cost score for a validator before any execution
// history exists. Recorded samples take over once they accumulate.
func (m *CostModel) Prime(validator string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primed[validator] = score
	if _, ok := m.metrics[validator]; !ok {
		m.scores[validator] = score
	}
}

// Record submits an execution sample. It never blocks the caller: when the
// channel is full the sample is applied synchronously under a brief lock.
// Samples recorded after Close are dropped; nothing would drain them.
func (m *CostModel) Record(s Sample) {
	select {
	case <-m.done:
		return
	default:
	}

	select {
	case m.samples <- s:
	case <-m.done:
	default:
		m.apply(s)
	}
}

// collect drains the sample channel until Close.
func (m *CostModel) collect() {
	for {
		select {
		case s := <-m.samples:
			m.apply(s)
		case ack := <-m.flush:
			m.drainQueued()
			close(ack)
		case <-m.done:
			m.drainQueued()
			return
		}
	}
}

// drainQueued applies everything already buffered without blocking.
func (m *CostModel) drainQueued() {
	for {
		select {
		case s := <-m.samples:
			m.apply(s)
		default:
			return
		}
	}
}

func (m *CostModel) apply(s Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.metrics[s.Validator]
	if !ok {
		stats = &ValidatorMetrics{}
		m.metrics[s.Validator] = stats
	}

	failure := 0.0
	if !s.Success {
		failure = 1.0
	}
	hit := 0.0
	if s.CacheHit {
		hit = 1.0
	}

	if stats.SampleCount == 0 {
		stats.FailureRate = failure
		stats.CacheHitRate = hit
		if !s.CacheHit {
			stats.AvgLatency = s.Latency
		}
	} else {
		stats.FailureRate = ema(stats.FailureRate, failure, m.alpha)
		stats.CacheHitRate = ema(stats.CacheHitRate, hit, m.alpha)
		if !s.CacheHit {
			if stats.AvgLatency == 0 {
				stats.AvgLatency = s.Latency
			} else {
				stats.AvgLatency = time.Duration(ema(float64(stats.AvgLatency), float64(s.Latency), m.alpha))
			}
		}
	}
	stats.SampleCount++

	m.scores[s.Validator] = m.score(s.Validator, stats)
}

func ema(current, sample, alpha float64) float64 {
	return current*(1-alpha) + sample*alpha
}

// score derives the scalar cost for ordering. Latency raises the cost;
// failure rate divides it (frequent failers prune work when run early);
// cache hit rate multiplies it down (well-cached validators are nearly
// free).
func (m *CostModel) score(name string, stats *ValidatorMetrics) float64 {
	if stats.SampleCount == 0 {
		if s, ok := m.primed[name]; ok {
			return s
		}
		return defaultBaseScore
	}

	latencyMS := float64(stats.AvgLatency) / float64(time.Millisecond)
	if latencyMS <= 0 {
		if s, ok := m.primed[name]; ok {
			latencyMS = s
		} else {
			latencyMS = defaultBaseScore
		}
	}

	cost := latencyMS / (1 + stats.FailureRate*m.weights.Failure)

	discount := stats.CacheHitRate * m.weights.CacheHit
	if discount > 0.95 {
		discount = 0.95
	}
	return cost * (1 - discount)
}

// Scores returns a snapshot of all current cost scores.
func (m *CostModel) Scores() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]float64, len(m.scores))
	for k, v := range m.scores {
		out[k] = v
	}
	return out
}

// Score returns the current cost score for one validator.
func (m *CostModel) Score(validator string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.scores[validator]; ok {
		return s
	}
	if s, ok := m.primed[validator]; ok {
		return s
	}
	return defaultBaseScore
}

// Metrics returns a copy of one validator's rolling metrics.
func (m *CostModel) Metrics(validator string) (ValidatorMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats, ok := m.metrics[validator]
	if !ok {
		return ValidatorMetrics{}, false
	}
	return *stats, true
}

// Snapshot returns copies of all validator metrics.
func (m *CostModel) Snapshot() map[string]ValidatorMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ValidatorMetrics, len(m.metrics))
	for k, v := range m.metrics {
		out[k] = *v
	}
	return out
}

// Flush blocks until all queued samples have been applied, or returns
// immediately when the model is closed. Intended for tests and shutdown.
func (m *CostModel) Flush() {
	ack := make(chan struct{})
	select {
	case m.flush <- ack:
		select {
		case <-ack:
		case <-m.done:
		}
	case <-m.done:
	}
}

// Close stops the collector goroutine after draining queued samples.
func (m *CostModel) Close() {
	close(m.done)
}
