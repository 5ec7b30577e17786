// internal/telemetry/events.go

// Package telemetry exports the pipeline's execution record to external
// observability collaborators: Prometheus metrics and a pluggable event
// stream. Nothing here is stored durably; destinations own persistence.
package telemetry

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/gatekeep/internal/pipeline"
)

// Event is one emitted validator-execution record.
type Event struct {
	ID        string        `json:"id"`
	Validator string        `json:"validator"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	CacheHit  bool          `json:"cache_hit"`
	Timestamp time.Time     `json:"timestamp"`
}

// Emitter receives execution events. Implementations must be cheap and
// non-blocking; they run on the pipeline's reporting path.
type Emitter interface {
	Emit(Event)
}

// ZapEmitter writes events to a structured log.
type ZapEmitter struct {
	logger *zap.Logger
}

// NewZapEmitter creates an emitter logging at debug level.
func NewZapEmitter(logger *zap.Logger) *ZapEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapEmitter{logger: logger}
}

// Emit logs the event.
func (e *ZapEmitter) Emit(ev Event) {
	e.logger.Debug("validator executed",
		zap.String("event_id", ev.ID),
		zap.String("validator", ev.Validator),
		zap.Duration("latency", ev.Latency),
		zap.Bool("success", ev.Success),
		zap.Bool("cache_hit", ev.CacheHit),
		zap.Time("timestamp", ev.Timestamp))
}

// MultiEmitter fans events out to several emitters.
type MultiEmitter []Emitter

// Emit forwards the event to every emitter.
func (m MultiEmitter) Emit(ev Event) {
	for _, e := range m {
		e.Emit(ev)
	}
}

// Observer adapts an emitter into a pipeline sample observer, assigning
// each event a unique ID.
func Observer(emitter Emitter) func(pipeline.Sample) {
	return func(s pipeline.Sample) {
		emitter.Emit(Event{
			ID:        uuid.NewString(),
			Validator: s.Validator,
			Latency:   s.Latency,
			Success:   s.Success,
			CacheHit:  s.CacheHit,
			Timestamp: s.Timestamp,
		})
	}
}
