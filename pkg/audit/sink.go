package audit

import (
	"context"
	"time"

	"github.com/drivelinehq/driveline/pkg/observability"
)

// Sink receives audit events. Implementations may block on I/O; the Emitter
// shields request paths from that.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, event Event) error

// Record calls f(ctx, event)
func (f SinkFunc) Record(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// NopSink discards every event
type NopSink struct{}

// Record does nothing
func (NopSink) Record(ctx context.Context, event Event) error { return nil }

// LogSink writes events to the structured logger
type LogSink struct {
	logger *observability.Logger
}

// NewLogSink creates a sink backed by the structured logger
func NewLogSink(logger *observability.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record writes the event as one structured log line
func (s *LogSink) Record(ctx context.Context, event Event) error {
	entry := s.logger.WithFields(map[string]interface{}{
		"event_type":    string(event.Type),
		"severity":      string(event.Severity),
		"actor_user_id": event.ActorUserID,
		"tenant_id":     event.TenantID,
		"token_id":      event.TokenID,
	})
	if len(event.Details) > 0 {
		entry = entry.WithField("details", event.Details)
	}
	switch event.Severity {
	case SeverityCritical:
		entry.Error(event.Message)
	case SeverityWarning:
		entry.Warn(event.Message)
	default:
		entry.Info(event.Message)
	}
	return nil
}

// MultiSink fans an event out to several sinks. Every sink sees the event
// even when an earlier one fails; the first error is returned.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Record delivers the event to every configured sink
func (m *MultiSink) Record(ctx context.Context, event Event) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Record(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Emitter is the producer-side wrapper the auth core uses. Emit never
// returns an error: sink failures are reported to the fallback logger so a
// broken audit pipeline cannot fail or block an auth operation.
type Emitter struct {
	sink     Sink
	fallback *observability.Logger
	now      func() time.Time
}

// NewEmitter creates an emitter over the given sink. A nil sink is treated
// as a no-op sink.
func NewEmitter(sink Sink, fallback *observability.Logger) *Emitter {
	if sink == nil {
		sink = NopSink{}
	}
	if fallback == nil {
		fallback = observability.NewNopLogger()
	}
	return &Emitter{sink: sink, fallback: fallback, now: time.Now}
}

// WithClock overrides the emitter's time source, for tests.
func (e *Emitter) WithClock(now func() time.Time) *Emitter {
	e.now = now
	return e
}

// Emit stamps and delivers an event, swallowing sink failures.
func (e *Emitter) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	defer func() {
		if r := recover(); r != nil {
			e.fallback.WithField("panic", r).Error("audit sink panicked")
		}
	}()
	if err := e.sink.Record(ctx, event); err != nil {
		e.fallback.WithError(err).
			WithField("event_type", string(event.Type)).
			Error("audit sink delivery failed")
	}
}
