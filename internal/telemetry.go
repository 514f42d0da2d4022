package internal

import (
	"context"
	"sync"
)

// TelemetryEmitter receives named measurements. Service wiring registers an
// OpenTelemetry-backed emitter; the default discards everything.
type TelemetryEmitter func(ctx context.Context, name string, labels map[string]string, value any)

// Metric names reported by the domain context and the domain service.
const (
	MetricOperationCompleted = "ria_operation_completed_total"
	MetricOperationLatency   = "ria_operation_latency_ms"
	MetricSubmitEntries      = "ria_submit_entries"
)

var (
	teleMu   sync.Mutex
	teleImpl TelemetryEmitter = func(context.Context, string, map[string]string, any) {}
)

// RegisterTelemetryEmitter replaces the active emitter. A nil fn restores the
// no-op emitter.
func RegisterTelemetryEmitter(fn TelemetryEmitter) {
	teleMu.Lock()
	defer teleMu.Unlock()
	if fn == nil {
		teleImpl = func(context.Context, string, map[string]string, any) {}
		return
	}
	teleImpl = fn
}

func emit(ctx context.Context, name string, labels map[string]string, value any) {
	teleMu.Lock()
	fn := teleImpl
	teleMu.Unlock()
	fn(ctx, name, labels, value)
}

// EmitOperationCompleted counts a finished operation.
// kind: "load"|"submit"|"invoke"; outcome: "success"|"error"|"canceled"
func EmitOperationCompleted(ctx context.Context, kind, outcome string) {
	emit(ctx, MetricOperationCompleted, map[string]string{"kind": kind, "outcome": outcome}, int64(1))
}

// EmitOperationLatency records an operation's duration in milliseconds.
func EmitOperationLatency(ctx context.Context, kind string, ms int64) {
	emit(ctx, MetricOperationLatency, map[string]string{"kind": kind}, ms)
}

// EmitSubmitEntries records how many entries a processed change set carried.
func EmitSubmitEntries(ctx context.Context, outcome string, entries int64) {
	emit(ctx, MetricSubmitEntries, map[string]string{"outcome": outcome}, entries)
}

func operationOutcome(err error, canceled bool) string {
	switch {
	case canceled:
		return "canceled"
	case err != nil:
		return "error"
	default:
		return "success"
	}
}
