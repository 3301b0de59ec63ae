// Package producer defines the interface for emitting telemetry events to a broker (Kafka).
package producer

import (
	"context"

	"financial-advisor/client/internal/telemetry/domain"
)

// Producer emits telemetry events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single telemetry event. Implementations may block briefly; call through telemetry.EmitAsync.
	Emit(ctx context.Context, event *domain.Event) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
