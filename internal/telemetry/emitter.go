package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"financial-advisor/client/internal/telemetry/domain"
)

// EventEmitter emits telemetry events (e.g. to OTel Logs or Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}

// NewEvent returns an event of the given type with a fresh id and timestamp.
func NewEvent(eventType, source string) *domain.Event {
	return &domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
}

// Multi fans one event out to several emitters. Nil entries are skipped.
// Every emitter is tried; the returned error joins the individual failures.
type Multi []EventEmitter

// Emit implements EventEmitter.
func (m Multi) Emit(ctx context.Context, event *domain.Event) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
