// recorder.go implements Recorder, the single entry point for appending audit
// events. Every record lands in the database first; shipping to external sinks
// is best-effort and never blocks or fails the recorded operation.
package audit

import (
	"context"
	"log/slog"

	"github.com/readmystudent/readmystudent/internal/db/models"
	"github.com/readmystudent/readmystudent/internal/safego"
)

// EventStore is the persistence surface the recorder writes through
type EventStore interface {
	CreateAuditEvent(ctx context.Context, event *models.AuditEvent) error
}

// Recorder appends audit events to the store and mirrors them to shippers
type Recorder struct {
	store   EventStore
	shipper Shipper
	enabled bool
}

// NewRecorder creates a new Recorder. A nil shipper disables external
// shipping; disabled recorders drop events silently.
func NewRecorder(store EventStore, shipper Shipper, enabled bool) *Recorder {
	return &Recorder{store: store, shipper: shipper, enabled: enabled}
}

// Record appends one event. A store failure is logged but not returned: audit
// writes must never turn a completed operation into a user-visible error.
func (r *Recorder) Record(ctx context.Context, event *models.AuditEvent) {
	if r == nil || !r.enabled {
		return
	}

	if err := r.store.CreateAuditEvent(ctx, event); err != nil {
		slog.Error("failed to persist audit event",
			"action", event.Action,
			"subject_type", event.SubjectType,
			"error", err)
	}

	if r.shipper != nil {
		entry := toEntry(event)
		safego.GoNamed("audit-ship", func() {
			// Detached from the request context so shipping survives the
			// response being written.
			if err := r.shipper.Ship(context.Background(), entry); err != nil {
				slog.Warn("failed to ship audit event", "action", entry.Action, "error", err)
			}
		})
	}
}

func toEntry(event *models.AuditEvent) *Entry {
	entry := &Entry{
		Timestamp:   event.OccurredAt,
		Action:      event.Action,
		SubjectType: event.SubjectType,
		Outcome:     event.Outcome,
		Metadata:    event.Metadata,
	}
	if event.ActorID != nil {
		entry.ActorID = *event.ActorID
	}
	if event.ActorRole != nil {
		entry.ActorRole = *event.ActorRole
	}
	if event.SubjectID != nil {
		entry.SubjectID = *event.SubjectID
	}
	if event.SourceIP != nil {
		entry.SourceIP = *event.SourceIP
	}
	if event.RequestID != nil {
		entry.RequestID = *event.RequestID
	}
	return entry
}
