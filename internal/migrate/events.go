package migrate

import (
	"encoding/json"
	"log/slog"
	"time"
)

// EventType identifies a migration milestone.
type EventType string

const (
	EventStarted        EventType = "migration.started"
	EventTableExported  EventType = "migration.table_exported"
	EventTableSkipped   EventType = "migration.table_skipped"
	EventBlobDiscovered EventType = "migration.blob_discovered"
	EventBlobCopyFailed EventType = "migration.blob_copy_failed"
	EventArchiveWritten EventType = "migration.archive_written"
	EventTableRestored  EventType = "migration.table_restored"
	EventRowsAdopted    EventType = "migration.rows_adopted"
	EventBlobsRestored  EventType = "migration.blobs_restored"
	EventReconciled     EventType = "migration.reconciled"
	EventCompleted      EventType = "migration.completed"
	EventFailed         EventType = "migration.failed"
)

// Event is a structured migration event.
type Event struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Event      EventType      `json:"event"`
	Phase      string         `json:"phase,omitempty"`
	Region     string         `json:"region,omitempty"`
	Alias      string         `json:"alias,omitempty"`
	TenantID   int64          `json:"tenant_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Table      string         `json:"table,omitempty"`
	Rows       int64          `json:"rows,omitempty"`
	Bytes      int64          `json:"bytes,omitempty"`
	Path       string         `json:"path,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// eventLogger writes migration events to a slog logger.
type eventLogger struct {
	slog *slog.Logger
}

func newEventLogger(logger *slog.Logger) *eventLogger {
	return &eventLogger{slog: logger}
}

// Log emits event at its level.
func (l *eventLogger) Log(event Event) {
	event.Timestamp = time.Now()
	if event.Level == "" {
		event.Level = "info"
	}

	data, _ := json.Marshal(event)

	switch event.Level {
	case "error":
		l.slog.Error(string(event.Event), "event", string(data))
	case "warn":
		l.slog.Warn(string(event.Event), "event", string(data))
	case "debug":
		l.slog.Debug(string(event.Event), "event", string(data))
	default:
		l.slog.Info(string(event.Event), "event", string(data))
	}
}

func (l *eventLogger) tableSkipped(table, reason string) {
	l.Log(Event{Level: "debug", Event: EventTableSkipped, Table: table, Details: map[string]any{"reason": reason}})
}

func (l *eventLogger) blobCopyFailed(path string, attempts int, err error) {
	l.Log(Event{
		Level:   "warn",
		Event:   EventBlobCopyFailed,
		Path:    path,
		Error:   err.Error(),
		Details: map[string]any{"attempts": attempts},
	})
}

func (l *eventLogger) failed(phase string, err error) {
	l.Log(Event{
		Level:   "error",
		Event:   EventFailed,
		Phase:   phase,
		Error:   err.Error(),
		Details: map[string]any{"kind": KindOf(err).String()},
	})
}
