// Package history exports job lifecycle events to external audit stores.
// Events are append-only; nothing here is ever read back into the registry.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/siswrap/internal/process"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Record     process.Record `json:"record"`
}

// NewEvent stamps rec with a fresh id and the current time.
func NewEvent(t EventType, rec process.Record) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: time.Now().UTC(), Record: rec}
}

// TerminalEvent maps a terminal state to its event type.
func TerminalEvent(s process.State) (EventType, bool) {
	switch s {
	case process.StateDone:
		return EventDone, true
	case process.StateError:
		return EventError, true
	}
	return "", false
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Columns flattens an event into the column order shared by the SQL sinks:
// id, occurred_at, event, kind, pid, runfolder, host, state, exit_code, msg.
func Columns(e Event) []any {
	rec := e.Record
	var exit any
	if rec.ExitCode != nil {
		exit = *rec.ExitCode
	}
	return []any{
		e.ID, e.OccurredAt.UTC(), string(e.Type), string(rec.Kind), rec.PID,
		rec.Runfolder, rec.Host, string(rec.State), exit, rec.Msg,
	}
}
