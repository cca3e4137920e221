package notifications

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names a state change published to subscribers.
type Kind string

const (
	KindGroupCreated       Kind = "group_created"
	KindGroupUpdated       Kind = "group_updated"
	KindDocumentsUploaded  Kind = "documents_uploaded"
	KindMergeGenerated     Kind = "merge_generated"
	KindCirculationStarted Kind = "circulation_started"
	KindRevisionRequested  Kind = "revision_requested"
	KindRevisionResolved   Kind = "revision_resolved"
	KindTaskCompleted      Kind = "task_completed"
)

// Event is a state change for one document group.
type Event struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"event"`
	GroupID    string         `json:"groupId"`
	Status     int            `json:"status,omitempty"`
	StatusText string         `json:"statusText,omitempty"`
	ActorID    int64          `json:"actorId,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	At         time.Time      `json:"at"`
}

// NewEvent stamps a fresh event id and timestamp.
func NewEvent(kind Kind, groupID string) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		GroupID: groupID,
		At:      time.Now().UTC(),
	}
}

// With returns a copy of e carrying an extra field.
func (e Event) With(key string, value any) Event {
	fields := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	e.Fields = fields
	return e
}

// Field returns a string rendering of a field, or "" when absent.
func (e Event) Field(key string) string {
	v, ok := e.Fields[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
