package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/reveriehq/reverie/pkg/thought"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeThoughtPersisted is emitted after a reasoning record is
	// durably appended to the record store.
	EventTypeThoughtPersisted = "reverie.thought.persisted"
)

// ThoughtPersistedEvent is a transport-neutral event payload for a durably
// persisted reasoning record.
type ThoughtPersistedEvent struct {
	SchemaVersion int            `json:"schema_version"`
	EventType     string         `json:"event_type"`
	EventID       string         `json:"event_id"`
	EmittedAt     time.Time      `json:"emitted_at"`
	Record        thought.Record `json:"record"`
}

// NewThoughtPersistedEvent builds a v1 persisted event for one record.
func NewThoughtPersistedEvent(rec *thought.Record) *ThoughtPersistedEvent {
	if rec == nil {
		return nil
	}

	return &ThoughtPersistedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeThoughtPersisted,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Record:        *rec,
	}
}
