// Package thought defines the core record types for captured reasoning
// traces.
package thought

import "time"

// Record is one captured reasoning event. Records are immutable after
// creation; the creation timestamp is the sole ordering and watermark key
// within a conversation, with insertion order breaking ties.
type Record struct {
	// ConversationKey identifies the session+scene this record belongs
	// to (e.g. "session_id/scene"). Kept verbatim even when the storage
	// partition name is sanitized.
	ConversationKey string `json:"conversation_key"`

	// TriggerID identifies who sent the message that produced this
	// reasoning.
	TriggerID string `json:"trigger_id,omitempty"`

	// Reasoning is the raw reasoning text, unbounded.
	Reasoning string `json:"reasoning"`

	// Response is the final response text.
	Response string `json:"response,omitempty"`

	// UserMessage is the originating user message text.
	UserMessage string `json:"user_message,omitempty"`

	// CreatedAt is the capture timestamp, UTC.
	CreatedAt time.Time `json:"created_at"`
}

// Watermark tracks export progress for one conversation key. LastExported
// is monotonically non-decreasing and only advances after a confirmed
// upload.
type Watermark struct {
	// URL is the public URL of the most recent export batch.
	URL string `json:"url"`

	// LastExported is the timestamp of the newest exported record.
	LastExported time.Time `json:"last_exported"`
}
