package eventstream

import "context"

// Publisher publishes thought events to an event stream backend.
type Publisher interface {
	PublishThought(ctx context.Context, event *ThoughtPersistedEvent) error
	Close() error
}
