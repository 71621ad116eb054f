package nop

import (
	"context"

	"github.com/reveriehq/reverie/pkg/eventstream"
)

// Publisher is a no-op eventstream publisher used for tests and disabled mode.
type Publisher struct{}

// NewPublisher creates a new no-op eventstream publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// PublishThought validates input and otherwise does nothing.
func (p *Publisher) PublishThought(_ context.Context, event *eventstream.ThoughtPersistedEvent) error {
	if event == nil {
		return eventstream.ErrNilThoughtEvent
	}

	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
