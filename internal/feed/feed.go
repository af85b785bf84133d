// Package feed carries the live change feed of inserted messages.
//
// Delivery is best effort. Neither transport queues for absent
// subscribers: Redis pub/sub and the in-process hub both drop a message
// published while nobody listens, and the hub also drops it for a
// subscriber whose buffer is full. A message can still reach a consumer
// twice, once in a history load and once live, so consumers subscribe
// before loading and deduplicate by message id.
package feed

import (
	"context"

	"assistant-hub/internal/domain"
)

// Publisher announces a newly inserted message.
type Publisher interface {
	Publish(ctx context.Context, msg domain.Message) error
}

// Subscriber opens a subscription to inserts for one conversation. The
// returned cancel func is idempotent and closes the channel.
type Subscriber interface {
	Subscribe(ctx context.Context, conversationID string) (<-chan domain.Message, func(), error)
}

// Topic returns the topic name used for a conversation's inserts.
func Topic(conversationID string) string {
	return "conversation:" + conversationID + ":messages"
}
