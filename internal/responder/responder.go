// Package responder produces assistant replies. The chat flow depends only
// on the Responder interface, so the canned stand-in and a real inference
// backend are interchangeable.
package responder

import (
	"context"

	"assistant-hub/internal/domain"
)

// ReplyRequest is everything a responder may use to answer.
type ReplyRequest struct {
	Assistant domain.Assistant
	History   []domain.Message
	Text      string
}

// Reply is the content and optional metadata of an assistant message.
type Reply struct {
	Content  string
	Metadata *domain.MessageMetadata
}

// Responder answers a user message.
type Responder interface {
	Reply(ctx context.Context, req ReplyRequest) (Reply, error)
}

// Func adapts a plain function to Responder.
type Func func(ctx context.Context, req ReplyRequest) (Reply, error)

func (f Func) Reply(ctx context.Context, req ReplyRequest) (Reply, error) {
	return f(ctx, req)
}
