// Package repository persists conversations, messages and dashboard usage
// in a single DynamoDB table, with an in-memory twin for local runs.
package repository

import (
	"context"
	"errors"
	"time"

	"assistant-hub/internal/domain"
)

// ErrNotFound is the distinguished "no rows" condition. Callers treat it
// as a trigger to create a default resource rather than as a failure.
var ErrNotFound = errors.New("repository: not found")

// Store is the persistence contract shared by Client and Memory.
type Store interface {
	FindLatestConversation(ctx context.Context, userID, assistantID string) (domain.Conversation, error)
	CreateConversation(ctx context.Context, conv domain.Conversation) error
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	InsertMessage(ctx context.Context, msg domain.Message) error

	GetUsage(ctx context.Context, userID string) (domain.UsageMetrics, error)
	AddUsage(ctx context.Context, userID string, delta domain.UsageDelta, upsert bool) (domain.UsageMetrics, error)
	ResetUsage(ctx context.Context, userID string) (domain.UsageMetrics, error)
	InsertActivity(ctx context.Context, a domain.Activity) error
	ListActivities(ctx context.Context, userID string, limit int) ([]domain.Activity, error)
}

var (
	_ Store = (*Client)(nil)
	_ Store = (*Memory)(nil)
)
