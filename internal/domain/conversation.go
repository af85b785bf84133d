package domain

import (
	"sort"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation is the persisted thread pairing one user with one assistant.
type Conversation struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	AssistantID string    `json:"assistantId"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// MessageMetadata carries the optional typed extras attached to assistant replies.
type MessageMetadata struct {
	Kind       string   `json:"kind,omitempty"`
	TaskStatus string   `json:"taskStatus,omitempty"`
	FileURL    string   `json:"fileUrl,omitempty"`
	LinkURL    string   `json:"linkUrl,omitempty"`
	Actions    []string `json:"actions,omitempty"`
}

// Message is a single append-only entry of a conversation.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversationId"`
	Role           Role             `json:"role"`
	Content        string           `json:"content"`
	Metadata       *MessageMetadata `json:"metadata,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// ConversationWithMessages is a conversation plus its ordered message list.
type ConversationWithMessages struct {
	Conversation
	Messages []Message `json:"messages"`
}

// Before reports whether m sorts ahead of other in display order.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// SortMessages orders msgs by creation time ascending, ties broken by id.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
}
