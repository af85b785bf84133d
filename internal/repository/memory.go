package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"assistant-hub/internal/domain"
	"assistant-hub/internal/feed"
)

// Memory is an in-process Store for local runs and tests. Inserted
// messages are announced on the optional publisher, standing in for the
// table's change stream.
type Memory struct {
	mu            sync.Mutex
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message
	usage         map[string]domain.UsageMetrics
	activities    map[string][]domain.Activity
	publisher     feed.Publisher
	log           *slog.Logger
}

type MemoryOption func(*Memory)

func WithMemoryLogger(l *slog.Logger) MemoryOption {
	return func(m *Memory) {
		if l != nil {
			m.log = l
		}
	}
}

// NewMemory creates an empty Memory store. publisher may be nil.
func NewMemory(publisher feed.Publisher, opts ...MemoryOption) *Memory {
	m := &Memory{
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
		usage:         make(map[string]domain.UsageMetrics),
		activities:    make(map[string][]domain.Activity),
		publisher:     publisher,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) FindLatestConversation(_ context.Context, userID, assistantID string) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  domain.Conversation
		found bool
	)
	for _, c := range m.conversations {
		if c.UserID != userID || c.AssistantID != assistantID {
			continue
		}
		if !found || c.UpdatedAt.After(best.UpdatedAt) {
			best, found = c, true
		}
	}
	if !found {
		return domain.Conversation{}, ErrNotFound
	}
	return best, nil
}

func (m *Memory) CreateConversation(_ context.Context, conv domain.Conversation) error {
	if conv.ID == "" || conv.UserID == "" || conv.AssistantID == "" {
		return errors.New("repository: CreateConversation: id, user id and assistant id are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.conversations[conv.ID]; exists {
		return fmt.Errorf("repository: CreateConversation: conversation %q already exists", conv.ID)
	}
	m.conversations[conv.ID] = conv
	return nil
}

func (m *Memory) TouchConversation(_ context.Context, conversationID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.UpdatedAt = at.UTC()
	m.conversations[conversationID] = c
	return nil
}

func (m *Memory) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Message, len(m.messages[conversationID]))
	copy(out, m.messages[conversationID])
	domain.SortMessages(out)
	return out, nil
}

func (m *Memory) InsertMessage(ctx context.Context, msg domain.Message) error {
	if msg.ID == "" || msg.ConversationID == "" {
		return errors.New("repository: InsertMessage: id and conversation id are required")
	}
	m.mu.Lock()
	for _, existing := range m.messages[msg.ConversationID] {
		if existing.ID == msg.ID {
			m.mu.Unlock()
			return fmt.Errorf("repository: InsertMessage: message %q already exists", msg.ID)
		}
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	pub := m.publisher
	m.mu.Unlock()

	// The row is stored; a feed outage only delays live delivery.
	if pub != nil {
		if err := pub.Publish(ctx, msg); err != nil {
			m.log.WarnContext(ctx, "failed to publish inserted message", "conversation", msg.ConversationID, "message", msg.ID, "err", err)
		}
	}
	return nil
}

func (m *Memory) GetUsage(_ context.Context, userID string) (domain.UsageMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.usage[userID]
	if !ok {
		return domain.UsageMetrics{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) AddUsage(_ context.Context, userID string, delta domain.UsageDelta, upsert bool) (domain.UsageMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.usage[userID]
	if !ok {
		if !upsert {
			return domain.UsageMetrics{}, ErrNotFound
		}
		u = domain.UsageMetrics{UserID: userID}
	}
	u.Conversations += delta.Conversations
	u.TasksCompleted += delta.TasksCompleted
	u.FilesGenerated += delta.FilesGenerated
	u.Automations += delta.Automations
	u.TimeSavedHours += delta.TimeSavedHours
	u.UpdatedAt = time.Now().UTC()
	m.usage[userID] = u
	return u, nil
}

func (m *Memory) ResetUsage(_ context.Context, userID string) (domain.UsageMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := domain.UsageMetrics{UserID: userID, UpdatedAt: time.Now().UTC()}
	m.usage[userID] = u
	return u, nil
}

func (m *Memory) InsertActivity(_ context.Context, a domain.Activity) error {
	if a.ID == "" || a.UserID == "" {
		return errors.New("repository: InsertActivity: id and user id are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities[a.UserID] = append(m.activities[a.UserID], a)
	return nil
}

func (m *Memory) ListActivities(_ context.Context, userID string, limit int) ([]domain.Activity, error) {
	m.mu.Lock()
	out := make([]domain.Activity, len(m.activities[userID]))
	copy(out, m.activities[userID])
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
