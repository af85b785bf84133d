// Package usecase holds the chat orchestration shared by the API handler
// and the terminal session.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"assistant-hub/internal/clock"
	"assistant-hub/internal/domain"
	"assistant-hub/internal/metrics"
	"assistant-hub/internal/repository"
	"assistant-hub/internal/responder"
)

const (
	defaultMaxMessage = 4000
	titlePrefix       = "Conversación con "
)

type AssistantLookup interface {
	List() []domain.Assistant
	Get(id string) (domain.Assistant, bool)
}

type ConversationStore interface {
	FindLatestConversation(ctx context.Context, userID, assistantID string) (domain.Conversation, error)
	CreateConversation(ctx context.Context, conv domain.Conversation) error
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	InsertMessage(ctx context.Context, msg domain.Message) error
}

type UsageRecorder interface {
	RecordChatTurn(ctx context.Context, userID string) (domain.UsageMetrics, bool, error)
}

type ChatService struct {
	assistants AssistantLookup
	store      ConversationStore
	responder  responder.Responder
	usage      UsageRecorder
	clock      clock.Clock
	log        *slog.Logger
	metrics    *metrics.Metrics
	maxMessage int
}

type ChatOption func(*ChatService)

func WithClock(c clock.Clock) ChatOption {
	return func(s *ChatService) { s.clock = c }
}

func WithLogger(l *slog.Logger) ChatOption {
	return func(s *ChatService) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) ChatOption {
	return func(s *ChatService) { s.metrics = m }
}

// WithUsage enables the per-reply usage increment.
func WithUsage(u UsageRecorder) ChatOption {
	return func(s *ChatService) { s.usage = u }
}

// WithMaxMessageLength caps user message length in runes.
func WithMaxMessageLength(n int) ChatOption {
	return func(s *ChatService) {
		if n > 0 {
			s.maxMessage = n
		}
	}
}

func NewChatService(a AssistantLookup, store ConversationStore, r responder.Responder, opts ...ChatOption) (*ChatService, error) {
	if a == nil {
		return nil, errors.New("usecase: assistant lookup must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if r == nil {
		return nil, errors.New("usecase: responder must not be nil")
	}
	s := &ChatService{
		assistants: a,
		store:      store,
		responder:  r,
		clock:      clock.Real(),
		log:        slog.Default(),
		maxMessage: defaultMaxMessage,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Assistant resolves an assistant id against the catalog.
func (s *ChatService) Assistant(id string) (domain.Assistant, error) {
	a, ok := s.assistants.Get(strings.TrimSpace(id))
	if !ok {
		return domain.Assistant{}, newError(ErrorNotFound, "unknown_assistant", nil)
	}
	return a, nil
}

// OpenConversation adopts the most recently updated conversation between
// the user and the assistant, creating one when none exists, and loads its
// messages in display order.
func (s *ChatService) OpenConversation(ctx context.Context, userID, assistantID string) (domain.ConversationWithMessages, error) {
	conv, _, err := s.FindOrCreateConversation(ctx, userID, assistantID)
	if err != nil {
		return domain.ConversationWithMessages{}, err
	}
	msgs, err := s.LoadMessages(ctx, conv.ID)
	if err != nil {
		return domain.ConversationWithMessages{}, err
	}
	return domain.ConversationWithMessages{Conversation: conv, Messages: msgs}, nil
}

// FindOrCreateConversation returns the latest conversation for the pair and
// whether it was created by this call.
func (s *ChatService) FindOrCreateConversation(ctx context.Context, userID, assistantID string) (domain.Conversation, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Conversation{}, false, newError(ErrorInvalidInput, "missing_user", nil)
	}
	a, err := s.Assistant(assistantID)
	if err != nil {
		return domain.Conversation{}, false, err
	}

	conv, err := s.store.FindLatestConversation(ctx, userID, a.ID)
	switch {
	case err == nil:
		return conv, false, nil
	case !errors.Is(err, repository.ErrNotFound):
		return domain.Conversation{}, false, newError(ErrorInternal, "conversation_lookup_error", err)
	}

	now := s.clock.Now().UTC()
	conv = domain.Conversation{
		ID:          newUUID(),
		UserID:      userID,
		AssistantID: a.ID,
		Title:       titlePrefix + a.Name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return domain.Conversation{}, false, newError(ErrorInternal, "conversation_create_error", err)
	}
	s.log.InfoContext(ctx, "conversation created", "conversation", conv.ID, "assistant", a.ID)
	return conv, true, nil
}

func (s *ChatService) LoadMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if conversationID == "" {
		return nil, newError(ErrorInvalidInput, "missing_conversation", nil)
	}
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, newError(ErrorInternal, "message_load_error", err)
	}
	return msgs, nil
}

// Conversations lists the user's latest conversation with each catalog
// assistant, most recently updated first. Assistants the user never talked
// to are left out.
func (s *ChatService) Conversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newError(ErrorInvalidInput, "missing_user", nil)
	}
	var out []domain.Conversation
	for _, a := range s.assistants.List() {
		conv, err := s.store.FindLatestConversation(ctx, userID, a.ID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			continue
		case err != nil:
			return nil, newError(ErrorInternal, "conversation_lookup_error", err)
		}
		out = append(out, conv)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// PostUserMessage persists a user message. Only the insert can fail the
// call; the conversation timestamp bump is best effort.
func (s *ChatService) PostUserMessage(ctx context.Context, conv domain.Conversation, text string) (domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Message{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(text) > s.maxMessage {
		return domain.Message{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	if conv.ID == "" {
		return domain.Message{}, newError(ErrorInvalidInput, "missing_conversation", nil)
	}

	now := s.clock.Now().UTC()
	msg := domain.Message{
		ID:             newUUID(),
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        text,
		CreatedAt:      now,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return domain.Message{}, newError(ErrorInternal, "message_insert_error", err)
	}
	s.metrics.RecordMessage(conv.AssistantID, string(domain.RoleUser))

	if err := s.store.TouchConversation(ctx, conv.ID, now); err != nil {
		s.log.WarnContext(ctx, "failed to touch conversation", "conversation", conv.ID, "err", err)
	}
	return msg, nil
}

// CompleteReply asks the responder for an answer to userMsg, stores it and
// bumps the user's usage counters. history is the conversation as known
// before userMsg.
func (s *ChatService) CompleteReply(ctx context.Context, conv domain.Conversation, userMsg domain.Message, history []domain.Message) (domain.Message, error) {
	a, err := s.Assistant(conv.AssistantID)
	if err != nil {
		return domain.Message{}, err
	}

	started := s.clock.Now()
	reply, err := s.responder.Reply(ctx, responder.ReplyRequest{
		Assistant: a,
		History:   history,
		Text:      userMsg.Content,
	})
	if err != nil {
		s.metrics.RecordReplyFailure(a.ID, "responder")
		s.log.ErrorContext(ctx, "reply failed", "conversation", conv.ID, "assistant", a.ID, "err", err)
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return domain.Message{}, newError(ErrorRateLimited, "responder_rate_limited", err)
		}
		return domain.Message{}, newError(ErrorUpstream, "responder_error", err)
	}

	now := s.clock.Now().UTC()
	// The reply sorts after the message it answers even on a coarse clock.
	if !now.After(userMsg.CreatedAt) {
		now = userMsg.CreatedAt.Add(time.Microsecond)
	}
	msg := domain.Message{
		ID:             newUUID(),
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        reply.Content,
		Metadata:       reply.Metadata,
		CreatedAt:      now,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		s.metrics.RecordReplyFailure(a.ID, "insert")
		s.log.ErrorContext(ctx, "failed to store reply", "conversation", conv.ID, "err", err)
		return domain.Message{}, newError(ErrorInternal, "reply_insert_error", err)
	}
	s.metrics.RecordMessage(a.ID, string(domain.RoleAssistant))
	s.metrics.RecordReply(a.ID, s.clock.Now().Sub(started))

	if s.usage != nil {
		if _, applied, err := s.usage.RecordChatTurn(ctx, conv.UserID); err != nil {
			s.log.WarnContext(ctx, "failed to update usage", "user", conv.UserID, "err", err)
		} else if !applied {
			s.log.DebugContext(ctx, "usage row absent", "user", conv.UserID)
		}
	}
	return msg, nil
}

// Exchange runs PostUserMessage and CompleteReply back to back.
func (s *ChatService) Exchange(ctx context.Context, userID, assistantID, text string) (user, reply domain.Message, err error) {
	cw, err := s.OpenConversation(ctx, userID, assistantID)
	if err != nil {
		return domain.Message{}, domain.Message{}, err
	}
	user, err = s.PostUserMessage(ctx, cw.Conversation, text)
	if err != nil {
		return domain.Message{}, domain.Message{}, err
	}
	reply, err = s.CompleteReply(ctx, cw.Conversation, user, cw.Messages)
	if err != nil {
		return user, domain.Message{}, fmt.Errorf("usecase: Exchange: %w", err)
	}
	return user, reply, nil
}

var newUUID = func() string {
	return uuid.NewString()
}
