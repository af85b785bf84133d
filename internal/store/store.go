// Package store holds the client-side view of the chat: the active
// assistant, the active conversation with its messages, the conversation
// list and the loading/typing flags. Mutators replace whole values and
// Snapshot hands out deep copies, so readers never share slices with the
// store.
package store

import (
	"sync"
	"time"

	"assistant-hub/internal/domain"
)

// State is a point-in-time copy of the store.
type State struct {
	ActiveAssistant    *domain.Assistant
	ActiveConversation *domain.ConversationWithMessages
	Conversations      []domain.Conversation
	Loading            bool
	Typing             bool
}

// ConversationPatch lists the conversation fields UpdateConversation may change.
type ConversationPatch struct {
	Title     *string
	UpdatedAt *time.Time
}

type Store struct {
	mu    sync.RWMutex
	state State
}

func New() *Store {
	return &Store{}
}

func (s *Store) SetActiveAssistant(a *domain.Assistant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ActiveAssistant = cloneAssistant(a)
}

func (s *Store) SetActiveConversation(c *domain.ConversationWithMessages) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ActiveConversation = cloneConversation(c)
}

func (s *Store) SetConversations(list []domain.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Conversations = append([]domain.Conversation(nil), list...)
}

// PrependConversation puts c at the head of the conversation list.
func (s *Store) PrependConversation(c domain.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]domain.Conversation, 0, len(s.state.Conversations)+1)
	list = append(list, c)
	s.state.Conversations = append(list, s.state.Conversations...)
}

// UpdateConversation applies patch to the listed conversation with id and
// to the active conversation when it has the same id. It reports whether
// anything matched.
func (s *Store) UpdateConversation(id string, patch ConversationPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := false
	for i := range s.state.Conversations {
		if s.state.Conversations[i].ID == id {
			applyPatch(&s.state.Conversations[i], patch)
			matched = true
		}
	}
	if ac := s.state.ActiveConversation; ac != nil && ac.ID == id {
		applyPatch(&ac.Conversation, patch)
		matched = true
	}
	return matched
}

// RemoveConversation drops id from the list and clears it if active.
func (s *Store) RemoveConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.state.Conversations[:0:0]
	for _, c := range s.state.Conversations {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	s.state.Conversations = kept
	if ac := s.state.ActiveConversation; ac != nil && ac.ID == id {
		s.state.ActiveConversation = nil
	}
}

// AppendMessage adds msg to the active conversation. Without an active
// conversation it does nothing.
func (s *Store) AppendMessage(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ac := s.state.ActiveConversation
	if ac == nil {
		return
	}
	msgs := make([]domain.Message, len(ac.Messages), len(ac.Messages)+1)
	copy(msgs, ac.Messages)
	ac.Messages = append(msgs, msg)
}

func (s *Store) SetLoading(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Loading = v
}

func (s *Store) SetTyping(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Typing = v
}

// ClearActive forgets the active assistant and conversation together.
func (s *Store) ClearActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ActiveAssistant = nil
	s.state.ActiveConversation = nil
}

func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		ActiveAssistant:    cloneAssistant(s.state.ActiveAssistant),
		ActiveConversation: cloneConversation(s.state.ActiveConversation),
		Conversations:      append([]domain.Conversation(nil), s.state.Conversations...),
		Loading:            s.state.Loading,
		Typing:             s.state.Typing,
	}
}

func applyPatch(c *domain.Conversation, p ConversationPatch) {
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.UpdatedAt != nil {
		c.UpdatedAt = *p.UpdatedAt
	}
}

func cloneAssistant(a *domain.Assistant) *domain.Assistant {
	if a == nil {
		return nil
	}
	out := *a
	out.Specialties = append([]string(nil), a.Specialties...)
	out.ExamplePrompts = append([]string(nil), a.ExamplePrompts...)
	return &out
}

func cloneConversation(c *domain.ConversationWithMessages) *domain.ConversationWithMessages {
	if c == nil {
		return nil
	}
	out := domain.ConversationWithMessages{Conversation: c.Conversation}
	if c.Messages != nil {
		out.Messages = make([]domain.Message, len(c.Messages))
		for i, m := range c.Messages {
			out.Messages[i] = cloneMessage(m)
		}
	}
	return &out
}

func cloneMessage(m domain.Message) domain.Message {
	if m.Metadata != nil {
		md := *m.Metadata
		md.Actions = append([]string(nil), m.Metadata.Actions...)
		m.Metadata = &md
	}
	return m
}
