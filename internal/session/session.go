// Package session drives one user's chat with the selected assistant:
// bootstrap of the conversation, live updates from the feed, and the
// send/reply cycle.
//
// Messages arrive from the history load, the session's own writes and the
// feed, so the same message can show up more than once. Every message is
// merged by id against a seen set scoped to the current conversation and
// inserted in display order, so the visible list never holds duplicates
// and stays sorted regardless of arrival order.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"assistant-hub/internal/domain"
	"assistant-hub/internal/feed"
	"assistant-hub/internal/metrics"
	"assistant-hub/internal/store"
)

type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	ErrSendInProgress = errors.New("session: a message is already being sent")
	ErrNotReady       = errors.New("session: conversation is not ready")
	ErrClosed         = errors.New("session: closed")
)

// Chat is the orchestration the session delegates persistence and
// replies to.
type Chat interface {
	Assistant(id string) (domain.Assistant, error)
	FindOrCreateConversation(ctx context.Context, userID, assistantID string) (domain.Conversation, bool, error)
	LoadMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	Conversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	PostUserMessage(ctx context.Context, conv domain.Conversation, text string) (domain.Message, error)
	CompleteReply(ctx context.Context, conv domain.Conversation, userMsg domain.Message, history []domain.Message) (domain.Message, error)
}

type Session struct {
	chat      Chat
	feed      feed.Subscriber
	store     *store.Store
	log       *slog.Logger
	metrics   *metrics.Metrics
	onMessage func(domain.Message)

	// ctx bounds feed subscriptions and pending replies; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	gen         uint64
	state       State
	err         error
	sending     bool
	userID      string
	assistantID string
	conv        domain.Conversation
	messages    []domain.Message
	seen        map[string]struct{}
	unsubscribe func()
}

type Option func(*Session)

// WithStore mirrors session state into a client store.
func WithStore(st *store.Store) Option {
	return func(s *Session) { s.store = st }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// OnMessage registers a callback for every message added after bootstrap.
// It runs on the goroutine that merged the message and must not block.
func OnMessage(f func(domain.Message)) Option {
	return func(s *Session) { s.onMessage = f }
}

func New(chat Chat, sub feed.Subscriber, opts ...Option) (*Session, error) {
	if chat == nil {
		return nil, errors.New("session: chat must not be nil")
	}
	if sub == nil {
		return nil, errors.New("session: feed subscriber must not be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		chat:   chat,
		feed:   sub,
		log:    slog.Default(),
		ctx:    ctx,
		cancel: cancel,
		seen:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics.SessionOpened()
	return s, nil
}

// Select switches the session to the conversation between userID and
// assistantID. Selecting the pair that is already ready is a no-op. A
// failed bootstrap leaves the session in StateFailed with the error
// available through Err; Retry runs it again.
func (s *Session) Select(ctx context.Context, userID, assistantID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.userID == userID && s.assistantID == assistantID && (s.state == StateReady || s.state == StateLoading) {
		s.mu.Unlock()
		return nil
	}
	s.userID, s.assistantID = userID, assistantID
	gen := s.resetLocked()
	s.mu.Unlock()

	if s.store != nil {
		s.store.ClearActive()
		if a, err := s.chat.Assistant(assistantID); err == nil {
			s.store.SetActiveAssistant(&a)
		}
	}
	return s.bootstrap(ctx, gen)
}

// Retry re-runs a failed bootstrap. It does nothing in any other state.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateFailed {
		s.mu.Unlock()
		return nil
	}
	gen := s.resetLocked()
	s.mu.Unlock()
	return s.bootstrap(ctx, gen)
}

// resetLocked drops the current conversation and subscription and starts
// a new generation in StateLoading. Events tagged with an older
// generation are discarded.
func (s *Session) resetLocked() uint64 {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.gen++
	s.state = StateLoading
	s.err = nil
	s.conv = domain.Conversation{}
	s.messages = nil
	s.seen = make(map[string]struct{})
	if s.store != nil {
		s.store.SetLoading(true)
	}
	return s.gen
}

// bootstrap subscribes to the feed before loading history, so an insert
// racing the load is either in the loaded page or buffered on the channel.
// The seen set drops whatever shows up in both.
func (s *Session) bootstrap(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	userID, assistantID := s.userID, s.assistantID
	s.mu.Unlock()

	conv, created, err := s.chat.FindOrCreateConversation(ctx, userID, assistantID)
	if err != nil {
		return s.fail(gen, err)
	}
	ch, unsubscribe, err := s.feed.Subscribe(s.ctx, conv.ID)
	if err != nil {
		return s.fail(gen, err)
	}
	msgs, err := s.chat.LoadMessages(ctx, conv.ID)
	if err != nil {
		unsubscribe()
		return s.fail(gen, err)
	}

	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		unsubscribe()
		return nil
	}
	s.conv = conv
	for _, m := range msgs {
		s.insertLocked(m)
	}
	s.state = StateReady
	s.unsubscribe = unsubscribe
	if s.store != nil {
		s.listConversation(conv, created)
		s.store.SetLoading(false)
	}
	s.mirrorLocked()
	s.wg.Add(1)
	s.mu.Unlock()

	go s.consume(gen, ch)
	s.log.Debug("session ready", "conversation", conv.ID, "assistant", assistantID, "created", created, "messages", len(msgs))
	return nil
}

// listConversation keeps one entry per assistant in the store's list: an
// older conversation with the same assistant is replaced by conv.
func (s *Session) listConversation(conv domain.Conversation, created bool) {
	for _, c := range s.store.Snapshot().Conversations {
		if c.AssistantID == conv.AssistantID && c.UserID == conv.UserID && c.ID != conv.ID {
			s.store.RemoveConversation(c.ID)
		}
	}
	if created || !s.store.UpdateConversation(conv.ID, store.ConversationPatch{Title: &conv.Title, UpdatedAt: &conv.UpdatedAt}) {
		s.store.PrependConversation(conv)
	}
}

// RefreshConversations reloads the user's conversation list into the store
// and returns it.
func (s *Session) RefreshConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	list, err := s.chat.Conversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.store != nil {
		s.store.SetConversations(list)
	}
	return list, nil
}

func (s *Session) fail(gen uint64, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return err
	}
	s.state = StateFailed
	s.err = err
	if s.store != nil {
		s.store.SetLoading(false)
	}
	s.log.Error("conversation bootstrap failed", "user", s.userID, "assistant", s.assistantID, "err", err)
	return err
}

func (s *Session) consume(gen uint64, ch <-chan domain.Message) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if s.merge(gen, msg) {
				s.metrics.RecordFeedEvent("merged")
			} else {
				s.metrics.RecordFeedEvent("duplicate")
			}
		}
	}
}

// merge adds msg to the current conversation unless it is stale or
// already seen, and reports whether it was added.
func (s *Session) merge(gen uint64, msg domain.Message) bool {
	s.mu.Lock()
	if gen != s.gen || msg.ConversationID != s.conv.ID || !s.insertLocked(msg) {
		s.mu.Unlock()
		return false
	}
	switch {
	case s.store == nil:
	case s.messages[len(s.messages)-1].ID == msg.ID:
		s.store.AppendMessage(msg)
	default:
		s.mirrorLocked()
	}
	cb := s.onMessage
	s.mu.Unlock()

	if cb != nil {
		cb(msg)
	}
	return true
}

func (s *Session) insertLocked(msg domain.Message) bool {
	if _, dup := s.seen[msg.ID]; dup {
		return false
	}
	s.seen[msg.ID] = struct{}{}
	i := sort.Search(len(s.messages), func(i int) bool { return msg.Before(s.messages[i]) })
	s.messages = append(s.messages, domain.Message{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = msg
	return true
}

func (s *Session) mirrorLocked() {
	if s.store == nil {
		return
	}
	s.store.SetActiveConversation(&domain.ConversationWithMessages{
		Conversation: s.conv,
		Messages:     s.messages,
	})
}

// Send posts text as a user message and schedules the assistant reply in
// the background. The returned message is already part of Messages. A
// second Send while a reply is pending fails with ErrSendInProgress.
func (s *Session) Send(ctx context.Context, text string) (domain.Message, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return domain.Message{}, ErrClosed
	case s.state != StateReady:
		s.mu.Unlock()
		return domain.Message{}, ErrNotReady
	case s.sending:
		s.mu.Unlock()
		return domain.Message{}, ErrSendInProgress
	}
	s.sending = true
	gen, conv := s.gen, s.conv
	history := append([]domain.Message(nil), s.messages...)
	s.mu.Unlock()

	userMsg, err := s.chat.PostUserMessage(ctx, conv, text)
	if err != nil {
		s.finishSend()
		return domain.Message{}, err
	}
	s.merge(gen, userMsg)
	s.touch(gen, userMsg.CreatedAt)

	if s.store != nil {
		s.store.SetTyping(true)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.finishSend()
		reply, err := s.chat.CompleteReply(s.ctx, conv, userMsg, history)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.log.Error("assistant reply failed", "conversation", conv.ID, "err", err)
			}
			return
		}
		s.merge(gen, reply)
	}()
	return userMsg, nil
}

// touch records that the conversation was updated at, matching the
// repository's touch on every user message.
func (s *Session) touch(gen uint64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.conv.UpdatedAt = at
	if s.store != nil {
		s.store.UpdateConversation(s.conv.ID, store.ConversationPatch{UpdatedAt: &at})
	}
}

func (s *Session) finishSend() {
	s.mu.Lock()
	s.sending = false
	s.mu.Unlock()
	if s.store != nil {
		s.store.SetTyping(false)
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the bootstrap error behind StateFailed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// Conversation returns the adopted conversation, if any.
func (s *Session) Conversation() (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv, s.state == StateReady
}

// Messages returns a copy of the conversation in display order.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

// Close cancels the subscription and any pending reply and waits for
// them to finish. Further calls fail with ErrClosed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.metrics.SessionClosed()
}
