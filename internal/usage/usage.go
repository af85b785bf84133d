// Package usage is the dashboard metrics service: aggregate counters per
// user, a recent-activity feed, and push subscriptions for both.
//
// A Service is constructed explicitly and shared by whoever needs it; it
// is torn down with Close.
package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/google/uuid"

	"assistant-hub/internal/clock"
	"assistant-hub/internal/domain"
	"assistant-hub/internal/feed"
	"assistant-hub/internal/metrics"
	"assistant-hub/internal/repository"
)

const (
	minHoursSaved = 1
	maxHoursSaved = 3
)

// Store is the persistence the service needs.
type Store interface {
	GetUsage(ctx context.Context, userID string) (domain.UsageMetrics, error)
	AddUsage(ctx context.Context, userID string, delta domain.UsageDelta, upsert bool) (domain.UsageMetrics, error)
	ResetUsage(ctx context.Context, userID string) (domain.UsageMetrics, error)
	InsertActivity(ctx context.Context, a domain.Activity) error
	ListActivities(ctx context.Context, userID string, limit int) ([]domain.Activity, error)
}

// Service tracks dashboard usage.
type Service struct {
	store   Store
	clock   clock.Clock
	log     *slog.Logger
	metrics *metrics.Metrics

	hoursSaved func() int
	newID      func() string

	usageHub    *feed.Hub[domain.UsageMetrics]
	activityHub *feed.Hub[domain.Activity]
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithHoursSaved overrides the time-saved increment source.
func WithHoursSaved(f func() int) Option {
	return func(s *Service) { s.hoursSaved = f }
}

// New creates a Service backed by store.
func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("usage: store must not be nil")
	}
	s := &Service{
		store:       store,
		clock:       clock.Real(),
		log:         slog.Default(),
		hoursSaved:  func() int { return minHoursSaved + rand.Intn(maxHoursSaved-minHoursSaved+1) },
		newID:       uuid.NewString,
		usageHub:    feed.NewHub[domain.UsageMetrics](16),
		activityHub: feed.NewHub[domain.Activity](16),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close ends all subscriptions.
func (s *Service) Close() {
	s.usageHub.Close()
	s.activityHub.Close()
}

// Current returns the user's counters. A user without a row has zeroes.
func (s *Service) Current(ctx context.Context, userID string) (domain.UsageMetrics, error) {
	if err := requireUser(userID); err != nil {
		return domain.UsageMetrics{}, err
	}
	m, err := s.store.GetUsage(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.UsageMetrics{UserID: userID}, nil
	}
	if err != nil {
		return domain.UsageMetrics{}, fmt.Errorf("usage: Current: %w", err)
	}
	return m, nil
}

// Subscribe pushes the user's counters after every change.
func (s *Service) Subscribe(userID string) (<-chan domain.UsageMetrics, func()) {
	return s.usageHub.Subscribe(userID)
}

// SubscribeActivities pushes every new activity of the user.
func (s *Service) SubscribeActivities(userID string) (<-chan domain.Activity, func()) {
	return s.activityHub.Subscribe(userID)
}

// RecentActivities lists up to n activities, newest first.
func (s *Service) RecentActivities(ctx context.Context, userID string, n int) ([]domain.Activity, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	acts, err := s.store.ListActivities(ctx, userID, n)
	if err != nil {
		return nil, fmt.Errorf("usage: RecentActivities: %w", err)
	}
	return acts, nil
}

// TaskCompleted records a finished task for the dashboard.
func (s *Service) TaskCompleted(ctx context.Context, userID, assistantID, description string) (domain.UsageMetrics, error) {
	return s.report(ctx, userID, assistantID, description, domain.ActivityTaskCompleted,
		domain.UsageDelta{TasksCompleted: 1, TimeSavedHours: s.hoursSaved()})
}

// FileGenerated records a generated deliverable.
func (s *Service) FileGenerated(ctx context.Context, userID, assistantID, fileName string) (domain.UsageMetrics, error) {
	return s.report(ctx, userID, assistantID, fileName, domain.ActivityFileGenerated,
		domain.UsageDelta{FilesGenerated: 1})
}

// AutomationSetUp records a newly configured automation.
func (s *Service) AutomationSetUp(ctx context.Context, userID, assistantID, name string) (domain.UsageMetrics, error) {
	return s.report(ctx, userID, assistantID, name, domain.ActivityAutomationSetup,
		domain.UsageDelta{Automations: 1})
}

// RecordChatTurn bumps the counters after an assistant reply. A user
// without a metrics row is left alone; applied reports whether anything
// was written.
func (s *Service) RecordChatTurn(ctx context.Context, userID string) (m domain.UsageMetrics, applied bool, err error) {
	if err := requireUser(userID); err != nil {
		return domain.UsageMetrics{}, false, err
	}
	delta := domain.UsageDelta{Conversations: 1, TasksCompleted: 1, TimeSavedHours: s.hoursSaved()}
	m, err = s.store.AddUsage(ctx, userID, delta, false)
	if errors.Is(err, repository.ErrNotFound) {
		s.log.Debug("no usage row, skipping chat turn increment", "user", userID)
		return domain.UsageMetrics{UserID: userID}, false, nil
	}
	if err != nil {
		return domain.UsageMetrics{}, false, fmt.Errorf("usage: RecordChatTurn: %w", err)
	}
	s.metrics.RecordUsageEvent("chat_turn")
	s.usageHub.Publish(userID, m)
	return m, true, nil
}

// Reset zeroes the user's counters.
func (s *Service) Reset(ctx context.Context, userID string) (domain.UsageMetrics, error) {
	if err := requireUser(userID); err != nil {
		return domain.UsageMetrics{}, err
	}
	m, err := s.store.ResetUsage(ctx, userID)
	if err != nil {
		return domain.UsageMetrics{}, fmt.Errorf("usage: Reset: %w", err)
	}
	s.metrics.RecordUsageEvent("reset")
	s.usageHub.Publish(userID, m)
	return m, nil
}

func (s *Service) report(ctx context.Context, userID, assistantID, description string, kind domain.ActivityKind, delta domain.UsageDelta) (domain.UsageMetrics, error) {
	if err := requireUser(userID); err != nil {
		return domain.UsageMetrics{}, err
	}
	m, err := s.store.AddUsage(ctx, userID, delta, true)
	if err != nil {
		return domain.UsageMetrics{}, fmt.Errorf("usage: %s: %w", kind, err)
	}
	s.metrics.RecordUsageEvent(string(kind))
	s.usageHub.Publish(userID, m)

	a := domain.Activity{
		ID:          s.newID(),
		UserID:      userID,
		AssistantID: assistantID,
		Kind:        kind,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.clock.Now().UTC(),
	}
	// Counters are already committed; a failed activity write is logged only.
	if err := s.store.InsertActivity(ctx, a); err != nil {
		s.log.Warn("failed to record activity", "user", userID, "kind", kind, "err", err)
		return m, nil
	}
	s.activityHub.Publish(userID, a)
	return m, nil
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("usage: user id is required")
	}
	return nil
}
