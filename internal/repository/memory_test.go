package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"assistant-hub/internal/domain"
	"assistant-hub/internal/feed"
)

func TestMemory_FindLatestConversationPicksMostRecentlyUpdated(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	_, err := m.FindLatestConversation(ctx, "user-1", "paula")
	require.ErrorIs(t, err, ErrNotFound)

	older := testConversation()
	newer := testConversation()
	newer.ID = "conv-2"
	newer.UpdatedAt = t0.Add(time.Hour)
	other := testConversation()
	other.ID = "conv-3"
	other.AssistantID = "marco"
	other.UpdatedAt = t0.Add(2 * time.Hour)
	for _, c := range []domain.Conversation{older, newer, other} {
		require.NoError(t, m.CreateConversation(ctx, c))
	}

	got, err := m.FindLatestConversation(ctx, "user-1", "paula")
	require.NoError(t, err)
	require.Equal(t, "conv-2", got.ID)

	require.NoError(t, m.TouchConversation(ctx, "conv-1", t0.Add(3*time.Hour)))
	got, err = m.FindLatestConversation(ctx, "user-1", "paula")
	require.NoError(t, err)
	require.Equal(t, "conv-1", got.ID)
}

func TestMemory_CreateConversationRejectsDuplicate(t *testing.T) {
	m := NewMemory(nil)
	require.NoError(t, m.CreateConversation(context.Background(), testConversation()))
	require.Error(t, m.CreateConversation(context.Background(), testConversation()))
}

func TestMemory_TouchMissing(t *testing.T) {
	require.ErrorIs(t, NewMemory(nil).TouchConversation(context.Background(), "nope", t0), ErrNotFound)
}

func TestMemory_InsertMessagePublishesAndOrders(t *testing.T) {
	hub := feed.NewMessageHub(4)
	ch, cancel, err := hub.Subscribe(context.Background(), "conv-1")
	require.NoError(t, err)
	defer cancel()

	m := NewMemory(hub)
	ctx := context.Background()
	require.NoError(t, m.InsertMessage(ctx, testMessage("late", t0.Add(time.Second))))
	require.NoError(t, m.InsertMessage(ctx, testMessage("early", t0)))
	require.Error(t, m.InsertMessage(ctx, testMessage("early", t0)))

	msgs, err := m.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.Equal(t, "early", msgs[0].ID)
	require.Equal(t, "late", msgs[1].ID)

	require.Equal(t, "late", (<-ch).ID)
	require.Equal(t, "early", (<-ch).ID)
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(context.Context, domain.Message) error {
	p.calls++
	return errors.New("feed unavailable")
}

func TestMemory_InsertMessageSurvivesPublishFailure(t *testing.T) {
	ctx := context.Background()
	pub := &failingPublisher{}
	m := NewMemory(pub, WithMemoryLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	require.NoError(t, m.InsertMessage(ctx, testMessage("m1", t0)))
	require.Equal(t, 1, pub.calls)

	msgs, err := m.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "m1", msgs[0].ID)
}

func TestMemory_UsageLifecycle(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	_, err := m.AddUsage(ctx, "user-1", domain.UsageDelta{TasksCompleted: 1}, false)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetUsage(ctx, "user-1")
	require.ErrorIs(t, err, ErrNotFound)

	u, err := m.AddUsage(ctx, "user-1", domain.UsageDelta{TasksCompleted: 2, TimeSavedHours: 3}, true)
	require.NoError(t, err)
	require.Equal(t, 2, u.TasksCompleted)

	u, err = m.ResetUsage(ctx, "user-1")
	require.NoError(t, err)
	require.Zero(t, u.TasksCompleted)

	u, err = m.AddUsage(ctx, "user-1", domain.UsageDelta{TasksCompleted: 1}, false)
	require.NoError(t, err)
	require.Equal(t, 1, u.TasksCompleted)
}

func TestMemory_ListActivitiesNewestFirstWithLimit(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.InsertActivity(ctx, domain.Activity{ID: id, UserID: "user-1", CreatedAt: t0.Add(time.Duration(i) * time.Minute)}))
	}
	acts, err := m.ListActivities(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	require.Equal(t, "c", acts[0].ID)
	require.Equal(t, "b", acts[1].ID)
}
