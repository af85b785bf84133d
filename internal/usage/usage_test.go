package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"assistant-hub/internal/clock"
	"assistant-hub/internal/domain"
	"assistant-hub/internal/repository"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()
	s, err := New(store, WithClock(clock.Fake(epoch)), WithHoursSaved(func() int { return 2 }))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

type failingStore struct {
	*repository.Memory
	addErr      error
	activityErr error
}

func (f *failingStore) AddUsage(ctx context.Context, userID string, d domain.UsageDelta, upsert bool) (domain.UsageMetrics, error) {
	if f.addErr != nil {
		return domain.UsageMetrics{}, f.addErr
	}
	return f.Memory.AddUsage(ctx, userID, d, upsert)
}

func (f *failingStore) InsertActivity(ctx context.Context, a domain.Activity) error {
	if f.activityErr != nil {
		return f.activityErr
	}
	return f.Memory.InsertActivity(ctx, a)
}

func TestNew_NilStore(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestCurrent_UnknownUserHasZeroes(t *testing.T) {
	s := newTestService(t, repository.NewMemory(nil))
	m, err := s.Current(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, domain.UsageMetrics{UserID: "user-1"}, m)
}

func TestCurrent_RequiresUser(t *testing.T) {
	s := newTestService(t, repository.NewMemory(nil))
	_, err := s.Current(context.Background(), " ")
	require.Error(t, err)
}

func TestResetThenTaskCompleted_YieldsOneTask(t *testing.T) {
	s := newTestService(t, repository.NewMemory(nil))
	ctx := context.Background()

	_, err := s.TaskCompleted(ctx, "user-1", "paula", "previo")
	require.NoError(t, err)
	_, err = s.TaskCompleted(ctx, "user-1", "paula", "previo 2")
	require.NoError(t, err)

	_, err = s.Reset(ctx, "user-1")
	require.NoError(t, err)
	_, err = s.TaskCompleted(ctx, "user-1", "paula", "headline")
	require.NoError(t, err)

	m, err := s.Current(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, m.TasksCompleted)
	require.Equal(t, 2, m.TimeSavedHours)
}

func TestEvents_IncrementTheirCounters(t *testing.T) {
	s := newTestService(t, repository.NewMemory(nil))
	ctx := context.Background()

	_, err := s.FileGenerated(ctx, "user-1", "marco", "borrador.docx")
	require.NoError(t, err)
	m, err := s.AutomationSetUp(ctx, "user-1", "diego", "facturas")
	require.NoError(t, err)
	require.Equal(t, 1, m.FilesGenerated)
	require.Equal(t, 1, m.Automations)
	require.Zero(t, m.TasksCompleted)

	acts, err := s.RecentActivities(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	kinds := []domain.ActivityKind{acts[0].Kind, acts[1].Kind}
	require.ElementsMatch(t, []domain.ActivityKind{domain.ActivityFileGenerated, domain.ActivityAutomationSetup}, kinds)
	require.Equal(t, epoch, acts[0].CreatedAt)
}

func TestSubscriptions_ReceivePushes(t *testing.T) {
	s := newTestService(t, repository.NewMemory(nil))
	ctx := context.Background()

	usageCh, cancelUsage := s.Subscribe("user-1")
	defer cancelUsage()
	actCh, cancelAct := s.SubscribeActivities("user-1")
	defer cancelAct()
	otherCh, cancelOther := s.Subscribe("user-2")
	defer cancelOther()

	_, err := s.TaskCompleted(ctx, "user-1", "paula", "headline")
	require.NoError(t, err)

	pushed := <-usageCh
	require.Equal(t, 1, pushed.TasksCompleted)
	act := <-actCh
	require.Equal(t, "headline", act.Description)
	require.Equal(t, "paula", act.AssistantID)
	require.NotEmpty(t, act.ID)

	select {
	case m := <-otherCh:
		t.Fatalf("unexpected push for other user: %+v", m)
	default:
	}

	_, err = s.Reset(ctx, "user-1")
	require.NoError(t, err)
	require.Zero(t, (<-usageCh).TasksCompleted)
}

func TestRecordChatTurn_ToleratesMissingRow(t *testing.T) {
	store := repository.NewMemory(nil)
	s := newTestService(t, store)
	ctx := context.Background()

	_, applied, err := s.RecordChatTurn(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, applied)
	_, err = store.GetUsage(ctx, "user-1")
	require.ErrorIs(t, err, repository.ErrNotFound)

	_, err = s.Reset(ctx, "user-1")
	require.NoError(t, err)
	m, applied, err := s.RecordChatTurn(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, 1, m.Conversations)
	require.Equal(t, 1, m.TasksCompleted)
	require.Equal(t, 2, m.TimeSavedHours)
}

func TestRecordChatTurn_StoreError(t *testing.T) {
	s := newTestService(t, &failingStore{Memory: repository.NewMemory(nil), addErr: errors.New("throttled")})
	_, _, err := s.RecordChatTurn(context.Background(), "user-1")
	require.ErrorContains(t, err, "throttled")
}

func TestReport_ActivityFailureKeepsCounters(t *testing.T) {
	s := newTestService(t, &failingStore{Memory: repository.NewMemory(nil), activityErr: errors.New("boom")})
	m, err := s.TaskCompleted(context.Background(), "user-1", "paula", "x")
	require.NoError(t, err)
	require.Equal(t, 1, m.TasksCompleted)
}

func TestDefaultHoursSavedWithinRange(t *testing.T) {
	s, err := New(repository.NewMemory(nil))
	require.NoError(t, err)
	defer s.Close()
	for i := 0; i < 200; i++ {
		h := s.hoursSaved()
		require.GreaterOrEqual(t, h, 1)
		require.LessOrEqual(t, h, 3)
	}
}
