package feed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"assistant-hub/internal/domain"
)

type fakeRedis struct {
	channel string
	payload []byte
	err     error
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func (f *fakeRedis) Subscribe(_ context.Context, _ ...string) *redis.PubSub {
	panic("not used")
}

func TestNewRedisBroker_NilClient(t *testing.T) {
	_, err := NewRedisBroker(nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestRedisBroker_PublishEncodesMessage(t *testing.T) {
	api := &fakeRedis{}
	b, err := NewRedisBroker(api, nil)
	require.NoError(t, err)

	msg := domain.Message{ID: "m1", ConversationID: "conv-1", Role: domain.RoleUser, Content: "hola"}
	require.NoError(t, b.Publish(context.Background(), msg))
	require.Equal(t, "conversation:conv-1:messages", api.channel)

	var decoded domain.Message
	require.NoError(t, json.Unmarshal(api.payload, &decoded))
	require.Equal(t, msg.ID, decoded.ID)
	require.Equal(t, msg.Content, decoded.Content)
}

func TestRedisBroker_PublishError(t *testing.T) {
	b, err := NewRedisBroker(&fakeRedis{err: errors.New("connection refused")}, nil)
	require.NoError(t, err)
	err = b.Publish(context.Background(), domain.Message{ID: "m1", ConversationID: "c"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Publish")
}

func TestRedisBroker_PublishRequiresConversation(t *testing.T) {
	b, err := NewRedisBroker(&fakeRedis{}, nil)
	require.NoError(t, err)
	require.Error(t, b.Publish(context.Background(), domain.Message{ID: "m1"}))
}

func TestDecodeMessage(t *testing.T) {
	msg, err := decodeMessage(`{"id":"m1","conversationId":"c1","role":"assistant","content":"ok"}`)
	require.NoError(t, err)
	require.Equal(t, domain.RoleAssistant, msg.Role)

	_, err = decodeMessage(`{"content":"no ids"}`)
	require.Error(t, err)

	_, err = decodeMessage(`not-json`)
	require.Error(t, err)
}
