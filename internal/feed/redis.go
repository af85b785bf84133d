package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"

	"assistant-hub/internal/domain"
)

// redisAPI is the minimal go-redis surface used by RedisBroker.
// *redis.Client satisfies it.
type redisAPI interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisBroker relays message inserts over Redis pub/sub so that every API
// instance and terminal client sees the same feed.
type RedisBroker struct {
	api    redisAPI
	log    *slog.Logger
	buffer int
}

// NewRedisBroker creates a broker on top of a go-redis client.
func NewRedisBroker(api redisAPI, log *slog.Logger) (*RedisBroker, error) {
	if api == nil {
		return nil, errors.New("feed: redis client must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisBroker{api: api, log: log, buffer: defaultBuffer}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, msg domain.Message) error {
	if strings.TrimSpace(msg.ConversationID) == "" {
		return errors.New("feed: Publish: conversation id is required")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("feed: Publish marshal: %w", err)
	}
	if err := b.api.Publish(ctx, Topic(msg.ConversationID), payload).Err(); err != nil {
		return fmt.Errorf("feed: Publish: %w", err)
	}
	return nil
}

// Subscribe blocks until Redis confirms the subscription, then relays
// decoded messages until cancel is called or ctx ends.
func (b *RedisBroker) Subscribe(ctx context.Context, conversationID string) (<-chan domain.Message, func(), error) {
	ps := b.api.Subscribe(ctx, Topic(conversationID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("feed: Subscribe: %w", err)
	}

	out := make(chan domain.Message, b.buffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}

	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				cancel()
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				msg, err := decodeMessage(raw.Payload)
				if err != nil {
					b.log.Warn("dropping malformed feed payload", "channel", raw.Channel, "err", err)
					continue
				}
				select {
				case out <- msg:
				case <-done:
					return
				}
			}
		}
	}()
	return out, cancel, nil
}

func decodeMessage(payload string) (domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return domain.Message{}, fmt.Errorf("feed: decode message: %w", err)
	}
	if msg.ID == "" || msg.ConversationID == "" {
		return domain.Message{}, errors.New("feed: decode message: id and conversation id are required")
	}
	return msg, nil
}
