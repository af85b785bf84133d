package responder

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"assistant-hub/internal/clock"
)

const (
	DefaultMinDelay = time.Second
	DefaultMaxDelay = 3 * time.Second
)

// Simulated delays an inner responder by a uniformly random latency in
// [min, max], standing in for inference time.
type Simulated struct {
	inner  Responder
	clock  clock.Clock
	min    time.Duration
	max    time.Duration
	jitter func(n int64) int64
}

// NewSimulated wraps inner. Bounds are taken as given: zero means no
// delay, and DefaultMinDelay and DefaultMaxDelay give the product's 1-3s.
func NewSimulated(inner Responder, c clock.Clock, min, max time.Duration) (*Simulated, error) {
	if inner == nil {
		return nil, errors.New("responder: inner responder must not be nil")
	}
	if c == nil {
		c = clock.Real()
	}
	if min < 0 || max < 0 {
		return nil, errors.New("responder: delays must not be negative")
	}
	if max < min {
		return nil, errors.New("responder: max delay must not be below min delay")
	}
	return &Simulated{inner: inner, clock: c, min: min, max: max, jitter: rand.Int63n}, nil
}

// Delay picks the latency for the next reply.
func (s *Simulated) Delay() time.Duration {
	span := int64(s.max - s.min)
	if span <= 0 {
		return s.min
	}
	return s.min + time.Duration(s.jitter(span+1))
}

func (s *Simulated) Reply(ctx context.Context, req ReplyRequest) (Reply, error) {
	d := s.Delay()
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return Reply{}, err
		}
		return s.inner.Reply(ctx, req)
	}
	select {
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case <-s.clock.After(d):
	}
	return s.inner.Reply(ctx, req)
}
