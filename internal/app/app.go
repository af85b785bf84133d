// Package app wires the chat stack from configuration. The cmd/* entry
// points share it so every binary assembles the same components.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-redis/redis/v8"

	"assistant-hub/internal/catalog"
	"assistant-hub/internal/clock"
	"assistant-hub/internal/config"
	"assistant-hub/internal/feed"
	"assistant-hub/internal/integrations/openai"
	"assistant-hub/internal/integrations/paramstore"
	"assistant-hub/internal/metrics"
	"assistant-hub/internal/repository"
	"assistant-hub/internal/responder"
	"assistant-hub/internal/usage"
	"assistant-hub/internal/usecase"
)

const hubBuffer = 64

type Options struct {
	// Memory keeps all state in process instead of DynamoDB.
	Memory  bool
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// App is the assembled chat stack.
type App struct {
	Catalog    *catalog.Catalog
	Store      repository.Store
	Subscriber feed.Subscriber
	Chat       *usecase.ChatService
	Usage      *usage.Service

	closers []func() error
}

// Build assembles the stack described by cfg.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	cat, err := catalog.Default()
	if err != nil {
		return nil, err
	}
	a.Catalog = cat

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg == nil {
			c, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
			}
			awsCfg = &c
		}
		return *awsCfg, nil
	}

	if opts.Memory {
		hub := feed.NewMessageHub(hubBuffer)
		a.closers = append(a.closers, func() error { hub.Close(); return nil })
		a.Store = repository.NewMemory(hub, repository.WithMemoryLogger(opts.Logger))
		a.Subscriber = hub
	} else {
		if err := cfg.RequireTable(); err != nil {
			return nil, err
		}
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		store, err := repository.New(awsdynamodb.NewFromConfig(c), cfg.StateTable)
		if err != nil {
			return nil, err
		}
		a.Store = store
		sub, err := a.remoteFeed(cfg, opts.Logger)
		if err != nil {
			return nil, err
		}
		a.Subscriber = sub
	}

	r, err := newResponder(cfg, opts.Clock, loadAWS)
	if err != nil {
		return nil, err
	}

	u, err := usage.New(a.Store,
		usage.WithClock(opts.Clock),
		usage.WithLogger(opts.Logger),
		usage.WithMetrics(opts.Metrics),
	)
	if err != nil {
		return nil, err
	}
	a.Usage = u
	a.closers = append(a.closers, func() error { u.Close(); return nil })

	chat, err := usecase.NewChatService(cat, a.Store, r,
		usecase.WithClock(opts.Clock),
		usecase.WithLogger(opts.Logger),
		usecase.WithMetrics(opts.Metrics),
		usecase.WithUsage(u),
		usecase.WithMaxMessageLength(cfg.MaxMessageLength),
	)
	if err != nil {
		return nil, err
	}
	a.Chat = chat

	ok = true
	return a, nil
}

// remoteFeed subscribes through Redis when configured. Without Redis
// there is no cross-process feed and sessions see only their own writes.
func (a *App) remoteFeed(cfg config.Config, log *slog.Logger) (feed.Subscriber, error) {
	if cfg.RedisAddr == "" {
		hub := feed.NewMessageHub(hubBuffer)
		a.closers = append(a.closers, func() error { hub.Close(); return nil })
		return hub, nil
	}
	rdb := NewRedisClient(cfg)
	a.closers = append(a.closers, rdb.Close)
	return feed.NewRedisBroker(rdb, log)
}

// NewRedisClient opens a go-redis client for cfg.RedisAddr.
func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

func newResponder(cfg config.Config, c clock.Clock, loadAWS func() (aws.Config, error)) (responder.Responder, error) {
	switch cfg.Responder {
	case config.ResponderOpenAI:
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, err
		}
		llm, err := openai.NewClient(params, cfg.ParamPrefix)
		if err != nil {
			return nil, err
		}
		return responder.NewOpenAI(params, llm, cfg.ParamPrefix, cfg.MaxContextItems)
	case config.ResponderCanned, "":
		return responder.NewSimulated(responder.NewCanned(), c, cfg.ReplyDelayMin, cfg.ReplyDelayMax)
	default:
		return nil, fmt.Errorf("app: unknown responder %q", cfg.Responder)
	}
}

// Close releases everything Build opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
