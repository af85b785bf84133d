// Package config reads process configuration from the environment. Only
// the cmd/* entry points call it.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ResponderCanned = "canned"
	ResponderOpenAI = "openai"
)

type Config struct {
	StateTable       string
	ParamPrefix      string
	Responder        string
	RedisAddr        string
	RedisPassword    string
	MaxMessageLength int
	MaxContextItems  int
	ReplyDelayMin    time.Duration
	ReplyDelayMax    time.Duration
	LogLevel         slog.Level
}

// Load reads the configuration through getenv, typically os.Getenv.
// Malformed numeric and duration values fall back to their defaults.
func Load(getenv func(string) string) (Config, error) {
	c := Config{
		StateTable:       strings.TrimSpace(getenv("STATE_TABLE")),
		ParamPrefix:      strings.TrimSpace(getenv("PARAM_PREFIX")),
		Responder:        strings.ToLower(strings.TrimSpace(getenv("RESPONDER"))),
		RedisAddr:        strings.TrimSpace(getenv("REDIS_ADDR")),
		RedisPassword:    getenv("REDIS_PASSWORD"),
		MaxMessageLength: envInt(getenv, "MAX_MESSAGE_LENGTH", 4000),
		MaxContextItems:  envInt(getenv, "MAX_CONTEXT_ITEMS", 20),
		ReplyDelayMin:    envDuration(getenv, "REPLY_DELAY_MIN", time.Second),
		ReplyDelayMax:    envDuration(getenv, "REPLY_DELAY_MAX", 3*time.Second),
		LogLevel:         parseLevel(getenv("LOG_LEVEL")),
	}
	if c.Responder == "" {
		c.Responder = ResponderCanned
	}
	switch c.Responder {
	case ResponderCanned, ResponderOpenAI:
	default:
		return Config{}, fmt.Errorf("config: unknown RESPONDER %q", c.Responder)
	}
	if c.Responder == ResponderOpenAI && c.ParamPrefix == "" {
		return Config{}, errors.New("config: PARAM_PREFIX is required for the openai responder")
	}
	if c.ReplyDelayMax < c.ReplyDelayMin {
		return Config{}, fmt.Errorf("config: REPLY_DELAY_MAX %s is below REPLY_DELAY_MIN %s", c.ReplyDelayMax, c.ReplyDelayMin)
	}
	return c, nil
}

// RequireTable fails when no DynamoDB table is configured.
func (c Config) RequireTable() error {
	if c.StateTable == "" {
		return errors.New("config: STATE_TABLE is required")
	}
	return nil
}

// LoadDotEnv loads KEY=value files into the environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// NewLogger returns a JSON slog logger writing to w at level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func envInt(getenv func(string) string, key string, def int) int {
	v := getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(getenv func(string) string, key string, def time.Duration) time.Duration {
	v := getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}
