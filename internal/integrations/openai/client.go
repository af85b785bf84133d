// Package openai is a small client for the OpenAI-compatible chat
// completion and moderation endpoints used by the inference responder.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"assistant-hub/internal/domain"
)

const (
	defaultBaseURL  = "https://api.openai.com/v1"
	defaultTimeout  = 15 * time.Second
	maxErrorBody    = 4 << 10
	maxResponseBody = 1 << 20

	pathChat       = "/chat/completions"
	pathModeration = "/moderations"
	tokenParam     = "/open-ai-token"
)

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError is returned for non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: %s answered %d: %s", e.URL, e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string
	temperature *float64

	// The key is fetched lazily; a failed fetch is retried on the next call.
	keyMu  sync.Mutex
	apiKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if u := strings.TrimRight(strings.TrimSpace(baseURL), "/"); u != "" {
			c.baseURL = u
		}
	}
}

// WithTemperature sets the sampling temperature sent with every chat request.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = &t }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient creates a Client whose API key is read from
// <paramPrefix>/open-ai-token, a JSON document {"token": "..."}.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// endpoint joins path onto the base URL, adding /v1 when the base lacks it.
func (c *Client) endpoint(path string) string {
	if strings.HasSuffix(c.baseURL, "/v1") {
		return c.baseURL + path
	}
	return c.baseURL + "/v1" + path
}

func (c *Client) key(ctx context.Context) (string, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	raw, err := c.getter.GetParameter(ctx, c.paramPrefix+tokenParam)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token: %w", err)
	}
	key, err := parseToken(raw)
	if err != nil {
		return "", err
	}
	c.apiKey = key
	return key, nil
}

// dropKey discards the cached key after a 401 so a rotated token is read on
// the next call. Getters that memoize are asked to forget as well.
func (c *Client) dropKey() {
	c.keyMu.Lock()
	c.apiKey = ""
	c.keyMu.Unlock()
	if f, ok := c.getter.(interface{ Forget() }); ok {
		f.Forget()
	}
}

func parseToken(raw string) (string, error) {
	var doc struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", fmt.Errorf("openai: token parameter is not valid JSON: %w", err)
	}
	if strings.TrimSpace(doc.Token) == "" {
		return "", errors.New("openai: token parameter has no token")
	}
	return strings.TrimSpace(doc.Token), nil
}

// Chat returns the trimmed content of the first completion choice.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if model == "" {
		return "", errors.New("openai: model must not be empty")
	}
	in := struct {
		Model       string               `json:"model"`
		Messages    []domain.ChatMessage `json:"messages"`
		Temperature *float64             `json:"temperature,omitempty"`
	}{model, messages, c.temperature}
	var out struct {
		Choices []struct {
			Message domain.ChatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := c.post(ctx, pathChat, in, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openai: response has no choices")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("openai: empty completion")
	}
	return text, nil
}

// Moderate reports whether input is flagged by the moderation endpoint.
func (c *Client) Moderate(ctx context.Context, input string) (bool, error) {
	in := struct {
		Input string `json:"input"`
	}{input}
	var out struct {
		Results []struct {
			Flagged bool `json:"flagged"`
		} `json:"results"`
	}
	if err := c.post(ctx, pathModeration, in, &out); err != nil {
		return false, err
	}
	if len(out.Results) == 0 {
		return false, errors.New("openai: moderation response has no results")
	}
	return out.Results[0].Flagged, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	key, err := c.key(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("openai: encode %s: %w", path, err)
	}
	url := c.endpoint(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("openai: build %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openai: %s: %w", path, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusUnauthorized {
		c.dropKey()
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(snippet)}
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBody)).Decode(out); err != nil {
		return fmt.Errorf("openai: decode %s: %w", path, err)
	}
	return nil
}
