package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"assistant-hub/internal/domain"
)

const (
	defaultMaxHistory = 20
	refusalReply      = "Lo siento, no puedo ayudarte con ese pedido."
)

// ParamGetter resolves configuration values such as the model name.
type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// LLMClient is the inference backend used by OpenAI.
type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

// OpenAI answers through a chat completion model, moderating the user
// text first.
type OpenAI struct {
	params      ParamGetter
	llm         LLMClient
	paramPrefix string
	maxHistory  int
}

// NewOpenAI builds an inference-backed responder. Model and pinned prompt
// are read from <paramPrefix>/config/openai_model and
// <paramPrefix>/pinned_prompt.
func NewOpenAI(p ParamGetter, llm LLMClient, paramPrefix string, maxHistory int) (*OpenAI, error) {
	if p == nil {
		return nil, errors.New("responder: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("responder: llm client must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("responder: parameter prefix must not be empty")
	}
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	return &OpenAI{params: p, llm: llm, paramPrefix: paramPrefix, maxHistory: maxHistory}, nil
}

func (o *OpenAI) Reply(ctx context.Context, req ReplyRequest) (Reply, error) {
	flagged, err := o.llm.Moderate(ctx, req.Text)
	if err != nil {
		return Reply{}, fmt.Errorf("responder: moderate: %w", err)
	}
	if flagged {
		return Reply{Content: refusalReply}, nil
	}

	model, err := o.params.GetParameter(ctx, o.paramPrefix+"/config/openai_model")
	if err != nil {
		return Reply{}, fmt.Errorf("responder: load openai model: %w", err)
	}
	pinned, err := o.params.GetParameter(ctx, o.paramPrefix+"/pinned_prompt")
	if err != nil {
		return Reply{}, fmt.Errorf("responder: load pinned prompt: %w", err)
	}

	answer, err := o.llm.Chat(ctx, model, buildPromptMessages(
		promptContext{pinnedPrompt: pinned, assistant: req.Assistant},
		req.Text,
		req.History,
		o.maxHistory,
	))
	if err != nil {
		return Reply{}, fmt.Errorf("responder: chat: %w", err)
	}
	return Reply{Content: answer}, nil
}
