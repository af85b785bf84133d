package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"assistant-hub/internal/domain"
	"assistant-hub/internal/metrics"
	"assistant-hub/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerUserID        = "X-User-Id"

	defaultActivityLimit = 10
	maxActivityLimit     = 50

	errUnauthorized     = "UNAUTHORIZED"
	errMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

type Catalog interface {
	List() []domain.Assistant
	Get(id string) (domain.Assistant, bool)
}

type Chat interface {
	OpenConversation(ctx context.Context, userID, assistantID string) (domain.ConversationWithMessages, error)
	Exchange(ctx context.Context, userID, assistantID, text string) (user, reply domain.Message, err error)
}

type Dashboard interface {
	Current(ctx context.Context, userID string) (domain.UsageMetrics, error)
	RecentActivities(ctx context.Context, userID string, n int) ([]domain.Activity, error)
	TaskCompleted(ctx context.Context, userID, assistantID, description string) (domain.UsageMetrics, error)
	FileGenerated(ctx context.Context, userID, assistantID, fileName string) (domain.UsageMetrics, error)
	AutomationSetUp(ctx context.Context, userID, assistantID, name string) (domain.UsageMetrics, error)
	Reset(ctx context.Context, userID string) (domain.UsageMetrics, error)
}

type Handler struct {
	catalog   Catalog
	chat      Chat
	dashboard Dashboard
	log       *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

type messageRequest struct {
	Content string `json:"content"`
}

// messagesResponse always carries the stored user message. When the reply
// step failed, Reply is null and ReplyError says why.
type messagesResponse struct {
	UserMessage domain.Message  `json:"userMessage"`
	Reply       *domain.Message `json:"reply"`
	ReplyError  *errorResponse  `json:"replyError,omitempty"`
}

type assistantsResponse struct {
	Assistants []domain.Assistant `json:"assistants"`
}

type dashboardResponse struct {
	Metrics    domain.UsageMetrics `json:"metrics"`
	Activities []domain.Activity   `json:"activities"`
}

type eventRequest struct {
	Type        string `json:"type"`
	AssistantID string `json:"assistantId"`
	Detail      string `json:"detail"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(cat Catalog, chat Chat, dash Dashboard, opts ...Option) (*Handler, error) {
	if cat == nil {
		return nil, errors.New("handler: catalog must not be nil")
	}
	if chat == nil {
		return nil, errors.New("handler: chat must not be nil")
	}
	if dash == nil {
		return nil, errors.New("handler: dashboard must not be nil")
	}
	h := &Handler{catalog: cat, chat: chat, dashboard: dash, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle serves an API Gateway proxy request.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	started := time.Now()
	correlationID := header(req.Headers, headerCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.log.With("correlation_id", correlationID, "method", req.HTTPMethod, "path", req.Path)

	route, resp := h.route(ctx, log, req)
	resp.Headers = map[string]string{
		"Content-Type":      "application/json",
		headerCorrelationID: correlationID,
	}
	h.metrics.RecordRequest(route, strconv.Itoa(resp.StatusCode), time.Since(started))
	log.Info("request served", "route", route, "status", resp.StatusCode, "duration_ms", time.Since(started).Milliseconds())
	return resp, nil
}

func (h *Handler) route(ctx context.Context, log *slog.Logger, req events.APIGatewayProxyRequest) (string, events.APIGatewayProxyResponse) {
	seg := strings.Split(strings.Trim(req.Path, "/"), "/")
	method := req.HTTPMethod

	switch {
	case len(seg) == 1 && seg[0] == "assistants":
		if method != http.MethodGet {
			return "/assistants", methodNotAllowed()
		}
		return "/assistants", jsonResponse(http.StatusOK, assistantsResponse{Assistants: h.catalog.List()})

	case len(seg) == 2 && seg[0] == "assistants":
		if method != http.MethodGet {
			return "/assistants/{id}", methodNotAllowed()
		}
		a, ok := h.catalog.Get(seg[1])
		if !ok {
			return "/assistants/{id}", errorJSON(http.StatusNotFound, string(usecase.ErrorNotFound), "unknown_assistant")
		}
		return "/assistants/{id}", jsonResponse(http.StatusOK, a)

	case len(seg) == 3 && seg[0] == "assistants" && seg[2] == "conversation":
		const route = "/assistants/{id}/conversation"
		if method != http.MethodGet {
			return route, methodNotAllowed()
		}
		userID, resp, ok := requireUser(req)
		if !ok {
			return route, resp
		}
		cw, err := h.chat.OpenConversation(ctx, userID, seg[1])
		if err != nil {
			return route, h.usecaseError(log, err)
		}
		return route, jsonResponse(http.StatusOK, cw)

	case len(seg) == 3 && seg[0] == "assistants" && seg[2] == "messages":
		const route = "/assistants/{id}/messages"
		if method != http.MethodPost {
			return route, methodNotAllowed()
		}
		userID, resp, ok := requireUser(req)
		if !ok {
			return route, resp
		}
		var in messageRequest
		if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
			return route, errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_body")
		}
		user, reply, err := h.chat.Exchange(ctx, userID, seg[1], in.Content)
		if err != nil && user.ID == "" {
			return route, h.usecaseError(log, err)
		}
		out := messagesResponse{UserMessage: user}
		if err == nil {
			out.Reply = &reply
			return route, jsonResponse(http.StatusCreated, out)
		}
		log.Warn("reply not produced", "assistant", seg[1], "err", err)
		replyErr := errorResponse{Error: string(usecase.ErrorInternal), Reason: "unexpected_error"}
		var ue *usecase.Error
		if errors.As(err, &ue) {
			replyErr = errorResponse{Error: string(ue.Code), Reason: ue.Reason}
		}
		out.ReplyError = &replyErr
		if ue != nil && ue.Code == usecase.ErrorRateLimited {
			return route, jsonResponse(http.StatusTooManyRequests, out)
		}
		return route, jsonResponse(http.StatusCreated, out)

	case len(seg) == 1 && seg[0] == "dashboard":
		if method != http.MethodGet {
			return "/dashboard", methodNotAllowed()
		}
		return "/dashboard", h.dashboardView(ctx, log, req)

	case len(seg) == 2 && seg[0] == "dashboard" && seg[1] == "events":
		if method != http.MethodPost {
			return "/dashboard/events", methodNotAllowed()
		}
		return "/dashboard/events", h.reportEvent(ctx, log, req)

	case len(seg) == 2 && seg[0] == "dashboard" && seg[1] == "reset":
		if method != http.MethodPost {
			return "/dashboard/reset", methodNotAllowed()
		}
		userID, resp, ok := requireUser(req)
		if !ok {
			return "/dashboard/reset", resp
		}
		m, err := h.dashboard.Reset(ctx, userID)
		if err != nil {
			return "/dashboard/reset", h.internalError(log, "usage_reset_error", err)
		}
		return "/dashboard/reset", jsonResponse(http.StatusOK, m)
	}
	return "unmatched", errorJSON(http.StatusNotFound, string(usecase.ErrorNotFound), "unknown_route")
}

func (h *Handler) dashboardView(ctx context.Context, log *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	userID, resp, ok := requireUser(req)
	if !ok {
		return resp
	}
	limit := defaultActivityLimit
	if raw := req.QueryStringParameters["limit"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_limit")
		}
		limit = min(n, maxActivityLimit)
	}
	m, err := h.dashboard.Current(ctx, userID)
	if err != nil {
		return h.internalError(log, "usage_read_error", err)
	}
	acts, err := h.dashboard.RecentActivities(ctx, userID, limit)
	if err != nil {
		return h.internalError(log, "activity_read_error", err)
	}
	if acts == nil {
		acts = []domain.Activity{}
	}
	return jsonResponse(http.StatusOK, dashboardResponse{Metrics: m, Activities: acts})
}

func (h *Handler) reportEvent(ctx context.Context, log *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	userID, resp, ok := requireUser(req)
	if !ok {
		return resp
	}
	var in eventRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_body")
	}
	if _, ok := h.catalog.Get(in.AssistantID); !ok {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "unknown_assistant")
	}

	var (
		m   domain.UsageMetrics
		err error
	)
	switch domain.ActivityKind(in.Type) {
	case domain.ActivityTaskCompleted:
		m, err = h.dashboard.TaskCompleted(ctx, userID, in.AssistantID, in.Detail)
	case domain.ActivityFileGenerated:
		m, err = h.dashboard.FileGenerated(ctx, userID, in.AssistantID, in.Detail)
	case domain.ActivityAutomationSetup:
		m, err = h.dashboard.AutomationSetUp(ctx, userID, in.AssistantID, in.Detail)
	default:
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "unknown_event_type")
	}
	if err != nil {
		return h.internalError(log, "usage_write_error", err)
	}
	return jsonResponse(http.StatusOK, m)
}

func (h *Handler) usecaseError(log *slog.Logger, err error) events.APIGatewayProxyResponse {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return h.internalError(log, "unexpected_error", err)
	}
	status := statusFor(ue.Code)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "code", ue.Code, "reason", ue.Reason, "err", ue.Err)
	}
	return errorJSON(status, string(ue.Code), ue.Reason)
}

func (h *Handler) internalError(log *slog.Logger, reason string, err error) events.APIGatewayProxyResponse {
	log.Error("request failed", "reason", reason, "err", err)
	return errorJSON(http.StatusInternalServerError, string(usecase.ErrorInternal), reason)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requireUser(req events.APIGatewayProxyRequest) (string, events.APIGatewayProxyResponse, bool) {
	userID := strings.TrimSpace(header(req.Headers, headerUserID))
	if userID == "" {
		return "", errorJSON(http.StatusUnauthorized, errUnauthorized, "missing_user"), false
	}
	return userID, events.APIGatewayProxyResponse{}, true
}

func methodNotAllowed() events.APIGatewayProxyResponse {
	return errorJSON(http.StatusMethodNotAllowed, errMethodNotAllowed, "")
}

// header looks name up case-insensitively.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return errorJSON(http.StatusInternalServerError, string(usecase.ErrorInternal), "encode_error")
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Body: string(body)}
}

func errorJSON(status int, code, reason string) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(errorResponse{Error: code, Reason: reason})
	return events.APIGatewayProxyResponse{StatusCode: status, Body: string(body)}
}
