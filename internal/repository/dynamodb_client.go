package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"assistant-hub/internal/domain"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Client wraps a DynamoDB table for conversation and usage state.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// FindLatestConversation returns the most recently updated conversation
// between userID and assistantID, or ErrNotFound.
func (c *Client) FindLatestConversation(ctx context.Context, userID, assistantID string) (domain.Conversation, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(gsiByAssistant),
		KeyConditionExpression: aws.String("GSI1PK = :gk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":gk": &types.AttributeValueMemberS{Value: assistantGSIKey(userID, assistantID)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: FindLatestConversation query: %w", err)
	}
	if len(out.Items) == 0 {
		return domain.Conversation{}, ErrNotFound
	}
	conv, err := itemToConversation(out.Items[0])
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: FindLatestConversation unmarshal: %w", err)
	}
	return conv, nil
}

// CreateConversation persists a new conversation record.
func (c *Client) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	if conv.ID == "" || conv.UserID == "" || conv.AssistantID == "" {
		return errors.New("repository: CreateConversation: id, user id and assistant id are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                conversationItem(conv),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: CreateConversation: %w", err)
	}
	return nil
}

// TouchConversation bumps updatedAt so the conversation sorts first on the
// assistant index.
func (c *Client) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	ts := formatTime(at)
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression:    aws.String("SET updatedAt = :u, GSI1SK = :u"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberS{Value: ts},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return ErrNotFound
		}
		return fmt.Errorf("repository: TouchConversation: %w", err)
	}
	return nil
}

// ListMessages returns every message of a conversation, oldest first.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(true),
	}

	msgs := []domain.Message{}
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: ListMessages query: %w", err)
		}
		for _, item := range out.Items {
			msg, err := DecodeMessageItem(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListMessages unmarshal: %w", err)
			}
			msgs = append(msgs, msg)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	domain.SortMessages(msgs)
	return msgs, nil
}

// InsertMessage appends a message. Messages are never overwritten.
func (c *Client) InsertMessage(ctx context.Context, msg domain.Message) error {
	if msg.ID == "" || msg.ConversationID == "" {
		return errors.New("repository: InsertMessage: id and conversation id are required")
	}
	item, err := messageItem(msg)
	if err != nil {
		return fmt.Errorf("repository: InsertMessage: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: InsertMessage: %w", err)
	}
	return nil
}

// GetUsage returns the usage row for userID, or ErrNotFound.
func (c *Client) GetUsage(ctx context.Context, userID string) (domain.UsageMetrics, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skMetrics},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.UsageMetrics{}, fmt.Errorf("repository: GetUsage get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.UsageMetrics{}, ErrNotFound
	}
	m, err := itemToUsage(out.Item)
	if err != nil {
		return domain.UsageMetrics{}, fmt.Errorf("repository: GetUsage decode: %w", err)
	}
	return m, nil
}

// AddUsage atomically increments the usage counters. Without upsert a
// missing row is reported as ErrNotFound and nothing is written.
func (c *Client) AddUsage(ctx context.Context, userID string, delta domain.UsageDelta, upsert bool) (domain.UsageMetrics, error) {
	in := &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skMetrics},
		},
		UpdateExpression: aws.String("ADD conversations :c, tasksCompleted :t, filesGenerated :f, automations :a, timeSavedHours :h " +
			"SET updatedAt = :u, userId = :uid, itemType = :type"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c":    numAttr(delta.Conversations),
			":t":    numAttr(delta.TasksCompleted),
			":f":    numAttr(delta.FilesGenerated),
			":a":    numAttr(delta.Automations),
			":h":    numAttr(delta.TimeSavedHours),
			":u":    &types.AttributeValueMemberS{Value: formatTime(time.Now())},
			":uid":  &types.AttributeValueMemberS{Value: userID},
			":type": &types.AttributeValueMemberS{Value: itemMetrics},
		},
		ReturnValues: types.ReturnValueAllNew,
	}
	if !upsert {
		in.ConditionExpression = aws.String("attribute_exists(PK)")
	}

	out, err := c.api.UpdateItem(ctx, in)
	if err != nil {
		if isConditionFailure(err) {
			return domain.UsageMetrics{}, ErrNotFound
		}
		return domain.UsageMetrics{}, fmt.Errorf("repository: AddUsage: %w", err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return domain.UsageMetrics{UserID: userID}, nil
	}
	m, err := itemToUsage(out.Attributes)
	if err != nil {
		return domain.UsageMetrics{}, fmt.Errorf("repository: AddUsage decode: %w", err)
	}
	return m, nil
}

// ResetUsage replaces the usage row with zeroed counters.
func (c *Client) ResetUsage(ctx context.Context, userID string) (domain.UsageMetrics, error) {
	m := domain.UsageMetrics{UserID: userID, UpdatedAt: time.Now().UTC()}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      usageItem(m),
	})
	if err != nil {
		return domain.UsageMetrics{}, fmt.Errorf("repository: ResetUsage: %w", err)
	}
	return m, nil
}

// InsertActivity records a dashboard activity entry.
func (c *Client) InsertActivity(ctx context.Context, a domain.Activity) error {
	if a.ID == "" || a.UserID == "" {
		return errors.New("repository: InsertActivity: id and user id are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      activityItem(a),
	})
	if err != nil {
		return fmt.Errorf("repository: InsertActivity: %w", err)
	}
	return nil
}

// ListActivities returns up to limit activities, newest first.
func (c *Client) ListActivities(ctx context.Context, userID string, limit int) ([]domain.Activity, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixAct},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}
	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: ListActivities query: %w", err)
	}
	acts := make([]domain.Activity, 0, len(out.Items))
	for _, item := range out.Items {
		a, err := itemToActivity(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListActivities unmarshal: %w", err)
		}
		acts = append(acts, a)
	}
	return acts, nil
}

func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// DecodeMessageItem converts a message item, as stored by InsertMessage,
// back into a Message. The stream relay uses it on new images.
func DecodeMessageItem(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "messageId")
	if err != nil {
		return domain.Message{}, err
	}
	convID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Message{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Message{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	created, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ID:             id,
		ConversationID: convID,
		Role:           domain.Role(role),
		Content:        content,
		CreatedAt:      created,
	}
	if raw, _ := strAttr(item, "metadata"); raw != "" { // allow missing
		var md domain.MessageMetadata
		if err := json.Unmarshal([]byte(raw), &md); err != nil {
			return domain.Message{}, fmt.Errorf("repository: decode metadata: %w", err)
		}
		msg.Metadata = &md
	}
	return msg, nil
}

// IsMessageItem reports whether item is a message record.
func IsMessageItem(item map[string]types.AttributeValue) bool {
	t, err := strAttr(item, "itemType")
	return err == nil && t == itemMessage
}

func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	id, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Conversation{}, err
	}
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.Conversation{}, err
	}
	assistantID, err := strAttr(item, "assistantId")
	if err != nil {
		return domain.Conversation{}, err
	}
	title, _ := strAttr(item, "title") // allow empty
	created, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Conversation{}, err
	}
	updated, err := timeAttr(item, "updatedAt")
	if err != nil {
		return domain.Conversation{}, err
	}
	return domain.Conversation{
		ID:          id,
		UserID:      userID,
		AssistantID: assistantID,
		Title:       title,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, nil
}

func itemToUsage(item map[string]types.AttributeValue) (domain.UsageMetrics, error) {
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.UsageMetrics{}, err
	}
	m := domain.UsageMetrics{UserID: userID}
	counters := []struct {
		key string
		dst *int
	}{
		{"conversations", &m.Conversations},
		{"tasksCompleted", &m.TasksCompleted},
		{"filesGenerated", &m.FilesGenerated},
		{"automations", &m.Automations},
		{"timeSavedHours", &m.TimeSavedHours},
	}
	for _, ctr := range counters {
		if _, ok := item[ctr.key]; !ok {
			continue
		}
		n, err := intAttr(item, ctr.key)
		if err != nil {
			return domain.UsageMetrics{}, err
		}
		*ctr.dst = n
	}
	if _, ok := item["updatedAt"]; ok {
		if m.UpdatedAt, err = timeAttr(item, "updatedAt"); err != nil {
			return domain.UsageMetrics{}, err
		}
	}
	return m, nil
}

func itemToActivity(item map[string]types.AttributeValue) (domain.Activity, error) {
	id, err := strAttr(item, "activityId")
	if err != nil {
		return domain.Activity{}, err
	}
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.Activity{}, err
	}
	kind, err := strAttr(item, "kind")
	if err != nil {
		return domain.Activity{}, err
	}
	created, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Activity{}, err
	}
	assistantID, _ := strAttr(item, "assistantId")
	description, _ := strAttr(item, "description")
	return domain.Activity{
		ID:          id,
		UserID:      userID,
		AssistantID: assistantID,
		Kind:        domain.ActivityKind(kind),
		Description: description,
		CreatedAt:   created,
	}, nil
}

func conversationItem(conv domain.Conversation) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(conv.ID)},
		"SK":             &types.AttributeValueMemberS{Value: skMeta},
		"GSI1PK":         &types.AttributeValueMemberS{Value: assistantGSIKey(conv.UserID, conv.AssistantID)},
		"GSI1SK":         &types.AttributeValueMemberS{Value: formatTime(conv.UpdatedAt)},
		"itemType":       &types.AttributeValueMemberS{Value: itemConversation},
		"conversationId": &types.AttributeValueMemberS{Value: conv.ID},
		"userId":         &types.AttributeValueMemberS{Value: conv.UserID},
		"assistantId":    &types.AttributeValueMemberS{Value: conv.AssistantID},
		"title":          &types.AttributeValueMemberS{Value: conv.Title},
		"createdAt":      &types.AttributeValueMemberS{Value: formatTime(conv.CreatedAt)},
		"updatedAt":      &types.AttributeValueMemberS{Value: formatTime(conv.UpdatedAt)},
	}
}

func messageItem(msg domain.Message) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(msg.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: msgSK(msg.CreatedAt, msg.ID)},
		"itemType":       &types.AttributeValueMemberS{Value: itemMessage},
		"messageId":      &types.AttributeValueMemberS{Value: msg.ID},
		"conversationId": &types.AttributeValueMemberS{Value: msg.ConversationID},
		"role":           &types.AttributeValueMemberS{Value: string(msg.Role)},
		"content":        &types.AttributeValueMemberS{Value: msg.Content},
		"createdAt":      &types.AttributeValueMemberS{Value: formatTime(msg.CreatedAt)},
	}
	if msg.Metadata != nil {
		raw, err := json.Marshal(msg.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		item["metadata"] = &types.AttributeValueMemberS{Value: string(raw)}
	}
	return item, nil
}

func usageItem(m domain.UsageMetrics) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: userPK(m.UserID)},
		"SK":             &types.AttributeValueMemberS{Value: skMetrics},
		"itemType":       &types.AttributeValueMemberS{Value: itemMetrics},
		"userId":         &types.AttributeValueMemberS{Value: m.UserID},
		"conversations":  numAttr(m.Conversations),
		"tasksCompleted": numAttr(m.TasksCompleted),
		"filesGenerated": numAttr(m.FilesGenerated),
		"automations":    numAttr(m.Automations),
		"timeSavedHours": numAttr(m.TimeSavedHours),
		"updatedAt":      &types.AttributeValueMemberS{Value: formatTime(m.UpdatedAt)},
	}
}

func activityItem(a domain.Activity) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: userPK(a.UserID)},
		"SK":          &types.AttributeValueMemberS{Value: activitySK(a.CreatedAt, a.ID)},
		"itemType":    &types.AttributeValueMemberS{Value: itemActivity},
		"activityId":  &types.AttributeValueMemberS{Value: a.ID},
		"userId":      &types.AttributeValueMemberS{Value: a.UserID},
		"assistantId": &types.AttributeValueMemberS{Value: a.AssistantID},
		"kind":        &types.AttributeValueMemberS{Value: string(a.Kind)},
		"description": &types.AttributeValueMemberS{Value: a.Description},
		"createdAt":   &types.AttributeValueMemberS{Value: formatTime(a.CreatedAt)},
	}
}

func numAttr(n int) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := parseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts, nil
}
