package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"assistant-hub/internal/domain"
)

type fakeDynamo struct {
	getOut        *dynamodb.GetItemOutput
	getErr        error
	putErr        error
	queryOuts     []*dynamodb.QueryOutput
	queryErr      error
	updateOut     *dynamodb.UpdateItemOutput
	updateErr     error
	lastGetInput  *dynamodb.GetItemInput
	lastPutInput  *dynamodb.PutItemInput
	queryInputs   []*dynamodb.QueryInput
	lastUpdateIn  *dynamodb.UpdateItemInput
	queryCallSeen int
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	// Copy so later pagination mutations do not rewrite history.
	cp := *in
	f.queryInputs = append(f.queryInputs, &cp)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.queryCallSeen >= len(f.queryOuts) {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryOuts[f.queryCallSeen]
	f.queryCallSeen++
	return out, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdateIn = in
	if f.updateOut == nil {
		return &dynamodb.UpdateItemOutput{}, f.updateErr
	}
	return f.updateOut, f.updateErr
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	return c
}

func sAttr(v string) *types.AttributeValueMemberS { return &types.AttributeValueMemberS{Value: v} }

var t0 = time.Date(2026, 2, 27, 11, 0, 0, 0, time.UTC)

func testConversation() domain.Conversation {
	return domain.Conversation{
		ID:          "conv-1",
		UserID:      "user-1",
		AssistantID: "paula",
		Title:       "Conversación con Paula",
		CreatedAt:   t0,
		UpdatedAt:   t0,
	}
}

func testMessage(id string, at time.Time) domain.Message {
	return domain.Message{ID: id, ConversationID: "conv-1", Role: domain.RoleUser, Content: "hola " + id, CreatedAt: at}
}

func mustMessageItem(t *testing.T, msg domain.Message) map[string]types.AttributeValue {
	t.Helper()
	item, err := messageItem(msg)
	require.NoError(t, err)
	return item
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}

func TestFindLatestConversation_HappyPath(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{conversationItem(testConversation())}}}}
	c := mustNewClient(t, db)

	conv, err := c.FindLatestConversation(context.Background(), "user-1", "paula")
	require.NoError(t, err)
	require.Equal(t, testConversation(), conv)

	in := db.queryInputs[0]
	require.Equal(t, "GSI1", *in.IndexName)
	require.False(t, *in.ScanIndexForward)
	require.Equal(t, int32(1), *in.Limit)
	require.Equal(t, "USER#user-1#ASST#paula", in.ExpressionAttributeValues[":gk"].(*types.AttributeValueMemberS).Value)
}

func TestFindLatestConversation_NoRows(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{}}})
	_, err := c.FindLatestConversation(context.Background(), "user-1", "paula")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFindLatestConversation_QueryError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")})
	_, err := c.FindLatestConversation(context.Background(), "user-1", "paula")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "FindLatestConversation")
}

func TestFindLatestConversation_MalformedItem(t *testing.T) {
	item := map[string]types.AttributeValue{"conversationId": sAttr("conv-1")}
	c := mustNewClient(t, &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}})
	_, err := c.FindLatestConversation(context.Background(), "user-1", "paula")
	require.Error(t, err)
	require.Contains(t, err.Error(), "userId")
}

func TestCreateConversation_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.CreateConversation(context.Background(), testConversation()))

	item := db.lastPutInput.Item
	require.Equal(t, "CONV#conv-1", item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, skMeta, item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "USER#user-1#ASST#paula", item["GSI1PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *db.lastPutInput.ConditionExpression)
}

func TestCreateConversation_MissingFields(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.CreateConversation(context.Background(), domain.Conversation{ID: "conv-1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestTouchConversation_UpdatesSortKey(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	at := t0.Add(time.Hour)
	require.NoError(t, c.TouchConversation(context.Background(), "conv-1", at))
	require.Equal(t, "SET updatedAt = :u, GSI1SK = :u", *db.lastUpdateIn.UpdateExpression)
	require.Equal(t, formatTime(at), db.lastUpdateIn.ExpressionAttributeValues[":u"].(*types.AttributeValueMemberS).Value)
}

func TestTouchConversation_MissingRow(t *testing.T) {
	msg := "The conditional request failed"
	db := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{Message: &msg}}
	c := mustNewClient(t, db)
	err := c.TouchConversation(context.Background(), "conv-1", t0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListMessages_FollowsPagination(t *testing.T) {
	lastKey := map[string]types.AttributeValue{"PK": sAttr("CONV#conv-1"), "SK": sAttr("MSG#x")}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{mustMessageItem(t, testMessage("a", t0))}, LastEvaluatedKey: lastKey},
		{Items: []map[string]types.AttributeValue{mustMessageItem(t, testMessage("b", t0.Add(time.Second)))}},
	}}
	c := mustNewClient(t, db)

	msgs, err := c.ListMessages(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "a", msgs[0].ID)
	require.Equal(t, "b", msgs[1].ID)
	require.Len(t, db.queryInputs, 2)
	require.Nil(t, db.queryInputs[0].ExclusiveStartKey)
	require.Equal(t, lastKey, db.queryInputs[1].ExclusiveStartKey)
	require.True(t, *db.queryInputs[0].ScanIndexForward)
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *db.queryInputs[0].KeyConditionExpression)
}

func TestListMessages_EmptyResult(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{}}})
	msgs, err := c.ListMessages(context.Background(), "conv-1")
	require.NoError(t, err)
	require.NotNil(t, msgs)
	require.Empty(t, msgs)
}

func TestListMessages_QueryError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("boom")})
	_, err := c.ListMessages(context.Background(), "conv-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ListMessages")
}

func TestInsertMessage_RoundTripsMetadata(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	msg := testMessage("m1", t0)
	msg.Role = domain.RoleAssistant
	msg.Metadata = &domain.MessageMetadata{Kind: "task", TaskStatus: "completed", Actions: []string{"a", "b"}}

	require.NoError(t, c.InsertMessage(context.Background(), msg))
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *db.lastPutInput.ConditionExpression)
	require.True(t, IsMessageItem(db.lastPutInput.Item))

	decoded, err := DecodeMessageItem(db.lastPutInput.Item)
	require.NoError(t, err)
	require.Equal(t, msg, decoded)
}

func TestInsertMessage_MissingIDs(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.InsertMessage(context.Background(), domain.Message{Content: "x"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestInsertMessage_DynamoError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")})
	err := c.InsertMessage(context.Background(), testMessage("m1", t0))
	require.Error(t, err)
	require.Contains(t, err.Error(), "InsertMessage")
}

func TestGetUsage_MissingRow(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	_, err := c.GetUsage(context.Background(), "user-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetUsage_HappyPath(t *testing.T) {
	item := usageItem(domain.UsageMetrics{UserID: "user-1", TasksCompleted: 4, TimeSavedHours: 7, UpdatedAt: t0})
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)

	m, err := c.GetUsage(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 4, m.TasksCompleted)
	require.Equal(t, 7, m.TimeSavedHours)
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestGetUsage_MalformedCounter(t *testing.T) {
	item := map[string]types.AttributeValue{"userId": sAttr("user-1"), "tasksCompleted": sAttr("bad")}
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}})
	_, err := c.GetUsage(context.Background(), "user-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a number")
}

func TestAddUsage_WithoutUpsertIsConditional(t *testing.T) {
	out := &dynamodb.UpdateItemOutput{Attributes: usageItem(domain.UsageMetrics{UserID: "user-1", Conversations: 1, TasksCompleted: 1, TimeSavedHours: 2, UpdatedAt: t0})}
	db := &fakeDynamo{updateOut: out}
	c := mustNewClient(t, db)

	m, err := c.AddUsage(context.Background(), "user-1", domain.UsageDelta{Conversations: 1, TasksCompleted: 1, TimeSavedHours: 2}, false)
	require.NoError(t, err)
	require.Equal(t, 1, m.TasksCompleted)
	require.Equal(t, "attribute_exists(PK)", *db.lastUpdateIn.ConditionExpression)
	require.Equal(t, types.ReturnValueAllNew, db.lastUpdateIn.ReturnValues)
	require.Equal(t, "2", db.lastUpdateIn.ExpressionAttributeValues[":h"].(*types.AttributeValueMemberN).Value)
}

func TestAddUsage_Upsert(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	_, err := c.AddUsage(context.Background(), "user-1", domain.UsageDelta{TasksCompleted: 1}, true)
	require.NoError(t, err)
	require.Nil(t, db.lastUpdateIn.ConditionExpression)
}

func TestAddUsage_MissingRowToleratedAsNotFound(t *testing.T) {
	msg := "The conditional request failed"
	c := mustNewClient(t, &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{Message: &msg}})
	_, err := c.AddUsage(context.Background(), "user-1", domain.UsageDelta{TasksCompleted: 1}, false)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAddUsage_DynamoError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{updateErr: errors.New("internal server error")})
	_, err := c.AddUsage(context.Background(), "user-1", domain.UsageDelta{TasksCompleted: 1}, true)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "AddUsage")
}

func TestResetUsage_WritesZeroes(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	m, err := c.ResetUsage(context.Background(), "user-1")
	require.NoError(t, err)
	require.Zero(t, m.TasksCompleted)
	require.Equal(t, "0", db.lastPutInput.Item["tasksCompleted"].(*types.AttributeValueMemberN).Value)
	require.Nil(t, db.lastPutInput.ConditionExpression)
}

func TestActivities_InsertAndList(t *testing.T) {
	a := domain.Activity{ID: "act-1", UserID: "user-1", AssistantID: "paula", Kind: domain.ActivityTaskCompleted, Description: "headline", CreatedAt: t0}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{activityItem(a)}}}}
	c := mustNewClient(t, db)

	require.NoError(t, c.InsertActivity(context.Background(), a))
	require.Contains(t, db.lastPutInput.Item["SK"].(*types.AttributeValueMemberS).Value, "ACT#")

	acts, err := c.ListActivities(context.Background(), "user-1", 5)
	require.NoError(t, err)
	require.Equal(t, []domain.Activity{a}, acts)
	require.False(t, *db.queryInputs[0].ScanIndexForward)
	require.Equal(t, int32(5), *db.queryInputs[0].Limit)
}

func TestInsertActivity_MissingIDs(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	require.Error(t, c.InsertActivity(context.Background(), domain.Activity{}))
}

func TestMsgSK_SortsChronologically(t *testing.T) {
	early := msgSK(time.Date(2026, 2, 25, 10, 0, 0, 100_000_000, time.UTC), "z")
	late := msgSK(time.Date(2026, 2, 25, 10, 0, 0, 120_000_000, time.UTC), "a")
	require.Less(t, early, late)
	require.Contains(t, early, "MSG#2026-02-25T10:00:00.100000000Z#z")
}

func TestConvPK(t *testing.T) {
	require.Equal(t, "CONV#my-conv", convPK("my-conv"))
}
