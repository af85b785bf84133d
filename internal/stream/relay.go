// Package stream relays message inserts from the table's change stream to
// the live feed.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"assistant-hub/internal/feed"
	"assistant-hub/internal/metrics"
	"assistant-hub/internal/repository"
)

const eventInsert = "INSERT"

type Relay struct {
	pub     feed.Publisher
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewRelay(pub feed.Publisher, log *slog.Logger, m *metrics.Metrics) (*Relay, error) {
	if pub == nil {
		return nil, errors.New("stream: publisher must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Relay{pub: pub, log: log, metrics: m}, nil
}

// Handle publishes every inserted message of the batch. Records that
// cannot be decoded are skipped; records whose publish fails are
// reported back as batch item failures so Lambda retries only those.
func (r *Relay) Handle(ctx context.Context, ev events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var resp events.DynamoDBEventResponse
	for _, rec := range ev.Records {
		if rec.EventName != eventInsert {
			continue
		}
		item, err := convertImage(rec.Change.NewImage)
		if err != nil {
			r.log.WarnContext(ctx, "skipping unreadable stream record", "event_id", rec.EventID, "err", err)
			r.metrics.RecordFeedEvent("stream_skipped")
			continue
		}
		if !repository.IsMessageItem(item) {
			continue
		}
		msg, err := repository.DecodeMessageItem(item)
		if err != nil {
			r.log.WarnContext(ctx, "skipping malformed message record", "event_id", rec.EventID, "err", err)
			r.metrics.RecordFeedEvent("stream_skipped")
			continue
		}
		if err := r.pub.Publish(ctx, msg); err != nil {
			r.log.ErrorContext(ctx, "failed to publish message", "message", msg.ID, "conversation", msg.ConversationID, "err", err)
			r.metrics.RecordFeedEvent("stream_failed")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.DynamoDBBatchItemFailure{
				ItemIdentifier: rec.Change.SequenceNumber,
			})
			continue
		}
		r.metrics.RecordFeedEvent("stream_published")
	}
	return resp, nil
}

func convertImage(image map[string]events.DynamoDBAttributeValue) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		av, err := convertValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		out[k] = av
	}
	return out, nil
}

func convertValue(v events.DynamoDBAttributeValue) (types.AttributeValue, error) {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}, nil
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}, nil
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}, nil
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}, nil
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}, nil
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}, nil
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}, nil
	case events.DataTypeMap:
		m, err := convertImage(v.Map())
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case events.DataTypeList:
		src := v.List()
		list := make([]types.AttributeValue, 0, len(src))
		for _, e := range src {
			av, err := convertValue(e)
			if err != nil {
				return nil, err
			}
			list = append(list, av)
		}
		return &types.AttributeValueMemberL{Value: list}, nil
	default:
		return nil, fmt.Errorf("unsupported data type %v", v.DataType())
	}
}
