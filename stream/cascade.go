// Package stream provides DynamoDB Streams handlers for deferred cascades.
//
// With a deferred cascade engine, archiving or restoring an entity only
// changes the entity itself. The stream record of that change is picked up
// here and the archive depth delta is applied to its direct dependents,
// whose own stream records carry the cascade one level further.
package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/cascade"
	"github.com/jacentio/arbor/datastore"
	"github.com/jacentio/arbor/dynamostore"
)

// Handler processes DynamoDB stream events for deferred cascades.
type Handler struct {
	store  *dynamostore.Store
	engine *cascade.Engine
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(s *dynamostore.Store, engine *cascade.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  s,
		engine: engine,
		logger: logger,
	}
}

// HandleCascade processes DynamoDB stream events to propagate archive depth
// changes to dependents. It is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleCascade(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	// Only MODIFY events can change an archive depth
	if record.EventName != "MODIFY" {
		return nil
	}
	if len(record.Change.OldImage) == 0 || len(record.Change.NewImage) == 0 {
		return nil
	}

	entityType := getStringAttr(record.Change.NewImage, "entity_type")
	if !h.store.Schema().Has(entityType) || !h.engine.Registry().HasChildren(entityType) {
		return nil
	}

	before, err := h.store.Unmarshal(ConvertImage(record.Change.OldImage))
	if err != nil {
		return fmt.Errorf("decode old image: %w", err)
	}
	after, err := h.store.Unmarshal(ConvertImage(record.Change.NewImage))
	if err != nil {
		return fmt.Errorf("decode new image: %w", err)
	}

	sess, err := h.store.NewSession(ctx)
	if err != nil {
		return err
	}

	delta := h.engine.Depth(sess, after) - h.engine.Depth(sess, before)
	if delta == 0 {
		return nil
	}

	h.logger.Info("processing cascade",
		"entityRef", datastore.Ref(after),
		"delta", delta,
	)

	n, err := h.engine.Propagate(ctx, sess, after, delta)
	if err != nil {
		return fmt.Errorf("propagate %s: %w", datastore.Ref(after), err)
	}
	if _, err := sess.SaveChanges(ctx); err != nil {
		return fmt.Errorf("save dependents of %s: %w", datastore.Ref(after), err)
	}

	h.logger.Info("cascade completed",
		"entityRef", datastore.Ref(after),
		"dependentsUpdated", n,
	)
	return nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// ConvertImage converts a DynamoDB stream image to an item.
func ConvertImage(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		if av := convertValue(v); av != nil {
			result[k] = av
		}
	}
	return result
}

func convertValue(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}
	case events.DataTypeList:
		list := make([]types.AttributeValue, 0, len(v.List()))
		for _, item := range v.List() {
			if av := convertValue(item); av != nil {
				list = append(list, av)
			}
		}
		return &types.AttributeValueMemberL{Value: list}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: ConvertImage(v.Map())}
	}
	return nil
}
