// Package dynamostore is a DynamoDB entity store.
//
// All entity types share one table. Items are keyed by a sharded partition
// key ("<type>#<shard>") and the entity id as sort key; the entity itself is
// stored with its json attribute names. Reading a type fans out over its
// shards. Translatable filters are sent as a FilterExpression and every
// result is re-evaluated in memory, so opaque predicates, ordering and
// pagination behave exactly as in the other stores.
//
// Predicate field names must be the persisted attribute names, and fields
// used in filters must not be omitted when empty.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/datastore"
	"github.com/jacentio/arbor/internal/shard"
)

// API is the subset of the DynamoDB client used by the Store.
type API interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DeleteTable(ctx context.Context, in *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Store is a DynamoDB Backend.
type Store struct {
	client API
	schema *datastore.Schema
	config Config
	now    func() time.Time
}

// New creates a new Store instance.
func New(client API, schema *datastore.Schema, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		schema: schema,
		config: config,
		now:    time.Now,
	}
}

// NewFromEnv creates a Store with a client built from the default AWS
// configuration chain. A non-empty endpoint overrides the service endpoint
// (e.g., DynamoDB Local).
func NewFromEnv(ctx context.Context, schema *datastore.Schema, config Config, endpoint string) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return New(client, schema, config), nil
}

func (s *Store) Schema() *datastore.Schema { return s.schema }

// Config returns the validated configuration.
func (s *Store) Config() Config { return s.config }

// NewSession opens a session on the store.
func (s *Store) NewSession(_ context.Context) (datastore.Session, error) {
	return &Session{Staging: datastore.NewStaging(s.schema), store: s, id: datastore.NewID()}, nil
}

// Recreate deletes the entity table if it exists and creates it again,
// with a stream of old and new images for deferred cascades.
func (s *Store) Recreate(ctx context.Context) error {
	_, err := s.client.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(s.config.Table),
	})
	var notFound *types.ResourceNotFoundException
	switch {
	case err == nil:
		waiter := dynamodb.NewTableNotExistsWaiter(s.client)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(s.config.Table),
		}, s.config.WaitTimeout); err != nil {
			return fmt.Errorf("wait for table %s deletion: %w", s.config.Table, err)
		}
	case errors.As(err, &notFound):
	default:
		return fmt.Errorf("delete table %s: %w", s.config.Table, err)
	}

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.config.Table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrPK), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(attrSK), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrPK), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrSK), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
		StreamSpecification: &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewAndOldImages,
		},
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.config.Table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.config.Table),
	}, s.config.WaitTimeout); err != nil {
		return fmt.Errorf("wait for table %s: %w", s.config.Table, err)
	}
	return nil
}

const (
	attrPK   = "pk"
	attrSK   = "sk"
	attrType = "entity_type"
)

func withJSONTags(o *attributevalue.EncoderOptions) { o.TagKey = "json" }
func fromJSONTags(o *attributevalue.DecoderOptions) { o.TagKey = "json" }

// Marshal converts an entity to its DynamoDB item, keys included.
func (s *Store) Marshal(e datastore.Entity) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMapWithOptions(e, withJSONTags)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", datastore.Ref(e), err)
	}
	item[attrPK] = &types.AttributeValueMemberS{Value: s.partitionKey(e)}
	item[attrSK] = &types.AttributeValueMemberS{Value: e.EntityID()}
	item[attrType] = &types.AttributeValueMemberS{Value: e.EntityType()}
	return item, nil
}

// Unmarshal converts a DynamoDB item back into an entity of its stored type.
func (s *Store) Unmarshal(item map[string]types.AttributeValue) (datastore.Entity, error) {
	typ, ok := item[attrType].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("arbor: item has no %s attribute", attrType)
	}
	e, err := s.schema.New(typ.Value)
	if err != nil {
		return nil, err
	}
	if err := attributevalue.UnmarshalMapWithOptions(item, e, fromJSONTags); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", typ.Value, err)
	}
	return e, nil
}

func (s *Store) partitionKey(e datastore.Entity) string {
	return shard.PartitionKey(e.EntityType(), e.EntityID(), s.config.NumShards)
}

// Key returns the primary key of an entity.
func (s *Store) Key(e datastore.Entity) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: s.partitionKey(e)},
		attrSK: &types.AttributeValueMemberS{Value: e.EntityID()},
	}
}
