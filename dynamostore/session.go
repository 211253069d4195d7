package dynamostore

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/datastore"
	"github.com/jacentio/arbor/internal/shard"
	"github.com/jacentio/arbor/query"
)

// maxTransactItems is the DynamoDB limit on items per TransactWriteItems.
const maxTransactItems = 100

// attrVersion is the attribute Versioned entities persist their version in.
const attrVersion = "version"

// Session is a unit of work on a Store.
//
// Outside a transaction SaveChanges writes immediately. Inside one, saved
// changes are buffered and written by Commit; they are not visible to
// queries before that.
type Session struct {
	datastore.Staging
	store *Store
	id    string

	inTx    bool
	buffer  datastore.Changes
	flushes int
}

// Query returns the queryable source for an entity type.
func (s *Session) Query(entityType string) query.Executor {
	return executor{session: s, entityType: entityType}
}

// SaveChanges writes the staged changes, or buffers them while a
// transaction is open.
func (s *Session) SaveChanges(ctx context.Context) (int, error) {
	pending := s.Pending()
	if len(pending) == 0 {
		return 0, nil
	}
	if s.inTx {
		for _, c := range pending {
			s.buffer.Stage(c.Op, c.Entity)
		}
		s.ClearPending()
		return len(pending), nil
	}
	if err := s.flush(ctx, pending); err != nil {
		return 0, err
	}
	s.ClearPending()
	return len(pending), nil
}

func (s *Session) Begin(_ context.Context) error {
	if s.inTx {
		return datastore.ErrTransactionActive
	}
	s.inTx = true
	s.buffer.Reset()
	return nil
}

// Commit writes everything saved since Begin.
func (s *Session) Commit(ctx context.Context) error {
	if !s.inTx {
		return datastore.ErrNoTransaction
	}
	s.inTx = false
	changes := s.buffer.List()
	s.buffer.Reset()
	if len(changes) == 0 {
		return nil
	}
	return s.flush(ctx, changes)
}

// Rollback discards the buffered writes and everything staged or tracked
// by the session.
func (s *Session) Rollback(_ context.Context) error {
	if !s.inTx {
		return datastore.ErrNoTransaction
	}
	s.inTx = false
	s.buffer.Reset()
	s.Reset()
	return nil
}

// Recreate drops the table and everything the session tracks.
func (s *Session) Recreate(ctx context.Context) error {
	s.inTx = false
	s.buffer.Reset()
	s.Reset()
	return s.store.Recreate(ctx)
}

// flush writes changes with one TransactWriteItems call per chunk of
// maxTransactItems. Each chunk is atomic on its own.
func (s *Session) flush(ctx context.Context, changes []datastore.Change) error {
	expected, undo := datastore.Stamp(changes, s.store.now())

	items := make([]types.TransactWriteItem, len(changes))
	for i, c := range changes {
		item, err := s.store.writeItem(c, expected[i])
		if err != nil {
			undo()
			return err
		}
		items[i] = item
	}

	for start := 0; start < len(items); start += maxTransactItems {
		end := min(start+maxTransactItems, len(items))
		s.flushes++
		_, err := s.store.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems:      items[start:end],
			ClientRequestToken: aws.String(s.token(changes[start:end])),
		})
		if err != nil {
			undo()
			return mapTransactionError(err, changes[start:end])
		}
	}
	return nil
}

// token derives the idempotency token of a write from the session, the
// write sequence and the written entity versions.
func (s *Session) token(changes []datastore.Change) string {
	parts := []string{s.id, strconv.Itoa(s.flushes)}
	for _, c := range changes {
		parts = append(parts, c.Op.String(), datastore.Ref(c.Entity), strconv.FormatInt(versionOf(c.Entity), 10))
	}
	return shard.Digest(parts...)
}

// writeItem builds the conditional write for a change. Inserts require the
// key to be free; updates and deletes require the item to exist at the
// expected version.
func (s *Store) writeItem(c datastore.Change, expected int64) (types.TransactWriteItem, error) {
	names := map[string]string{"#pk": attrPK}
	var values map[string]types.AttributeValue

	cond := "attribute_not_exists(#pk)"
	if c.Op != datastore.OpInsert {
		cond = "attribute_exists(#pk)"
		if _, ok := c.Entity.(datastore.Versioned); ok {
			cond += " AND #version = :expected"
			names["#version"] = attrVersion
			values = map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
			}
		}
	}

	if c.Op == datastore.OpDelete {
		return types.TransactWriteItem{
			Delete: &types.Delete{
				TableName:                 aws.String(s.config.Table),
				Key:                       s.Key(c.Entity),
				ConditionExpression:       aws.String(cond),
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			},
		}, nil
	}

	item, err := s.Marshal(c.Entity)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:                 aws.String(s.config.Table),
			Item:                      item,
			ConditionExpression:       aws.String(cond),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		},
	}, nil
}

func versionOf(e datastore.Entity) int64 {
	if v, ok := e.(datastore.Versioned); ok {
		return v.EntityVersion()
	}
	return 0
}

var (
	_ datastore.Backend = (*Store)(nil)
	_ datastore.Session = (*Session)(nil)
)
