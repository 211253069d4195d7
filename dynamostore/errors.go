package dynamostore

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/datastore"
)

// mapTransactionError maps a failed TransactWriteItems call. changes[i]
// is the change written by the i-th transact item.
func mapTransactionError(err error, changes []datastore.Change) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" || i >= len(changes) {
				continue
			}
			c := changes[i]
			if c.Op == datastore.OpInsert {
				return fmt.Errorf("%w: %s", datastore.ErrAlreadyExists, datastore.Ref(c.Entity))
			}
			return datastore.Conflict(c.Entity, "entity was changed or removed")
		}
	}

	return err
}
