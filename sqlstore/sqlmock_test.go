package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/arbor/datastore"
	"github.com/jacentio/arbor/issue"
	"github.com/jacentio/arbor/predicate"
	"github.com/jacentio/arbor/query"
)

type track struct {
	datastore.Base
	Title string `json:"title"`
	Plays int    `json:"plays"`
	Album *album `json:"album,omitempty"`
}

type album struct {
	Tag string `json:"tag"`
}

func (*track) EntityType() string { return "track" }

var trackTitle = predicate.NewField("title", func(t *track) any { return t.Title })

const (
	insertSQL = "INSERT INTO entities (entity_type, id, archive_depth, version, body) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (entity_type, id) DO NOTHING"
	updateSQL = "UPDATE entities SET archive_depth = $1, version = $2, body = $3 WHERE entity_type = $4 AND id = $5 AND version = $6"
	deleteSQL = "DELETE FROM entities WHERE entity_type = $1 AND id = $2 AND version = $3"
)

func newMockSession(t *testing.T) (*Session, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	schema := datastore.NewSchema()
	datastore.Register(schema, "track", func() *track { return &track{} }).Archivable()

	clock := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(db, Postgres, schema, WithClock(func() time.Time { return clock }))
	sess, err := s.NewSession(context.Background())
	require.NoError(t, err)
	return sess.(*Session), mock
}

func TestWrite_Insert(t *testing.T) {
	ctx := context.Background()
	sess, mock := newMockSession(t)

	mock.ExpectBegin()
	mock.ExpectExec(insertSQL).
		WithArgs("track", "t1", int64(0), int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tr := &track{Base: datastore.Base{ID: "t1"}, Title: "intro"}
	require.NoError(t, sess.Add(ctx, tr))
	n, err := sess.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, sess.Pending())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWrite_InsertExisting(t *testing.T) {
	ctx := context.Background()
	sess, mock := newMockSession(t)

	mock.ExpectBegin()
	mock.ExpectExec(insertSQL).
		WithArgs("track", "t1", int64(0), int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tr := &track{Base: datastore.Base{ID: "t1"}}
	require.NoError(t, sess.Add(ctx, tr))
	_, err := sess.SaveChanges(ctx)
	assert.True(t, errors.Is(err, datastore.ErrAlreadyExists), "got %v", err)
	assert.Equal(t, int64(0), tr.Version)
	assert.Len(t, sess.Pending(), 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWrite_UpdateConflict(t *testing.T) {
	ctx := context.Background()
	sess, mock := newMockSession(t)

	mock.ExpectBegin()
	mock.ExpectExec(updateSQL).
		WithArgs(int64(0), int64(3), sqlmock.AnyArg(), "track", "t1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tr := &track{Base: datastore.Base{ID: "t1", Version: 2}}
	require.NoError(t, sess.Attach(ctx, tr))
	_, err := sess.SaveChanges(ctx)
	assert.True(t, errors.Is(err, issue.ErrConcurrencyConflict), "got %v", err)
	assert.Equal(t, int64(2), tr.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWrite_Delete(t *testing.T) {
	ctx := context.Background()
	sess, mock := newMockSession(t)

	mock.ExpectBegin()
	mock.ExpectExec(deleteSQL).
		WithArgs("track", "t1", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, sess.Remove(ctx, &track{Base: datastore.Base{ID: "t1", Version: 4}}))
	_, err := sess.SaveChanges(ctx)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWrite_ExecError(t *testing.T) {
	ctx := context.Background()
	sess, mock := newMockSession(t)

	boom := errors.New("connection reset")
	mock.ExpectBegin()
	mock.ExpectExec(insertSQL).WillReturnError(boom)
	mock.ExpectRollback()

	require.NoError(t, sess.Add(ctx, &track{Base: datastore.Base{ID: "t1"}}))
	_, err := sess.SaveChanges(ctx)
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveChanges_InTransactionUsesSavepoint(t *testing.T) {
	ctx := context.Background()
	sess, mock := newMockSession(t)

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT arbor_save").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(insertSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT arbor_save").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT arbor_save").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(insertSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("RELEASE SAVEPOINT arbor_save").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, sess.Begin(ctx))

	require.NoError(t, sess.Add(ctx, &track{Base: datastore.Base{ID: "t1"}}))
	_, err := sess.SaveChanges(ctx)
	require.ErrorIs(t, err, datastore.ErrAlreadyExists)
	sess.ClearPending()

	require.NoError(t, sess.Add(ctx, &track{Base: datastore.Base{ID: "t2"}}))
	_, err = sess.SaveChanges(ctx)
	require.NoError(t, err)

	require.NoError(t, sess.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRollback_ForgetsTrackedEntities(t *testing.T) {
	ctx := context.Background()
	sess, mock := newMockSession(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	require.NoError(t, sess.Begin(ctx))
	require.NoError(t, sess.Add(ctx, &track{Base: datastore.Base{ID: "t1"}}))
	require.NoError(t, sess.Rollback(ctx))
	assert.Empty(t, sess.Pending())
	assert.ErrorIs(t, sess.Rollback(ctx), datastore.ErrNoTransaction)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_List(t *testing.T) {
	ctx := context.Background()
	sess, mock := newMockSession(t)

	mock.ExpectQuery("SELECT body FROM entities WHERE entity_type = $1 AND archive_depth = 0 ORDER BY seq ASC").
		WithArgs("track").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).
			AddRow(`{"id":"t1","title":"intro","version":1}`).
			AddRow(`{"id":"t2","title":"bridge","version":3}`))

	items, err := query.New[*track](sess.Query("track")).List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "intro", items[0].Title)
	assert.Equal(t, int64(3), items[1].Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_CountAndAny(t *testing.T) {
	ctx := context.Background()
	sess, mock := newMockSession(t)

	mock.ExpectQuery("SELECT COUNT(*) FROM (SELECT 1 AS one FROM entities WHERE entity_type = $1 AND archive_depth = 0 AND (body->>$2::text) = $3 ORDER BY seq ASC) AS page").
		WithArgs("track", "title", "intro").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("SELECT EXISTS (SELECT 1 FROM entities WHERE entity_type = $1 ORDER BY seq ASC LIMIT 1)").
		WithArgs("track").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	n, err := query.New[*track](sess.Query("track")).Where(trackTitle.Eq("intro")).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	found, err := query.New[*track](sess.Query("track")).IgnoreArchivedFilter().Take(1).Any(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_QueryError(t *testing.T) {
	sess, mock := newMockSession(t)

	mock.ExpectQuery("SELECT body FROM entities WHERE entity_type = $1 AND archive_depth = 0 ORDER BY seq ASC").
		WillReturnError(errors.New("relation \"entities\" does not exist"))

	_, err := query.New[*track](sess.Query("track")).List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query track")
}
