package audit

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tableEpoch = time.Date(2024, 3, 10, 9, 0, 0, 0, time.Local)

var selectColumns = []string{
	"id", "user_id", "username", "domain", "route", "method",
	"model", "model_id", "action",
	"old", "new", "state", "metadata",
	"timestamp",
}

func expectSchema(mock sqlmock.Sqlmock, table string) {
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "` + table + `"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE INDEX IF NOT EXISTS "` + table + `_model_idx"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE INDEX IF NOT EXISTS "` + table + `_timestamp_idx"`)).WillReturnResult(sqlmock.NewResult(0, 0))
}

func newMockTableAdapter(t *testing.T) (*TableAdapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	expectSchema(mock, DefaultTableName)
	adapter, err := NewTableAdapter(context.Background(), db, WithTableClock(func() time.Time { return tableEpoch }))
	require.NoError(t, err)
	return adapter, mock
}

func TestNewTableAdapter(t *testing.T) {
	_, err := NewTableAdapter(context.Background(), nil)
	assert.Error(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectSchema(mock, "post_history")
	adapter, err := NewTableAdapter(context.Background(), db, WithTableName("post_history"))
	require.NoError(t, err)
	assert.Equal(t, "post_history", adapter.Table())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewTableAdapter_SchemaError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

	_, err = NewTableAdapter(context.Background(), db)
	assert.ErrorContains(t, err, "failed to ensure audit_states table")
}

func TestParseDialect(t *testing.T) {
	for _, name := range []string{"postgres", "PostgreSQL", "pq"} {
		d, err := ParseDialect(name)
		require.NoError(t, err)
		assert.Equal(t, DialectPostgres, d)
	}
	d, err := ParseDialect("sqlite")
	require.NoError(t, err)
	assert.Equal(t, DialectSQLite, d)

	_, err = ParseDialect("oracle")
	assert.Error(t, err)
}

func TestTableAdapter_Send(t *testing.T) {
	adapter, mock := newMockTableAdapter(t)

	rec := updatedRecord("app.Post", 3)
	rec.UserID = int64Ptr(9)
	rec.Username = "editor"

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "audit_states" ("user_id", "username", "domain", "route", "method", "model", "model_id", "action", "old", "new", "state", "metadata", "timestamp") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`)).
		WithArgs(
			int64(9), "editor", nil, nil, nil,
			"app.Post", "3", "updated",
			`{"title":"draft"}`, `{"title":"final"}`, "{}", "{}",
			"2024-03-10 09:00:00",
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	persisted, err := adapter.Send(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "42", persisted.ID)
	assert.Equal(t, tableEpoch, persisted.Timestamp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableAdapter_Send_Invalid(t *testing.T) {
	adapter, mock := newMockTableAdapter(t)

	_, err := adapter.Send(context.Background(), NewRecord("app.Post", 3))
	assert.ErrorIs(t, err, ErrNotResolved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableAdapter_GetStates(t *testing.T) {
	adapter, mock := newMockTableAdapter(t)

	rows := sqlmock.NewRows(selectColumns).
		AddRow(int64(2), nil, nil, nil, nil, nil, "app.Post", "3", "created", "{}", `{"title":"a"}`, nil, "{}", tableEpoch).
		AddRow(int64(1), int64(9), "editor", "example.com", "/posts/{id}", "PUT", "app.Post", "3", "updated", `{"title":"a"}`, `{"title":"b"}`, "", "", "2024-03-09 10:00:00")

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "audit_states" ORDER BY id DESC LIMIT $1 OFFSET $2`)).
		WithArgs(10, 0).
		WillReturnRows(rows)

	records, err := adapter.GetStates(context.Background(), ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "2", records[0].ID)
	assert.Equal(t, ActionCreated, records[0].Action())
	assert.Nil(t, records[0].UserID)
	assert.Equal(t, tableEpoch, records[0].Timestamp)

	assert.Equal(t, "editor", records[1].Username)
	assert.Equal(t, "/posts/{id}", records[1].Route)
	assert.Equal(t, Snapshot{"title": "b"}, records[1].Modified())
	assert.Equal(t, time.Date(2024, 3, 9, 10, 0, 0, 0, time.Local), records[1].Timestamp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableAdapter_GetStates_Asc(t *testing.T) {
	adapter, mock := newMockTableAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY id ASC`)).
		WillReturnRows(sqlmock.NewRows(selectColumns))

	records, err := adapter.GetStates(context.Background(), ListOptions{Sort: SortAsc})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NotNil(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableAdapter_GetStateByID(t *testing.T) {
	adapter, mock := newMockTableAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(selectColumns).
			AddRow(int64(7), nil, nil, nil, nil, nil, "app.Post", "3", "deleted", `{"title":"b"}`, "{}", nil, nil, "2024-03-09 10:00:00"))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1`)).
		WithArgs(int64(8)).
		WillReturnError(sql.ErrNoRows)

	rec, err := adapter.GetStateByID(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, ActionDeleted, rec.Action())

	_, err = adapter.GetStateByID(context.Background(), "8")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = adapter.GetStateByID(context.Background(), "not-a-number")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableAdapter_GetStateByModel(t *testing.T) {
	adapter, mock := newMockTableAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE "model" = $1 AND "model_id" = $2 ORDER BY id DESC`)).
		WithArgs("app.Post", "3").
		WillReturnRows(sqlmock.NewRows(selectColumns))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE "model" = $1 ORDER BY id DESC`)).
		WithArgs("app.Post").
		WillReturnRows(sqlmock.NewRows(selectColumns))

	_, err := adapter.GetStateByModel(context.Background(), "app.Post", "3")
	require.NoError(t, err)
	_, err = adapter.GetStateByModel(context.Background(), "app.Post", "")
	require.NoError(t, err)

	_, err = adapter.GetStateByModel(context.Background(), "", "3")
	assert.ErrorIs(t, err, ErrMissingParameter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableAdapter_GetStateByDate(t *testing.T) {
	adapter, mock := newMockTableAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE "timestamp" <= $1 AND "timestamp" >= $2 ORDER BY id DESC`)).
		WithArgs("2024-03-10 23:59:59", "2024-03-01 00:00:00").
		WillReturnRows(sqlmock.NewRows(selectColumns))

	_, err := adapter.GetStateByDate(context.Background(), "2024-03-10", "2024-03-01")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableAdapter_GetSnapshot(t *testing.T) {
	adapter, mock := newMockTableAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(selectColumns).
			AddRow(int64(7), nil, nil, nil, nil, nil, "app.Post", "3", "updated", `{"title":"a"}`, `{"title":"b"}`, nil, nil, "2024-03-09 10:00:00"))

	snapshot, err := adapter.GetSnapshot(context.Background(), "7", true)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{"title": "b"}, snapshot)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableAdapter_CorruptColumn(t *testing.T) {
	adapter, mock := newMockTableAdapter(t)

	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows(selectColumns).
			AddRow(int64(1), nil, nil, nil, nil, nil, "app.Post", "3", "updated", `{broken`, "{}", nil, nil, "2024-03-09 10:00:00"))

	_, err := adapter.GetStates(context.Background(), ListOptions{})
	assert.ErrorIs(t, err, ErrDecodeFailure)
}
