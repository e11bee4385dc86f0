package sinks

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresSinkReplacesJobRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sink, err := NewPostgresSink(db, "", newTestLogger())
	require.NoError(t, err)

	id := int64(641)
	batch := sampleBatch(t, &id)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "epias_generation"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "epias_generation" WHERE job_key = $1`)).
		WithArgs(batch.Key).
		WillReturnResult(sqlmock.NewResult(0, 3))
	insert := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO "epias_generation" (job_key, plant_id, recorded_at, total, payload)`))
	insert.ExpectExec().
		WithArgs(batch.Key, int64(641), sqlmock.AnyArg(), 100.0,
			`{"date":"2025-05-01T00:00:00+03:00","naturalGas":60,"total":100}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	insert.ExpectExec().
		WithArgs(batch.Key, int64(641), sqlmock.AnyArg(), 200.0,
			`{"date":"2025-05-01T01:00:00+03:00","hour":"01:00","naturalGas":150,"total":200}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	insert.ExpectExec().
		WithArgs(batch.Key, int64(641), nil, nil, `{"note":"no date"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, sink.Publish(context.Background(), batch))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sink, err := NewPostgresSink(db, "generation_archive", newTestLogger())
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "generation_archive"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "generation_archive"`)).
		WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	err = sink.Publish(context.Background(), sampleBatch(t, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkRejectsBadTableNames(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for _, name := range []string{"drop table x", "1abc", "a;b"} {
		_, err := NewPostgresSink(db, name, nil)
		assert.Error(t, err, name)
	}
}

func TestPostgresConnString(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "epias"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=epias sslmode=disable", cfg.ConnString())
}
