package postgres_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceglabs/ceg/internal/persistence/postgres"
)

func TestHealth_PingSucceeds(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()

	sqlxDB := sqlx.NewDb(mockDB, "postgres")
	health := postgres.NewHealth(sqlxDB)

	mock.ExpectPing()

	check := health.Health(context.Background())
	assert.True(t, check.Healthy)
	assert.Empty(t, check.Errors)
	assert.GreaterOrEqual(t, check.ResponseTimeMS, int64(0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealth_PingFails(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()

	sqlxDB := sqlx.NewDb(mockDB, "postgres")
	health := postgres.NewHealth(sqlxDB)

	mock.ExpectPing().WillReturnError(sqlmock.ErrCancelled)

	check := health.Health(context.Background())
	assert.False(t, check.Healthy)
	require.Len(t, check.Errors, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealth_Ping_PropagatesError(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()

	sqlxDB := sqlx.NewDb(mockDB, "postgres")
	health := postgres.NewHealth(sqlxDB)

	mock.ExpectPing().WillReturnError(sqlmock.ErrCancelled)

	err = health.Ping(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
