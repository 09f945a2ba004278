package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn: mockDB,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	return mockDB, mock, gormDB
}

func TestNewPoolManager(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	config := DefaultPoolConfig()
	config.HealthCheckInterval = 0 // no background loop in tests

	pm, err := NewPoolManager(gormDB, config, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, pm.DB())

	mock.ExpectClose()
	assert.NoError(t, pm.Close())
}

func TestNewPoolManagerNilDB(t *testing.T) {
	_, err := NewPoolManager(nil, DefaultPoolConfig(), zap.NewNop())
	assert.Error(t, err)
}

func TestPingAfterClose(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	config := DefaultPoolConfig()
	config.HealthCheckInterval = 0

	pm, err := NewPoolManager(gormDB, config, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, pm.Close())
	assert.Error(t, pm.Ping(context.Background()))

	// Close is idempotent.
	assert.NoError(t, pm.Close())
}

func TestWithTransaction(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	config := DefaultPoolConfig()
	config.HealthCheckInterval = 0

	pm, err := NewPoolManager(gormDB, config, zap.NewNop())
	require.NoError(t, err)

	t.Run("Commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectCommit()

		err := pm.WithTransaction(context.Background(), func(tx *gorm.DB) error {
			return nil
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Rollback", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()

		err := pm.WithTransaction(context.Background(), func(tx *gorm.DB) error {
			return assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWithTransactionRetryGivesUp(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	config := DefaultPoolConfig()
	config.HealthCheckInterval = 0

	pm, err := NewPoolManager(gormDB, config, zap.NewNop())
	require.NoError(t, err)

	attempts := 0
	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = pm.WithTransactionRetry(ctx, 2, func(tx *gorm.DB) error {
		attempts++
		return errDeadlock{}
	})
	assert.Error(t, err)
	assert.Equal(t, 2, attempts)
}

type errDeadlock struct{}

func (errDeadlock) Error() string { return "deadlock detected" }

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		msg       string
		retryable bool
	}{
		{"deadlock detected", true},
		{"ERROR: could not serialize access (SQLSTATE 40001)", true},
		{"read tcp: connection reset by peer", true},
		{"Lock wait timeout exceeded", true},
		{"driver: bad connection", true},
		{"duplicate key value violates unique constraint", false},
		{"record not found", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.retryable, isRetryableError(errMsg(tc.msg)), tc.msg)
	}
	assert.False(t, isRetryableError(nil))
}

type errMsg string

func (e errMsg) Error() string { return string(e) }
