package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"carwash-backend/internal/apperr"
	"carwash-backend/internal/model"
)

// A helper function to create a mock database connection.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	return gormDB, mock
}

func TestIsTransient(t *testing.T) {
	testCases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked"), true},
		{errors.New("ERROR: could not serialize access (SQLSTATE 40001)"), true},
		{errors.New("ERROR: deadlock detected (SQLSTATE 40P01)"), true},
		{errors.New("duplicate key value"), false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, IsTransient(tc.err), "%v", tc.err)
	}
}

func TestWithRetry_RecoversFromTransientError(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB, WithRetry(3, time.Millisecond))

	update := regexp.QuoteMeta(`UPDATE "sessions" SET`)
	mock.ExpectExec(update).WillReturnError(errors.New("ERROR: could not serialize access (SQLSTATE 40001)"))
	mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SaveSessionProgress(context.Background(), &model.Session{ID: 7, TotalBalance: 10, CashBalance: 10})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetry_GivesUpAfterBoundedAttempts(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB, WithRetry(2, time.Millisecond))

	update := regexp.QuoteMeta(`UPDATE "sessions" SET`)
	mock.ExpectExec(update).WillReturnError(errors.New("deadlock detected (SQLSTATE 40P01)"))
	mock.ExpectExec(update).WillReturnError(errors.New("deadlock detected (SQLSTATE 40P01)"))

	err := s.SaveSessionProgress(context.Background(), &model.Session{ID: 7})
	assert.ErrorIs(t, err, apperr.ErrTransientStorage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetry_PermanentErrorIsNotRetried(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB, WithRetry(3, time.Millisecond))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "sessions" SET`)).WillReturnError(errors.New("syntax error"))

	err := s.SaveSessionProgress(context.Background(), &model.Session{ID: 7})
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperr.ErrTransientStorage)
	assert.NoError(t, mock.ExpectationsWereMet())
}
