package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetention_PurgeBatches(t *testing.T) {
	db, mock := newMock(t)
	r := NewRetention(db, RetentionPolicy{CompletedTasks: 24 * time.Hour, LedgerEntries: 48 * time.Hour}, time.Hour)
	r.pause = 0
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM scheduled_tasks").
		WithArgs(now.Add(-24*time.Hour), retentionBatchSize).
		WillReturnResult(sqlmock.NewResult(0, retentionBatchSize))
	mock.ExpectExec("DELETE FROM scheduled_tasks").
		WithArgs(now.Add(-24*time.Hour), retentionBatchSize).
		WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectExec("DELETE FROM ledger_entries").
		WithArgs(now.Add(-48*time.Hour), retentionBatchSize).
		WillReturnResult(sqlmock.NewResult(0, 0))

	counts, err := r.Purge(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(retentionBatchSize+7), counts["scheduled_tasks"])
	assert.Equal(t, int64(0), counts["ledger_entries"])
}

func TestRetention_ZeroPolicyKeepsEverything(t *testing.T) {
	db, _ := newMock(t)
	r := NewRetention(db, RetentionPolicy{}, 0)

	counts, err := r.Purge(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, counts)
	assert.Equal(t, 6*time.Hour, r.interval)
}

func TestRetention_MissingTableSkipped(t *testing.T) {
	db, mock := newMock(t)
	r := NewRetention(db, RetentionPolicy{LedgerEntries: time.Hour}, time.Hour)

	mock.ExpectExec("DELETE FROM ledger_entries").
		WillReturnError(errors.New(`pq: relation "ledger_entries" does not exist`))

	counts, err := r.Purge(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts["ledger_entries"])
}

func TestRetention_ErrorStopsPurge(t *testing.T) {
	db, mock := newMock(t)
	r := NewRetention(db, RetentionPolicy{CompletedTasks: time.Hour, LedgerEntries: time.Hour}, time.Hour)

	mock.ExpectExec("DELETE FROM scheduled_tasks").WillReturnError(errors.New("connection reset"))

	_, err := r.Purge(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "purge scheduled_tasks")
}
