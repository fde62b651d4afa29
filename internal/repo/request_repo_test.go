package repo

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visitsafe/server/internal/model"
)

func requestRows(status model.Status, notificationSent bool) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "residency_id", "visitor_name", "visitor_phone", "purpose", "vehicle_number",
		"flat_id", "status", "approval_token", "notification_sent",
		"action_by", "approved_by", "approved_at", "rejected_by", "rejected_at",
		"entered_at", "exited_at", "created_at", "updated_at",
	}).AddRow(
		"req-1", "res-1", "John", "555", "Delivery", "",
		"F1", string(status), "tok-1", notificationSent,
		"", "", nil, "", nil,
		nil, nil, now, now,
	)
}

func TestTransition_approvesPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM visitor_requests WHERE residency_id").
		WithArgs("res-1", "req-1").
		WillReturnRows(requestRows(model.StatusPending, false))
	mock.ExpectExec("UPDATE visitor_requests").
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := NewRequestRepo(db)
	err = r.Transition(context.Background(), "res-1", "req-1", model.StatusApproved, "alice")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_conflictOnTerminalState(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM visitor_requests WHERE residency_id").
		WithArgs("res-1", "req-1").
		WillReturnRows(requestRows(model.StatusRejected, true))

	r := NewRequestRepo(db)
	err = r.Transition(context.Background(), "res-1", "req-1", model.StatusApproved, "alice")
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_conflictWhenRaced(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Read sees pending, but the conditional write misses because another
	// transition landed in between.
	mock.ExpectQuery("SELECT (.+) FROM visitor_requests WHERE residency_id").
		WithArgs("res-1", "req-1").
		WillReturnRows(requestRows(model.StatusPending, false))
	mock.ExpectExec("UPDATE visitor_requests").
		WillReturnResult(sqlmock.NewResult(0, 0))

	r := NewRequestRepo(db)
	err = r.Transition(context.Background(), "res-1", "req-1", model.StatusRejected, "bob")
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_notFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM visitor_requests WHERE residency_id").
		WithArgs("res-1", "missing").
		WillReturnError(sql.ErrNoRows)

	r := NewRequestRepo(db)
	err = r.Transition(context.Background(), "res-1", "missing", model.StatusApproved, "alice")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNotificationSent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE visitor_requests").
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := NewRequestRepo(db)
	require.NoError(t, r.MarkNotificationSent(context.Background(), "res-1", "req-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindResidencyID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT residency_id FROM visitor_requests").
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"residency_id"}).AddRow("res-1"))

	r := NewRequestRepo(db)
	residencyID, err := r.FindResidencyID(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "res-1", residencyID)

	mock.ExpectQuery("SELECT residency_id FROM visitor_requests").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"residency_id"}))
	_, err = r.FindResidencyID(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
