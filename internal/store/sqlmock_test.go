package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"brokerage-mail-ingestor/internal/models"
	"brokerage-mail-ingestor/internal/store"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return store.New(sqlx.NewDb(db, "sqlmock")), mock
}

func TestInsertRecordMapsPostgresUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO inbound_emails").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

	rec := &models.InboundEmailRecord{ID: "id-1", MessageID: "<m@x>", ProcessedStatus: models.StatusNew}
	err := s.InsertRecord(context.Background(), rec)

	require.ErrorIs(t, err, store.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRecordWrapsDriverErrors(t *testing.T) {
	s, mock := newMockStore(t)
	driverErr := errors.New("connection reset by peer")
	mock.ExpectExec("INSERT INTO inbound_emails").WillReturnError(driverErr)

	rec := &models.InboundEmailRecord{ID: "id-1", MessageID: "<m@x>", ProcessedStatus: models.StatusNew}
	err := s.InsertRecord(context.Background(), rec)

	require.ErrorIs(t, err, driverErr)
	require.NotErrorIs(t, err, store.ErrDuplicate)
}

func TestUpdateStatusConflictWhenNoRowMatches(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE inbound_emails").
		WithArgs("linked", sqlmock.AnyArg(), nil, nil, "id-1", "new").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateStatus(context.Background(), "id-1", models.StatusLinked, "", "", time.Now())

	require.ErrorIs(t, err, store.ErrStatusConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByMessageIDPropagatesQueryErrors(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM inbound_emails WHERE message_id").
		WillReturnError(errors.New("timeout"))

	rec, err := s.FindByMessageID(context.Background(), "<m@x>")

	require.Error(t, err)
	require.Nil(t, rec)
}

func TestAppendAuditFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO ingestion_audit_log").WillReturnError(errors.New("disk full"))

	err := s.AppendAudit(context.Background(), models.AuditEntry{ID: "a", Stage: models.StageDedup, Status: models.AuditInfo})

	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCaseRollsBackOnLinkFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO cases").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO case_emails").WillReturnError(errors.New("foreign key constraint failed"))
	mock.ExpectRollback()

	c := &models.Case{ID: "case-1", BrokerID: "b", Status: models.CaseStatusNew}
	err := s.CreateCase(context.Background(), c, "email-1", []models.CaseHistoryEvent{{ID: "e", CaseID: "case-1"}})

	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
