package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"brokerage-mail-ingestor/internal/models"
	"brokerage-mail-ingestor/internal/store"
	"brokerage-mail-ingestor/internal/testutil"
)

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := store.Open(context.Background(), models.DatabaseConfig{Driver: "mysql", URL: "x"})

	var cfgErr *models.ConfigError
	require.True(t, errors.As(err, &cfgErr))
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := testutil.NewTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestInsertAndFindRecord(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	body := "Adjunto póliza"
	email := &models.Email{
		MessageID:          "<m1@broker.cl>",
		From:               &models.Address{Email: "ana@broker.cl", Name: "Ana"},
		To:                 []models.Address{{Email: "tramites@portal.cl"}},
		Cc:                 []models.Address{{Email: "jefe@broker.cl"}},
		Subject:            "RE: Póliza",
		SubjectNormalized:  "Póliza",
		DateSent:           now.Add(-time.Minute),
		BodyText:           &body,
		BodyTextNormalized: &body,
		Attachments:        []models.Attachment{{Filename: "a.pdf", SizeBytes: 10}, {Filename: "b.pdf", SizeBytes: 5}},
		UID:                42,
		Folder:             "INBOX",
	}
	rec := models.NewRecord(uuid.NewString(), email, now)
	require.NoError(t, s.InsertRecord(ctx, rec))

	found, err := s.FindByMessageID(ctx, "<m1@broker.cl>")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, rec.ID, found.ID)
	require.Equal(t, "ana@broker.cl", found.Sender())
	require.Equal(t, models.StringList{"tramites@portal.cl"}, found.ToEmails)
	require.Equal(t, models.StringList{"jefe@broker.cl"}, found.CcEmails)
	require.Equal(t, 2, found.AttachmentsCount)
	require.Equal(t, int64(15), found.AttachmentsTotalBytes)
	require.Equal(t, "42", found.IMAPUID)
	require.Equal(t, models.StatusNew, found.ProcessedStatus)
	require.Nil(t, found.ProcessedAt)
	require.Nil(t, found.BodyHTML)
	require.True(t, found.DateSent.Equal(now.Add(-time.Minute)))

	missing, err := s.FindByMessageID(ctx, "<other@broker.cl>")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestInsertDuplicateMessageID(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	now := time.Now()

	testutil.SeedRecord(t, s, "<dup@broker.cl>", "ana@broker.cl", now)

	again := models.NewRecord(uuid.NewString(), &models.Email{MessageID: "<dup@broker.cl>", DateSent: now}, now)
	err := s.InsertRecord(ctx, again)
	require.ErrorIs(t, err, store.ErrDuplicate)
}

func TestUpdateStatusTransitionsOnce(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	now := time.Now()
	rec := testutil.SeedRecord(t, s, "<m2@broker.cl>", "ana@broker.cl", now)

	require.NoError(t, s.UpdateStatus(ctx, rec.ID, models.StatusError, models.ErrorCodeCaseCreationFailed, "no broker", now))

	err := s.UpdateStatus(ctx, rec.ID, models.StatusLinked, "", "", now)
	require.ErrorIs(t, err, store.ErrStatusConflict)

	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusError, got.ProcessedStatus)
	require.NotNil(t, got.ProcessedAt)
	require.NotNil(t, got.ErrorCode)
	require.Equal(t, models.ErrorCodeCaseCreationFailed, *got.ErrorCode)
	require.Equal(t, "no broker", *got.ErrorDetail)

	require.Error(t, s.UpdateStatus(ctx, rec.ID, models.StatusNew, "", "", now))
}

func TestGetRecordNotFound(t *testing.T) {
	_, err := testutil.NewTestStore(t).GetRecord(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListStaleNew(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	now := time.Now()

	old := testutil.SeedRecord(t, s, "<old@broker.cl>", "ana@broker.cl", now.Add(-2*time.Hour))
	done := testutil.SeedRecord(t, s, "<done@broker.cl>", "ana@broker.cl", now.Add(-3*time.Hour))
	testutil.SeedRecord(t, s, "<fresh@broker.cl>", "ana@broker.cl", now)
	require.NoError(t, s.UpdateStatus(ctx, done.ID, models.StatusLinked, "", "", now))

	stale, err := s.ListStaleNew(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, old.ID, stale[0].ID)
}

func TestAuditTrail(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	base := time.Now()

	entries := []models.AuditEntry{
		{ID: uuid.NewString(), RunID: "run-1", MessageID: "<m@x>", Stage: models.StageDBInsert, Status: models.AuditSuccess, CreatedAt: base},
		{ID: uuid.NewString(), RunID: "run-1", MessageID: "<m@x>", Stage: models.StageAIClassify, Status: models.AuditSuccess,
			Payload: map[string]interface{}{"confidence": 0.9}, CreatedAt: base.Add(time.Millisecond)},
		{ID: uuid.NewString(), RunID: "run-1", Stage: models.StageIMAPFetch, Status: models.AuditInfo, CreatedAt: base.Add(-time.Second)},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendAudit(ctx, e))
	}

	byMessage, err := s.ListAudit(ctx, "", "<m@x>")
	require.NoError(t, err)
	require.Len(t, byMessage, 2)
	require.Equal(t, models.StageDBInsert, byMessage[0].Stage)
	require.Equal(t, models.StageAIClassify, byMessage[1].Stage)
	require.Equal(t, 0.9, byMessage[1].Payload["confidence"])

	byRun, err := s.ListAudit(ctx, "run-1", "")
	require.NoError(t, err)
	require.Len(t, byRun, 3)
	require.Equal(t, models.StageIMAPFetch, byRun[0].Stage)

	_, err = s.ListAudit(ctx, "", "")
	require.Error(t, err)
}

func TestCaseRepository(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	now := time.Now().UTC()

	broker := testutil.SeedBroker(t, s, "Ana@Broker.cl")
	found, err := s.FindBrokerByEmail(ctx, "ana@broker.cl")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, broker.ID, found.ID)
	require.Equal(t, models.RoleBroker, found.Role)

	require.NoError(t, s.SetMasterRouting(ctx, models.MasterRouting{Bucket: models.MasterVidaPersonas, MasterUserID: "master-1"}))
	routing, err := s.FindMasterRouting(ctx, models.MasterVidaPersonas)
	require.NoError(t, err)
	require.Equal(t, "master-1", routing.MasterUserID)
	none, err := s.FindMasterRouting(ctx, models.MasterRamosGenerales)
	require.NoError(t, err)
	require.Nil(t, none)

	first := testutil.SeedRecord(t, s, "<c1@broker.cl>", "ana@broker.cl", now)
	second := testutil.SeedRecord(t, s, "<c2@broker.cl>", "ana@broker.cl", now)

	ticket := "250601010010001"
	c := &models.Case{
		ID:            uuid.NewString(),
		Ticket:        &ticket,
		BrokerID:      broker.ID,
		MasterBucket:  models.MasterVidaPersonas,
		Status:        models.CaseStatusNew,
		RamoBucket:    models.BucketRamoPersonas,
		Confidence:    0.9,
		MissingFields: models.StringList{},
		Subject:       "Póliza",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	events := []models.CaseHistoryEvent{
		{ID: uuid.NewString(), CaseID: c.ID, EventType: models.EventCaseCreated, CreatedAt: now},
		{ID: uuid.NewString(), CaseID: c.ID, EventType: models.EventTicketGenerated, CreatedAt: now},
	}
	require.NoError(t, s.CreateCase(ctx, c, first.ID, events))

	byTicket, err := s.FindCaseByTicket(ctx, ticket)
	require.NoError(t, err)
	require.Equal(t, c.ID, byTicket.ID)
	require.False(t, byTicket.IsProvisional)

	recent, err := s.FindRecentCase(ctx, broker.ID, now.Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, recent)
	require.Equal(t, c.ID, recent.ID)

	stale, err := s.FindRecentCase(ctx, broker.ID, now.Add(time.Hour))
	require.NoError(t, err)
	require.Nil(t, stale)

	link := models.CaseHistoryEvent{ID: uuid.NewString(), CaseID: c.ID, EventType: models.EventEmailLinked, CreatedAt: now}
	require.NoError(t, s.AttachEmail(ctx, c.ID, second.ID, link))

	again := models.CaseHistoryEvent{ID: uuid.NewString(), CaseID: c.ID, EventType: models.EventEmailLinked, CreatedAt: now}
	require.ErrorIs(t, s.AttachEmail(ctx, c.ID, second.ID, again), store.ErrDuplicate)

	caseID, err := s.CaseIDForEmail(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, c.ID, caseID)

	count, err := s.CountHistory(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestNextTicketSequence(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	for want := 1; want <= 3; want++ {
		seq, err := s.NextTicketSequence(ctx, "2506010100")
		require.NoError(t, err)
		require.Equal(t, want, seq)
	}

	seq, err := s.NextTicketSequence(ctx, "2506020300")
	require.NoError(t, err)
	require.Equal(t, 1, seq)
}
