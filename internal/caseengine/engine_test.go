package caseengine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"brokerage-mail-ingestor/internal/models"
	"brokerage-mail-ingestor/internal/store"
	"brokerage-mail-ingestor/internal/testutil"
)

func strPtr(s string) *string { return &s }

func fullClassification() *models.ClassificationResult {
	return &models.ClassificationResult{
		RamoBucket:      models.BucketVidaASSA,
		RamoCode:        strPtr("01"),
		AseguradoraCode: strPtr("01"),
		TramiteCode:     strPtr("2"),
		Confidence:      0.9,
		MissingFields:   []string{},
	}
}

type fixture struct {
	store  *store.Store
	engine *StoreEngine
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := testutil.NewTestStore(t)
	f := &fixture{store: s, now: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
	f.engine = NewStoreEngine(s, models.CaseEngineConfig{})
	f.engine.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) input(t *testing.T, from, subject string, cls *models.ClassificationResult) models.CaseInput {
	t.Helper()
	rec := testutil.SeedRecord(t, f.store, "<"+uuid.NewString()+"@broker.cl>", from, f.now)
	return models.CaseInput{
		InboundEmailID: rec.ID,
		Classification: cls,
		EmailFrom:      from,
		EmailSubject:   subject,
	}
}

func TestCreatesCaseWithTicket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	broker := testutil.SeedBroker(t, f.store, "ana@broker.cl")
	require.NoError(t, f.store.SetMasterRouting(ctx, models.MasterRouting{Bucket: models.MasterVidaPersonas, MasterUserID: "master-1"}))

	outcome := f.engine.LinkOrCreateCase(ctx, f.input(t, "ana@broker.cl", "Renovación Vida ASSA", fullClassification()))

	require.True(t, outcome.Success, outcome.Message)
	require.Equal(t, models.CaseCreated, outcome.Action)
	require.Equal(t, "2506010102001", outcome.Ticket)

	c, err := f.store.GetCase(ctx, outcome.CaseID)
	require.NoError(t, err)
	require.Equal(t, broker.ID, c.BrokerID)
	require.Equal(t, models.CaseStatusNew, c.Status)
	require.False(t, c.IsProvisional)
	require.Equal(t, models.MasterVidaPersonas, c.MasterBucket)
	require.NotNil(t, c.MasterUserID)
	require.Equal(t, "master-1", *c.MasterUserID)
	require.Equal(t, "ana@broker.cl", *c.BrokerEmailDetected)

	events, err := f.store.CountHistory(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 2, events)

	// Same prefix, next sequence
	f.now = f.now.Add(48 * time.Hour)
	second := f.engine.LinkOrCreateCase(ctx, f.input(t, "ana@broker.cl", "Otra renovación", fullClassification()))
	require.Equal(t, models.CaseCreated, second.Action)
	require.Equal(t, "2506010102002", second.Ticket)
}

func TestCreatesProvisionalCase(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.ClassificationResult)
	}{
		{"Low confidence", func(c *models.ClassificationResult) { c.Confidence = 0.5 }},
		{"Missing tramite", func(c *models.ClassificationResult) {
			c.TramiteCode = nil
			c.MissingFields = []string{models.FieldTramite}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			testutil.SeedBroker(t, f.store, "ana@broker.cl")

			cls := fullClassification()
			tt.mutate(cls)
			outcome := f.engine.LinkOrCreateCase(ctx, f.input(t, "ana@broker.cl", "Consulta", cls))

			require.True(t, outcome.Success, outcome.Message)
			require.Equal(t, models.CaseProvisional, outcome.Action)
			require.True(t, outcome.Action.CountsAsCreated())
			require.Empty(t, outcome.Ticket)

			c, err := f.store.GetCase(ctx, outcome.CaseID)
			require.NoError(t, err)
			require.True(t, c.IsProvisional)
			require.Equal(t, models.CaseStatusUnclassified, c.Status)
			require.Nil(t, c.Ticket)
			require.Nil(t, c.MasterUserID)
		})
	}
}

func TestLinksByTicketInSubject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.SeedBroker(t, f.store, "ana@broker.cl")
	testutil.SeedBroker(t, f.store, "luis@broker.cl")

	created := f.engine.LinkOrCreateCase(ctx, f.input(t, "ana@broker.cl", "Renovación", fullClassification()))
	require.Equal(t, models.CaseCreated, created.Action)

	f.now = f.now.Add(72 * time.Hour)
	linked := f.engine.LinkOrCreateCase(ctx, f.input(t, "luis@broker.cl", "RE: Ticket "+created.Ticket+" documentos", fullClassification()))

	require.True(t, linked.Success, linked.Message)
	require.Equal(t, models.CaseLinked, linked.Action)
	require.Equal(t, created.CaseID, linked.CaseID)
	require.Equal(t, created.Ticket, linked.Ticket)

	events, err := f.store.CountHistory(ctx, created.CaseID)
	require.NoError(t, err)
	require.Equal(t, 3, events)
}

func TestLinksRecentCaseFromSameSender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.SeedBroker(t, f.store, "ana@broker.cl")

	cls := fullClassification()
	cls.Confidence = 0.4
	created := f.engine.LinkOrCreateCase(ctx, f.input(t, "ana@broker.cl", "Consulta", cls))
	require.Equal(t, models.CaseProvisional, created.Action)

	f.now = f.now.Add(2 * time.Hour)
	linked := f.engine.LinkOrCreateCase(ctx, f.input(t, "Ana@Broker.cl", "Otra consulta", fullClassification()))
	require.Equal(t, models.CaseLinked, linked.Action)
	require.Equal(t, created.CaseID, linked.CaseID)

	f.now = f.now.Add(25 * time.Hour)
	later := f.engine.LinkOrCreateCase(ctx, f.input(t, "ana@broker.cl", "Nueva consulta", fullClassification()))
	require.Equal(t, models.CaseCreated, later.Action)
	require.NotEqual(t, created.CaseID, later.CaseID)
}

func TestBrokerResolutionOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cc := testutil.SeedBroker(t, f.store, "jefe@broker.cl")
	require.NoError(t, f.store.UpsertBroker(ctx, models.BrokerProfile{
		ID: uuid.NewString(), Email: "master@portal.cl", FullName: "Master", Role: "master",
	}))

	in := f.input(t, "cliente@gmail.com", "Consulta", fullClassification())
	in.Classification.BrokerEmailDetected = strPtr("master@portal.cl")
	in.EmailCc = []string{"", "otro@gmail.com", "jefe@broker.cl"}

	outcome := f.engine.LinkOrCreateCase(ctx, in)
	require.True(t, outcome.Success, outcome.Message)

	c, err := f.store.GetCase(ctx, outcome.CaseID)
	require.NoError(t, err)
	require.Equal(t, cc.ID, c.BrokerID)
}

func TestFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	noBroker := f.engine.LinkOrCreateCase(ctx, f.input(t, "cliente@gmail.com", "Hola", fullClassification()))
	require.False(t, noBroker.Success)
	require.Equal(t, models.CaseFailure, noBroker.Action)
	require.Equal(t, "could not determine assigned broker", noBroker.Message)

	noClass := f.engine.LinkOrCreateCase(ctx, models.CaseInput{InboundEmailID: "x", EmailFrom: "ana@broker.cl"})
	require.False(t, noClass.Success)
}

func TestAlreadyLinkedEmailIsReported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.SeedBroker(t, f.store, "ana@broker.cl")

	in := f.input(t, "ana@broker.cl", "Renovación", fullClassification())
	first := f.engine.LinkOrCreateCase(ctx, in)
	require.Equal(t, models.CaseCreated, first.Action)

	again := f.engine.LinkOrCreateCase(ctx, in)
	require.True(t, again.Success)
	require.Equal(t, models.CaseLinked, again.Action)
	require.Equal(t, first.CaseID, again.CaseID)
}

func TestMasterBucket(t *testing.T) {
	tests := map[string]string{
		models.BucketVidaASSA:       models.MasterVidaPersonas,
		models.BucketRamoPersonas:   models.MasterVidaPersonas,
		models.BucketRamosGenerales: models.MasterRamosGenerales,
		models.BucketDesconocido:    models.MasterVidaPersonas,
	}
	for bucket, want := range tests {
		if got := MasterBucket(bucket); got != want {
			t.Errorf("MasterBucket(%q) = %q, want %q", bucket, got, want)
		}
	}
}

func TestTicketFormat(t *testing.T) {
	tests := []struct {
		name     string
		at       time.Time
		ramo     string
		aseg     string
		tramite  string
		seq      int
		expected string
	}{
		{"Padded tramite", time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC), "01", "01", "2", 1, "2506010102001"},
		{"Two digit codes", time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC), "03", "05", "10", 42, "2511030510042"},
		{"Local month boundary", time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC), "02", "04", "8", 7, "2512020408007"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatTicket(TicketPrefix(tt.at, tt.ramo, tt.aseg, tt.tramite), tt.seq)
			if got != tt.expected {
				t.Errorf("ticket = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCanGenerateTicket(t *testing.T) {
	cls := fullClassification()
	require.True(t, CanGenerateTicket(cls))

	cls.AseguradoraCode = strPtr(" ")
	require.False(t, CanGenerateTicket(cls))
}
