package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"brokerage-mail-ingestor/internal/models"
	"brokerage-mail-ingestor/internal/store"
)

// NewTestStore creates an in-memory SQLite store with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(context.Background(), models.DatabaseConfig{Driver: store.DriverSQLite, URL: ":memory:"})
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedBroker registers a broker profile and returns it
func SeedBroker(t *testing.T, s *store.Store, email string) models.BrokerProfile {
	t.Helper()

	p := models.BrokerProfile{ID: uuid.NewString(), Email: email, FullName: "Broker " + email, Role: models.RoleBroker}
	if err := s.UpsertBroker(context.Background(), p); err != nil {
		t.Fatalf("seeding broker %s: %v", email, err)
	}
	return p
}

// SeedRecord stores an inbound email in status new and returns it
func SeedRecord(t *testing.T, s *store.Store, messageID, from string, createdAt time.Time) *models.InboundEmailRecord {
	t.Helper()

	body := "Cuerpo de " + messageID
	email := &models.Email{
		MessageID:          messageID,
		From:               &models.Address{Email: from},
		Subject:            "Asunto " + messageID,
		SubjectNormalized:  "Asunto " + messageID,
		DateSent:           createdAt,
		BodyText:           &body,
		BodyTextNormalized: &body,
		UID:                1,
		Folder:             "INBOX",
	}
	rec := models.NewRecord(uuid.NewString(), email, createdAt)
	if err := s.InsertRecord(context.Background(), rec); err != nil {
		t.Fatalf("seeding record %s: %v", messageID, err)
	}
	return rec
}
