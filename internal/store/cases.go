package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"brokerage-mail-ingestor/internal/models"
)

const caseColumns = `id, ticket, broker_id, master_bucket, master_user_id, status, is_provisional,
	ramo_bucket, ramo_code, aseguradora_code, tramite_code, tipo_poliza, case_special_flag,
	broker_email_detected, confidence, missing_fields, subject, created_at, updated_at`

// FindBrokerByEmail returns the profile registered for email, or nil when none exists
func (s *Store) FindBrokerByEmail(ctx context.Context, email string) (*models.BrokerProfile, error) {
	var p models.BrokerProfile
	err := s.db.GetContext(ctx, &p,
		s.rebind("SELECT id, email, full_name, role FROM broker_profiles WHERE LOWER(email) = ?"),
		strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up profile %s: %w", email, err)
	}
	return &p, nil
}

// UpsertBroker registers or updates a profile keyed by email
func (s *Store) UpsertBroker(ctx context.Context, p models.BrokerProfile) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO broker_profiles (id, email, full_name, role)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (email) DO UPDATE SET full_name = excluded.full_name, role = excluded.role`),
		p.ID, strings.ToLower(p.Email), p.FullName, p.Role,
	)
	if err != nil {
		return fmt.Errorf("saving profile %s: %w", p.Email, err)
	}
	return nil
}

// SetMasterRouting assigns the master user of a routing bucket
func (s *Store) SetMasterRouting(ctx context.Context, r models.MasterRouting) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO master_routing_config (bucket, master_user_id)
		VALUES (?, ?)
		ON CONFLICT (bucket) DO UPDATE SET master_user_id = excluded.master_user_id`),
		r.Bucket, r.MasterUserID,
	)
	if err != nil {
		return fmt.Errorf("saving routing for %s: %w", r.Bucket, err)
	}
	return nil
}

// FindMasterRouting returns the routing of bucket, or nil when it is not configured
func (s *Store) FindMasterRouting(ctx context.Context, bucket string) (*models.MasterRouting, error) {
	var r models.MasterRouting
	err := s.db.GetContext(ctx, &r,
		s.rebind("SELECT bucket, master_user_id FROM master_routing_config WHERE bucket = ?"), bucket)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up routing for %s: %w", bucket, err)
	}
	return &r, nil
}

// FindCaseByTicket returns the case with ticket, or nil
func (s *Store) FindCaseByTicket(ctx context.Context, ticket string) (*models.Case, error) {
	var c models.Case
	err := s.db.GetContext(ctx, &c, s.rebind("SELECT "+caseColumns+" FROM cases WHERE ticket = ?"), ticket)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up ticket %s: %w", ticket, err)
	}
	return &c, nil
}

// FindRecentCase returns the newest case of broker created at or after since, or nil
func (s *Store) FindRecentCase(ctx context.Context, brokerID string, since time.Time) (*models.Case, error) {
	var c models.Case
	err := s.db.GetContext(ctx, &c, s.rebind(`
		SELECT `+caseColumns+`
		FROM cases
		WHERE broker_id = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT 1`),
		brokerID, since.UTC(),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up recent case of %s: %w", brokerID, err)
	}
	return &c, nil
}

// GetCase loads a case by id
func (s *Store) GetCase(ctx context.Context, id string) (*models.Case, error) {
	var c models.Case
	err := s.db.GetContext(ctx, &c, s.rebind("SELECT "+caseColumns+" FROM cases WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("case %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading case %s: %w", id, err)
	}
	return &c, nil
}

// CaseIDForEmail returns the case an inbound email is linked to, or an empty string
func (s *Store) CaseIDForEmail(ctx context.Context, inboundEmailID string) (string, error) {
	var caseID string
	err := s.db.GetContext(ctx, &caseID,
		s.rebind("SELECT case_id FROM case_emails WHERE inbound_email_id = ?"), inboundEmailID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up case of email %s: %w", inboundEmailID, err)
	}
	return caseID, nil
}

// CreateCase inserts a case together with its first linked email and history events in one transaction
func (s *Store) CreateCase(ctx context.Context, c *models.Case, inboundEmailID string, events []models.CaseHistoryEvent) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stored := *c
	stored.CreatedAt = c.CreatedAt.UTC()
	stored.UpdatedAt = c.UpdatedAt.UTC()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO cases (
			id, ticket, broker_id, master_bucket, master_user_id, status, is_provisional,
			ramo_bucket, ramo_code, aseguradora_code, tramite_code, tipo_poliza, case_special_flag,
			broker_email_detected, confidence, missing_fields, subject, created_at, updated_at
		) VALUES (
			:id, :ticket, :broker_id, :master_bucket, :master_user_id, :status, :is_provisional,
			:ramo_bucket, :ramo_code, :aseguradora_code, :tramite_code, :tipo_poliza, :case_special_flag,
			:broker_email_detected, :confidence, :missing_fields, :subject, :created_at, :updated_at
		)`, &stored)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("inserting case %s: %w", c.ID, ErrDuplicate)
		}
		return fmt.Errorf("inserting case %s: %w", c.ID, err)
	}

	if err := s.linkEmail(ctx, tx, c.ID, inboundEmailID, stored.CreatedAt); err != nil {
		return err
	}
	for _, event := range events {
		if err := s.appendHistory(ctx, tx, event); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// AttachEmail links an inbound email to an existing case and records the history event.
// An email that is already linked yields ErrDuplicate.
func (s *Store) AttachEmail(ctx context.Context, caseID, inboundEmailID string, event models.CaseHistoryEvent) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.linkEmail(ctx, tx, caseID, inboundEmailID, event.CreatedAt.UTC()); err != nil {
		return err
	}
	if err := s.appendHistory(ctx, tx, event); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.rebind("UPDATE cases SET updated_at = ? WHERE id = ?"), event.CreatedAt.UTC(), caseID); err != nil {
		return fmt.Errorf("touching case %s: %w", caseID, err)
	}

	return tx.Commit()
}

func (s *Store) linkEmail(ctx context.Context, tx *sqlx.Tx, caseID, inboundEmailID string, at time.Time) error {
	_, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO case_emails (case_id, inbound_email_id, created_at) VALUES (?, ?, ?)`),
		caseID, inboundEmailID, at,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("linking email %s: %w", inboundEmailID, ErrDuplicate)
		}
		return fmt.Errorf("linking email %s to case %s: %w", inboundEmailID, caseID, err)
	}
	return nil
}

func (s *Store) appendHistory(ctx context.Context, tx *sqlx.Tx, event models.CaseHistoryEvent) error {
	var payload *string
	if len(event.Payload) > 0 {
		b, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("marshaling history payload: %w", err)
		}
		p := string(b)
		payload = &p
	}

	_, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO case_history_events (id, case_id, event_type, payload, created_at) VALUES (?, ?, ?, ?, ?)`),
		event.ID, event.CaseID, event.EventType, payload, event.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending %s event to case %s: %w", event.EventType, event.CaseID, err)
	}
	return nil
}

// CountHistory returns the number of history events of a case
func (s *Store) CountHistory(ctx context.Context, caseID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.rebind("SELECT COUNT(*) FROM case_history_events WHERE case_id = ?"), caseID); err != nil {
		return 0, fmt.Errorf("counting history of case %s: %w", caseID, err)
	}
	return n, nil
}

// NextTicketSequence increments and returns the sequence number of a ticket prefix
func (s *Store) NextTicketSequence(ctx context.Context, prefix string) (int, error) {
	for attempt := 0; attempt < 2; attempt++ {
		seq, err := s.nextTicketSequence(ctx, prefix)
		if errors.Is(err, ErrDuplicate) {
			continue
		}
		return seq, err
	}
	return 0, fmt.Errorf("allocating ticket sequence %s: %w", prefix, ErrDuplicate)
}

func (s *Store) nextTicketSequence(ctx context.Context, prefix string) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, s.rebind("UPDATE ticket_sequences SET seq = seq + 1 WHERE prefix = ?"), prefix)
	if err != nil {
		return 0, fmt.Errorf("incrementing ticket sequence %s: %w", prefix, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO ticket_sequences (prefix, seq) VALUES (?, 1)"), prefix); err != nil {
			if isUniqueViolation(err) {
				return 0, ErrDuplicate
			}
			return 0, fmt.Errorf("creating ticket sequence %s: %w", prefix, err)
		}
	}

	var seq int
	if err := tx.GetContext(ctx, &seq, s.rebind("SELECT seq FROM ticket_sequences WHERE prefix = ?"), prefix); err != nil {
		return 0, fmt.Errorf("reading ticket sequence %s: %w", prefix, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing ticket sequence %s: %w", prefix, err)
	}
	return seq, nil
}
