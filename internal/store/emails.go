package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"brokerage-mail-ingestor/internal/models"
)

const inboundEmailColumns = `id, message_id, from_email, from_name, to_emails, cc_emails,
	subject, subject_normalized, date_sent, in_reply_to, thread_references,
	body_text, body_html, body_text_normalized, attachments_count, attachments_total_bytes,
	imap_uid, folder, processed_status, processed_at, error_code, error_detail, created_at`

// FindByMessageID returns the record stored for messageID, or nil when none exists
func (s *Store) FindByMessageID(ctx context.Context, messageID string) (*models.InboundEmailRecord, error) {
	var rec models.InboundEmailRecord
	err := s.db.GetContext(ctx, &rec,
		s.rebind("SELECT "+inboundEmailColumns+" FROM inbound_emails WHERE message_id = ?"), messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up message %s: %w", messageID, err)
	}
	return &rec, nil
}

// GetRecord loads a record by id
func (s *Store) GetRecord(ctx context.Context, id string) (*models.InboundEmailRecord, error) {
	var rec models.InboundEmailRecord
	err := s.db.GetContext(ctx, &rec,
		s.rebind("SELECT "+inboundEmailColumns+" FROM inbound_emails WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("inbound email %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading inbound email %s: %w", id, err)
	}
	return &rec, nil
}

// InsertRecord stores a new record. A record with the same message id yields ErrDuplicate.
func (s *Store) InsertRecord(ctx context.Context, rec *models.InboundEmailRecord) error {
	stored := *rec
	stored.DateSent = rec.DateSent.UTC()
	stored.CreatedAt = rec.CreatedAt.UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO inbound_emails (
			id, message_id, from_email, from_name, to_emails, cc_emails,
			subject, subject_normalized, date_sent, in_reply_to, thread_references,
			body_text, body_html, body_text_normalized, attachments_count, attachments_total_bytes,
			imap_uid, folder, processed_status, processed_at, error_code, error_detail, created_at
		) VALUES (
			:id, :message_id, :from_email, :from_name, :to_emails, :cc_emails,
			:subject, :subject_normalized, :date_sent, :in_reply_to, :thread_references,
			:body_text, :body_html, :body_text_normalized, :attachments_count, :attachments_total_bytes,
			:imap_uid, :folder, :processed_status, :processed_at, :error_code, :error_detail, :created_at
		)`, &stored)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("inserting message %s: %w", rec.MessageID, ErrDuplicate)
		}
		return fmt.Errorf("inserting message %s: %w", rec.MessageID, err)
	}
	return nil
}

// UpdateStatus moves a record out of status new. It succeeds at most once per record;
// later calls return ErrStatusConflict.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.ProcessingStatus, errorCode, errorDetail string, at time.Time) error {
	if status == models.StatusNew {
		return fmt.Errorf("cannot move inbound email %s back to %s", id, status)
	}

	result, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE inbound_emails
		SET processed_status = ?, processed_at = ?, error_code = ?, error_detail = ?
		WHERE id = ? AND processed_status = ?`),
		string(status), at.UTC(), nullable(errorCode), nullable(errorDetail), id, string(models.StatusNew),
	)
	if err != nil {
		return fmt.Errorf("updating status of %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating status of %s: %w", id, err)
	}
	if rows == 0 {
		return fmt.Errorf("updating status of %s: %w", id, ErrStatusConflict)
	}
	return nil
}

// ListStaleNew returns records still in status new that were created before olderThan, oldest first
func (s *Store) ListStaleNew(ctx context.Context, olderThan time.Time, limit int) ([]models.InboundEmailRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var records []models.InboundEmailRecord
	err := s.db.SelectContext(ctx, &records, s.rebind(`
		SELECT `+inboundEmailColumns+`
		FROM inbound_emails
		WHERE processed_status = ? AND created_at < ?
		ORDER BY created_at
		LIMIT ?`),
		string(models.StatusNew), olderThan.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing stale records: %w", err)
	}
	return records, nil
}
