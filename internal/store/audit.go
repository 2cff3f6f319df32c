package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"brokerage-mail-ingestor/internal/models"
)

type auditRow struct {
	ID             string    `db:"id"`
	RunID          *string   `db:"run_id"`
	MessageID      *string   `db:"message_id"`
	InboundEmailID *string   `db:"inbound_email_id"`
	CaseID         *string   `db:"case_id"`
	Stage          string    `db:"stage"`
	Status         string    `db:"status"`
	Message        string    `db:"message"`
	Payload        *string   `db:"payload"`
	ErrorDetail    *string   `db:"error_detail"`
	CreatedAt      time.Time `db:"created_at"`
}

// AppendAudit writes one audit entry. Entries are never updated.
func (s *Store) AppendAudit(ctx context.Context, entry models.AuditEntry) error {
	var payload *string
	if len(entry.Payload) > 0 {
		b, err := json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("marshaling audit payload: %w", err)
		}
		p := string(b)
		payload = &p
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO ingestion_audit_log (
			id, run_id, message_id, inbound_email_id, case_id,
			stage, status, message, payload, error_detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.ID, nullable(entry.RunID), nullable(entry.MessageID), nullable(entry.InboundEmailID), nullable(entry.CaseID),
		string(entry.Stage), string(entry.Status), entry.Message, payload, nullable(entry.ErrorDetail), entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending audit entry %s/%s: %w", entry.Stage, entry.Status, err)
	}
	return nil
}

// ListAudit returns the audit trail of a message, or of a whole run when messageID is empty
func (s *Store) ListAudit(ctx context.Context, runID, messageID string) ([]models.AuditEntry, error) {
	query := "SELECT id, run_id, message_id, inbound_email_id, case_id, stage, status, message, payload, error_detail, created_at FROM ingestion_audit_log WHERE "
	var args []interface{}
	switch {
	case messageID != "":
		query += "message_id = ?"
		args = append(args, messageID)
	case runID != "":
		query += "run_id = ?"
		args = append(args, runID)
	default:
		return nil, fmt.Errorf("listing audit entries requires a run or message id")
	}
	query += " ORDER BY created_at, id"

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}

	entries := make([]models.AuditEntry, 0, len(rows))
	for _, r := range rows {
		entry := models.AuditEntry{
			ID:             r.ID,
			RunID:          deref(r.RunID),
			MessageID:      deref(r.MessageID),
			InboundEmailID: deref(r.InboundEmailID),
			CaseID:         deref(r.CaseID),
			Stage:          models.AuditStage(r.Stage),
			Status:         models.AuditStatus(r.Status),
			Message:        r.Message,
			ErrorDetail:    deref(r.ErrorDetail),
			CreatedAt:      r.CreatedAt,
		}
		if r.Payload != nil {
			if err := json.Unmarshal([]byte(*r.Payload), &entry.Payload); err != nil {
				return nil, fmt.Errorf("decoding audit payload %s: %w", r.ID, err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
