package models

import (
	"fmt"
	"time"
)

// ProcessingStatus is the state of a persisted inbound email
type ProcessingStatus string

const (
	StatusNew    ProcessingStatus = "new"
	StatusLinked ProcessingStatus = "linked"
	StatusError  ProcessingStatus = "error"
)

// ErrorCodeCaseCreationFailed is recorded when the case engine rejects a message
const ErrorCodeCaseCreationFailed = "CASE_CREATION_FAILED"

// InboundEmailRecord is the durable projection of an Email
type InboundEmailRecord struct {
	ID                    string           `db:"id"`
	MessageID             string           `db:"message_id"`
	FromEmail             *string          `db:"from_email"`
	FromName              *string          `db:"from_name"`
	ToEmails              StringList       `db:"to_emails"`
	CcEmails              StringList       `db:"cc_emails"`
	Subject               string           `db:"subject"`
	SubjectNormalized     string           `db:"subject_normalized"`
	DateSent              time.Time        `db:"date_sent"`
	InReplyTo             *string          `db:"in_reply_to"`
	ThreadReferences      *string          `db:"thread_references"`
	BodyText              *string          `db:"body_text"`
	BodyHTML              *string          `db:"body_html"`
	BodyTextNormalized    *string          `db:"body_text_normalized"`
	AttachmentsCount      int              `db:"attachments_count"`
	AttachmentsTotalBytes int64            `db:"attachments_total_bytes"`
	IMAPUID               string           `db:"imap_uid"`
	Folder                string           `db:"folder"`
	ProcessedStatus       ProcessingStatus `db:"processed_status"`
	ProcessedAt           *time.Time       `db:"processed_at"`
	ErrorCode             *string          `db:"error_code"`
	ErrorDetail           *string          `db:"error_detail"`
	CreatedAt             time.Time        `db:"created_at"`
}

// AttachmentsSummary describes the stored attachment counts. File names are not
// persisted, so records re-read from the store only carry totals.
func (r *InboundEmailRecord) AttachmentsSummary() string {
	if r.AttachmentsCount == 0 {
		return ""
	}
	return fmt.Sprintf("%d attachment(s) (%d bytes)", r.AttachmentsCount, r.AttachmentsTotalBytes)
}

// NewRecord projects a parsed email into a record in status new
func NewRecord(id string, email *Email, now time.Time) *InboundEmailRecord {
	rec := &InboundEmailRecord{
		ID:                    id,
		MessageID:             email.MessageID,
		ToEmails:              StringList(email.ToEmails()),
		CcEmails:              StringList(email.CcEmails()),
		Subject:               email.Subject,
		SubjectNormalized:     email.SubjectNormalized,
		DateSent:              email.DateSent,
		InReplyTo:             optional(email.InReplyTo),
		ThreadReferences:      optional(email.ThreadReferences),
		BodyText:              email.BodyText,
		BodyHTML:              email.BodyHTML,
		BodyTextNormalized:    email.BodyTextNormalized,
		AttachmentsCount:      len(email.Attachments),
		AttachmentsTotalBytes: email.AttachmentsTotalBytes(),
		IMAPUID:               fmt.Sprintf("%d", email.UID),
		Folder:                email.Folder,
		ProcessedStatus:       StatusNew,
		CreatedAt:             now,
	}
	if email.From != nil {
		rec.FromEmail = optional(email.From.Email)
		rec.FromName = optional(email.From.Name)
	}
	return rec
}

// Sender returns the stored sender address or an empty string
func (r *InboundEmailRecord) Sender() string {
	if r.FromEmail == nil {
		return ""
	}
	return *r.FromEmail
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
