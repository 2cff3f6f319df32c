package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"brokerage-mail-ingestor/internal/logging"
	"brokerage-mail-ingestor/internal/models"
)

// writeTimeout bounds a single sink write. The write outlives the caller's
// cancellation so that failures of a timed out step are still recorded.
const writeTimeout = 5 * time.Second

// Sink persists audit entries
type Sink interface {
	AppendAudit(ctx context.Context, entry models.AuditEntry) error
}

// Logger records pipeline steps. Recording never fails the caller.
type Logger struct {
	sink Sink
	now  func() time.Time
}

// NewLogger creates a Logger writing to sink. A nil sink only logs.
func NewLogger(sink Sink) *Logger {
	return &Logger{sink: sink, now: time.Now}
}

// Record fills the entry id and timestamp and appends it to the sink
func (l *Logger) Record(ctx context.Context, entry models.AuditEntry) {
	if entry.ID == "" {
		entry.ID = newID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}

	fields := logrus.Fields{
		"run_id":     entry.RunID,
		"message_id": entry.MessageID,
		"stage":      entry.Stage,
		"status":     entry.Status,
	}
	if entry.CaseID != "" {
		fields["case_id"] = entry.CaseID
	}
	log := logging.Log.WithFields(fields)

	if entry.Status == models.AuditError {
		log.WithField("error_detail", entry.ErrorDetail).Warn(entry.Message)
	} else {
		log.Debug(entry.Message)
	}

	if l.sink == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := l.sink.AppendAudit(writeCtx, entry); err != nil {
		log.WithError(err).Error("Failed to write audit entry")
	}
}

// Info records an informational entry
func (l *Logger) Info(ctx context.Context, entry models.AuditEntry) {
	entry.Status = models.AuditInfo
	l.Record(ctx, entry)
}

// Success records a successful step
func (l *Logger) Success(ctx context.Context, entry models.AuditEntry) {
	entry.Status = models.AuditSuccess
	l.Record(ctx, entry)
}

// Error records a failed step with the error as detail
func (l *Logger) Error(ctx context.Context, entry models.AuditEntry, err error) {
	entry.Status = models.AuditError
	if err != nil && entry.ErrorDetail == "" {
		entry.ErrorDetail = err.Error()
	}
	l.Record(ctx, entry)
}

// newID returns a time ordered id so entries written within the same instant keep their order
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
