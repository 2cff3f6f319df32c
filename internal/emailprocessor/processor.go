package emailprocessor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"brokerage-mail-ingestor/internal/audit"
	"brokerage-mail-ingestor/internal/caseengine"
	"brokerage-mail-ingestor/internal/classify"
	"brokerage-mail-ingestor/internal/logging"
	"brokerage-mail-ingestor/internal/models"
	"brokerage-mail-ingestor/internal/store"
)

const (
	DefaultClassifyTimeout = 30 * time.Second
	DefaultLinkTimeout     = 30 * time.Second
)

// Store is the part of the durable store the processor writes to
type Store interface {
	FindByMessageID(ctx context.Context, messageID string) (*models.InboundEmailRecord, error)
	InsertRecord(ctx context.Context, rec *models.InboundEmailRecord) error
	UpdateStatus(ctx context.Context, id string, status models.ProcessingStatus, errorCode, errorDetail string, at time.Time) error
}

// Outcome is what happened to one message
type Outcome struct {
	Action         models.CaseAction
	InboundEmailID string
	CaseID         string
	Ticket         string
}

type Processor struct {
	store           Store
	classifier      classify.Classifier
	engine          caseengine.Engine
	audit           *audit.Logger
	classifyTimeout time.Duration
	linkTimeout     time.Duration
	now             func() time.Time
}

// NewProcessor creates a new Processor. Zero timeouts fall back to the defaults.
func NewProcessor(s Store, classifier classify.Classifier, engine caseengine.Engine, auditLog *audit.Logger, cfg models.IngestionConfig) *Processor {
	p := &Processor{
		store:           s,
		classifier:      classifier,
		engine:          engine,
		audit:           auditLog,
		classifyTimeout: cfg.ClassifyTimeout,
		linkTimeout:     cfg.LinkTimeout,
		now:             time.Now,
	}
	if p.classifyTimeout <= 0 {
		p.classifyTimeout = DefaultClassifyTimeout
	}
	if p.linkTimeout <= 0 {
		p.linkTimeout = DefaultLinkTimeout
	}
	return p
}

// ProcessEmail runs one fetched message through the pipeline:
// dedup → persist → classify → link → finalize
func (p *Processor) ProcessEmail(ctx context.Context, runID string, email *models.Email) (Outcome, error) {
	locallog := logging.Log.WithFields(logrus.Fields{"run_id": runID, "message_id": email.MessageID, "trace_id": email.TraceID})
	entry := models.AuditEntry{RunID: runID, MessageID: email.MessageID}

	existing, err := p.store.FindByMessageID(ctx, email.MessageID)
	if err != nil {
		return Outcome{}, &models.PersistenceError{MessageID: email.MessageID, Err: err}
	}
	if existing != nil {
		locallog.Infof("Message already ingested as %s, skipping", existing.ID)
		entry.InboundEmailID = existing.ID
		entry.Stage = models.StageDedup
		entry.Message = "message already ingested"
		p.audit.Info(ctx, entry)
		return Outcome{Action: models.CaseSkipped, InboundEmailID: existing.ID}, nil
	}

	rec := models.NewRecord(uuid.NewString(), email, p.now())
	if err := p.store.InsertRecord(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Another run inserted the same message between lookup and insert.
			locallog.Info("Message inserted concurrently by another run, skipping")
			entry.Stage = models.StageDedup
			entry.Message = "message inserted concurrently"
			p.audit.Info(ctx, entry)
			return Outcome{Action: models.CaseSkipped}, nil
		}
		entry.Stage = models.StageDBInsert
		entry.Message = "failed to save inbound email"
		p.audit.Error(ctx, entry, err)
		return Outcome{}, &models.PersistenceError{MessageID: email.MessageID, Err: err}
	}

	entry.InboundEmailID = rec.ID
	entry.Stage = models.StageDBInsert
	entry.Message = "inbound email saved"
	entry.Payload = map[string]interface{}{
		"subject":           rec.SubjectNormalized,
		"attachments_count": rec.AttachmentsCount,
	}
	p.audit.Success(ctx, entry)
	locallog.Infof("Saved inbound email %s", rec.ID)

	input := models.ClassificationInput{
		Subject:            email.Subject,
		BodyTextNormalized: email.BodyTextNormalized,
		From:               email.FromEmail(),
		Cc:                 email.CcEmails(),
		AttachmentsSummary: email.AttachmentsSummary(),
	}
	return p.classifyAndLink(ctx, runID, rec, input)
}

// ProcessRecord re-runs classify → link → finalize for a record left in status new
func (p *Processor) ProcessRecord(ctx context.Context, runID string, rec *models.InboundEmailRecord) (Outcome, error) {
	if rec.ProcessedStatus != models.StatusNew {
		return Outcome{}, fmt.Errorf("record %s is already %s", rec.ID, rec.ProcessedStatus)
	}

	input := models.ClassificationInput{
		Subject:            rec.Subject,
		BodyTextNormalized: rec.BodyTextNormalized,
		From:               rec.Sender(),
		Cc:                 []string(rec.CcEmails),
		AttachmentsSummary: rec.AttachmentsSummary(),
	}
	return p.classifyAndLink(ctx, runID, rec, input)
}

func (p *Processor) classifyAndLink(ctx context.Context, runID string, rec *models.InboundEmailRecord, input models.ClassificationInput) (Outcome, error) {
	locallog := logging.Log.WithFields(logrus.Fields{"run_id": runID, "message_id": rec.MessageID, "inbound_email_id": rec.ID})
	entry := models.AuditEntry{RunID: runID, MessageID: rec.MessageID, InboundEmailID: rec.ID}

	classification, err := p.classify(ctx, input)
	if err != nil {
		locallog.Errorf("Classification failed, record stays new: %v", err)
		entry.Stage = models.StageAIClassify
		entry.Message = "classification failed"
		p.audit.Error(ctx, entry, err)
		return Outcome{InboundEmailID: rec.ID}, err
	}

	entry.Stage = models.StageAIClassify
	entry.Message = "email classified"
	entry.Payload = map[string]interface{}{
		"ramo_bucket":    classification.RamoBucket,
		"confidence":     classification.Confidence,
		"missing_fields": classification.MissingFields,
	}
	p.audit.Success(ctx, entry)
	locallog.Infof("AI classification: bucket=%s, confidence=%.2f", classification.RamoBucket, classification.Confidence)

	result := p.link(ctx, models.CaseInput{
		InboundEmailID: rec.ID,
		Classification: classification,
		EmailFrom:      input.From,
		EmailCc:        input.Cc,
		EmailSubject:   rec.Subject,
	})

	return p.finalize(ctx, runID, rec, result)
}

// classify bounds the classifier call and reports every failure as a ClassificationError
func (p *Processor) classify(ctx context.Context, input models.ClassificationInput) (*models.ClassificationResult, error) {
	cctx, cancel := context.WithTimeout(ctx, p.classifyTimeout)
	defer cancel()

	result, err := p.classifier.Classify(cctx, input)
	if err != nil {
		var classErr *models.ClassificationError
		if errors.As(err, &classErr) {
			return nil, err
		}
		return nil, &models.ClassificationError{Err: err}
	}
	if result == nil {
		return nil, &models.ClassificationError{Err: errors.New("empty classification result")}
	}
	return result, nil
}

// link bounds the case engine call. A timeout is reported like an engine failure.
func (p *Processor) link(ctx context.Context, input models.CaseInput) models.CaseOutcome {
	lctx, cancel := context.WithTimeout(ctx, p.linkTimeout)
	defer cancel()

	result := p.engine.LinkOrCreateCase(lctx, input)
	if !result.Success && result.Message == "" {
		result.Message = "case engine failed"
		if err := lctx.Err(); err != nil {
			result.Message = fmt.Sprintf("case engine failed: %v", err)
		}
	}
	return result
}

func (p *Processor) finalize(ctx context.Context, runID string, rec *models.InboundEmailRecord, result models.CaseOutcome) (Outcome, error) {
	entry := models.AuditEntry{
		RunID:          runID,
		MessageID:      rec.MessageID,
		InboundEmailID: rec.ID,
		CaseID:         result.CaseID,
		Stage:          models.StageCaseLink,
	}

	status := models.StatusLinked
	errorCode, errorDetail := "", ""
	if !result.Success {
		status = models.StatusError
		errorCode, errorDetail = models.ErrorCodeCaseCreationFailed, result.Message
	}

	if err := p.store.UpdateStatus(ctx, rec.ID, status, errorCode, errorDetail, p.now()); err != nil {
		entry.Message = "failed to update processing status"
		p.audit.Error(ctx, entry, err)
		return Outcome{InboundEmailID: rec.ID, CaseID: result.CaseID}, &models.PersistenceError{MessageID: rec.MessageID, Err: err}
	}

	if !result.Success {
		entry.Message = "case linking failed"
		entry.ErrorDetail = result.Message
		p.audit.Error(ctx, entry, nil)
		return Outcome{Action: models.CaseFailure, InboundEmailID: rec.ID},
			&models.LinkingError{InboundEmailID: rec.ID, Message: result.Message}
	}

	entry.Message = "email " + string(result.Action)
	entry.Payload = map[string]interface{}{
		"action":  string(result.Action),
		"case_id": result.CaseID,
		"ticket":  result.Ticket,
	}
	p.audit.Success(ctx, entry)

	return Outcome{
		Action:         result.Action,
		InboundEmailID: rec.ID,
		CaseID:         result.CaseID,
		Ticket:         result.Ticket,
	}, nil
}
