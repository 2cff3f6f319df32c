package caseengine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"brokerage-mail-ingestor/internal/logging"
	"brokerage-mail-ingestor/internal/models"
)

const (
	DefaultConfidenceThreshold = 0.72
	DefaultGroupingWindow      = 24 * time.Hour
)

// ErrNoBroker is reported when none of the candidate addresses belongs to a broker
var ErrNoBroker = errors.New("could not determine assigned broker")

var ticketPattern = regexp.MustCompile(`\d{12,}`)

// Engine decides which case an inbound email belongs to
type Engine interface {
	LinkOrCreateCase(ctx context.Context, input models.CaseInput) models.CaseOutcome
}

// Repository is the persistence the engine needs. *store.Store implements it.
type Repository interface {
	FindBrokerByEmail(ctx context.Context, email string) (*models.BrokerProfile, error)
	FindMasterRouting(ctx context.Context, bucket string) (*models.MasterRouting, error)
	FindCaseByTicket(ctx context.Context, ticket string) (*models.Case, error)
	FindRecentCase(ctx context.Context, brokerID string, since time.Time) (*models.Case, error)
	CaseIDForEmail(ctx context.Context, inboundEmailID string) (string, error)
	NextTicketSequence(ctx context.Context, prefix string) (int, error)
	CreateCase(ctx context.Context, c *models.Case, inboundEmailID string, events []models.CaseHistoryEvent) error
	AttachEmail(ctx context.Context, caseID, inboundEmailID string, event models.CaseHistoryEvent) error
}

// StoreEngine runs the case rules in process over a Repository
type StoreEngine struct {
	repo      Repository
	threshold float64
	window    time.Duration
	now       func() time.Time
}

// NewStoreEngine creates an engine; zero config values fall back to the defaults
func NewStoreEngine(repo Repository, cfg models.CaseEngineConfig) *StoreEngine {
	e := &StoreEngine{
		repo:      repo,
		threshold: cfg.ConfidenceThreshold,
		window:    cfg.GroupingWindow,
		now:       time.Now,
	}
	if e.threshold <= 0 {
		e.threshold = DefaultConfidenceThreshold
	}
	if e.window <= 0 {
		e.window = DefaultGroupingWindow
	}
	return e
}

// LinkOrCreateCase links the email to an existing case or opens a new one.
// Every failure is reported in the outcome.
func (e *StoreEngine) LinkOrCreateCase(ctx context.Context, input models.CaseInput) models.CaseOutcome {
	locallog := logging.Log.WithField("inbound_email_id", input.InboundEmailID)

	outcome, err := e.linkOrCreate(ctx, input)
	if err != nil {
		locallog.Warnf("Case engine failed: %v", err)
		return models.CaseOutcome{Success: false, Action: models.CaseFailure, Message: err.Error()}
	}

	locallog.WithField("case_id", outcome.CaseID).Infof("Case %s (%s)", outcome.Action, outcome.Message)
	return outcome
}

func (e *StoreEngine) linkOrCreate(ctx context.Context, input models.CaseInput) (models.CaseOutcome, error) {
	if input.Classification == nil {
		return models.CaseOutcome{}, errors.New("missing classification")
	}

	// A retried record may already have been linked by an earlier attempt.
	existing, err := e.repo.CaseIDForEmail(ctx, input.InboundEmailID)
	if err != nil {
		return models.CaseOutcome{}, err
	}
	if existing != "" {
		return models.CaseOutcome{Success: true, CaseID: existing, Action: models.CaseLinked, Message: "email already linked"}, nil
	}

	broker, err := e.determineBroker(ctx, input)
	if err != nil {
		return models.CaseOutcome{}, err
	}

	bucket := MasterBucket(input.Classification.RamoBucket)
	var masterUserID *string
	routing, err := e.repo.FindMasterRouting(ctx, bucket)
	if err != nil {
		return models.CaseOutcome{}, err
	}
	if routing != nil && routing.MasterUserID != "" {
		masterUserID = &routing.MasterUserID
	}

	match, reason, err := e.findExistingCase(ctx, broker.ID, input)
	if err != nil {
		return models.CaseOutcome{}, err
	}
	if match != nil {
		return e.attach(ctx, match, input, reason)
	}

	return e.create(ctx, input, broker, bucket, masterUserID)
}

// determineBroker tries the detected address, then the sender, then every cc
func (e *StoreEngine) determineBroker(ctx context.Context, input models.CaseInput) (*models.BrokerProfile, error) {
	candidates := make([]string, 0, len(input.EmailCc)+2)
	if detected := input.Classification.BrokerEmailDetected; detected != nil {
		candidates = append(candidates, *detected)
	}
	candidates = append(candidates, input.EmailFrom)
	candidates = append(candidates, input.EmailCc...)

	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		profile, err := e.repo.FindBrokerByEmail(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if profile != nil && profile.Role == models.RoleBroker {
			return profile, nil
		}
	}
	return nil, ErrNoBroker
}

func (e *StoreEngine) findExistingCase(ctx context.Context, brokerID string, input models.CaseInput) (*models.Case, string, error) {
	if ticket := ticketPattern.FindString(input.EmailSubject); ticket != "" {
		c, err := e.repo.FindCaseByTicket(ctx, ticket)
		if err != nil {
			return nil, "", err
		}
		if c != nil {
			return c, "ticket " + ticket + " in subject", nil
		}
	}

	recent, err := e.repo.FindRecentCase(ctx, brokerID, e.now().Add(-e.window))
	if err != nil {
		return nil, "", err
	}
	if recent != nil && recent.BrokerEmailDetected != nil &&
		strings.EqualFold(*recent.BrokerEmailDetected, input.EmailFrom) {
		return recent, "recent case from the same sender", nil
	}
	return nil, "", nil
}

func (e *StoreEngine) attach(ctx context.Context, c *models.Case, input models.CaseInput, reason string) (models.CaseOutcome, error) {
	event := models.CaseHistoryEvent{
		ID:        uuid.NewString(),
		CaseID:    c.ID,
		EventType: models.EventEmailLinked,
		Payload: map[string]interface{}{
			"inbound_email_id": input.InboundEmailID,
			"subject":          input.EmailSubject,
			"reason":           reason,
		},
		CreatedAt: e.now(),
	}
	if err := e.repo.AttachEmail(ctx, c.ID, input.InboundEmailID, event); err != nil {
		return models.CaseOutcome{}, fmt.Errorf("linking to case %s: %w", c.ID, err)
	}

	return models.CaseOutcome{
		Success: true,
		CaseID:  c.ID,
		Ticket:  deref(c.Ticket),
		Action:  models.CaseLinked,
		Message: "linked by " + reason,
	}, nil
}

func (e *StoreEngine) create(ctx context.Context, input models.CaseInput, broker *models.BrokerProfile, bucket string, masterUserID *string) (models.CaseOutcome, error) {
	cls := input.Classification
	now := e.now()
	provisional := e.IsProvisional(cls)

	c := &models.Case{
		ID:                  uuid.NewString(),
		BrokerID:            broker.ID,
		MasterBucket:        bucket,
		MasterUserID:        masterUserID,
		Status:              models.CaseStatusNew,
		IsProvisional:       provisional,
		RamoBucket:          cls.RamoBucket,
		RamoCode:            cls.RamoCode,
		AseguradoraCode:     cls.AseguradoraCode,
		TramiteCode:         cls.TramiteCode,
		TipoPoliza:          cls.TipoPoliza,
		CaseSpecialFlag:     cls.CaseSpecialFlag,
		BrokerEmailDetected: cls.BrokerEmailDetected,
		Confidence:          cls.Confidence,
		MissingFields:       models.StringList(cls.MissingFields),
		Subject:             input.EmailSubject,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if c.MissingFields == nil {
		c.MissingFields = models.StringList{}
	}
	if provisional {
		c.Status = models.CaseStatusUnclassified
	}
	if c.BrokerEmailDetected == nil && input.EmailFrom != "" {
		sender := strings.ToLower(input.EmailFrom)
		c.BrokerEmailDetected = &sender
	}

	events := []models.CaseHistoryEvent{{
		ID:        uuid.NewString(),
		CaseID:    c.ID,
		EventType: models.EventCaseCreated,
		Payload: map[string]interface{}{
			"inbound_email_id": input.InboundEmailID,
			"ramo_bucket":      cls.RamoBucket,
			"confidence":       cls.Confidence,
			"is_provisional":   provisional,
		},
		CreatedAt: now,
	}}

	if !provisional && CanGenerateTicket(cls) {
		ticket, err := e.generateTicket(ctx, cls, now)
		if err != nil {
			return models.CaseOutcome{}, err
		}
		c.Ticket = &ticket
		events = append(events, models.CaseHistoryEvent{
			ID:        uuid.NewString(),
			CaseID:    c.ID,
			EventType: models.EventTicketGenerated,
			Payload:   map[string]interface{}{"ticket": ticket},
			CreatedAt: now,
		})
	}

	if err := e.repo.CreateCase(ctx, c, input.InboundEmailID, events); err != nil {
		return models.CaseOutcome{}, fmt.Errorf("creating case: %w", err)
	}

	outcome := models.CaseOutcome{
		Success: true,
		CaseID:  c.ID,
		Ticket:  deref(c.Ticket),
		Action:  models.CaseCreated,
		Message: "case created",
	}
	if provisional {
		outcome.Action = models.CaseProvisional
		outcome.Message = "provisional case created, classification incomplete"
	}
	return outcome, nil
}

// IsProvisional reports whether a classification is too weak for a regular case
func (e *StoreEngine) IsProvisional(cls *models.ClassificationResult) bool {
	if cls.Confidence < e.threshold {
		return true
	}
	return cls.Missing(models.FieldRamo) || cls.Missing(models.FieldAseguradora) || cls.Missing(models.FieldTramite)
}

// MasterBucket maps a classifier bucket to the routing bucket of the master team
func MasterBucket(ramoBucket string) string {
	switch ramoBucket {
	case models.BucketRamosGenerales:
		return models.MasterRamosGenerales
	default:
		return models.MasterVidaPersonas
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
