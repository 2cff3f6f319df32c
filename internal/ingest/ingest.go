// Package ingest drives one polling cycle of the mailbox: connect, fetch and
// run every message through the processor, each inside its own error boundary.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"brokerage-mail-ingestor/internal/audit"
	"brokerage-mail-ingestor/internal/emailprocessor"
	"brokerage-mail-ingestor/internal/imap"
	"brokerage-mail-ingestor/internal/logging"
	"brokerage-mail-ingestor/internal/metrics"
	"brokerage-mail-ingestor/internal/models"
)

const DefaultConnectTimeout = 30 * time.Second

// Session is an open mailbox connection owned by one cycle
type Session interface {
	FetchSince(ctx context.Context, cutoff time.Time, maxCount int, folder string) ([]*models.Email, error)
	Close()
}

// ConnectFunc opens a session. It may return a partial session together with an error.
type ConnectFunc func(ctx context.Context) (Session, error)

// FromAdapter adapts an IMAP adapter to a ConnectFunc
func FromAdapter(adapter *imap.Adapter) ConnectFunc {
	return func(ctx context.Context) (Session, error) {
		session, err := adapter.Connect(ctx)
		if session == nil {
			return nil, err
		}
		return session, err
	}
}

// Processor runs the per-message pipeline
type Processor interface {
	ProcessEmail(ctx context.Context, runID string, email *models.Email) (emailprocessor.Outcome, error)
	ProcessRecord(ctx context.Context, runID string, rec *models.InboundEmailRecord) (emailprocessor.Outcome, error)
}

// Locker keeps cycles from overlapping
type Locker interface {
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// StaleLister finds records that never left status new
type StaleLister interface {
	ListStaleNew(ctx context.Context, olderThan time.Time, limit int) ([]models.InboundEmailRecord, error)
}

type Ingestor struct {
	cfg            models.IngestionConfig
	connect        ConnectFunc
	processor      Processor
	audit          *audit.Logger
	lock           Locker
	stale          StaleLister
	metrics        *metrics.Metrics
	connectTimeout time.Duration
	now            func() time.Time
	newRunID       func() string
}

// Option customizes an Ingestor
type Option func(*Ingestor)

// WithLock guards every cycle with lock
func WithLock(lock Locker) Option {
	return func(in *Ingestor) { in.lock = lock }
}

// WithStaleLister enables Reconcile
func WithStaleLister(stale StaleLister) Option {
	return func(in *Ingestor) { in.stale = stale }
}

// WithMetrics records run and message outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(in *Ingestor) { in.metrics = m }
}

// WithConnectTimeout bounds the mailbox connection
func WithConnectTimeout(d time.Duration) Option {
	return func(in *Ingestor) {
		if d > 0 {
			in.connectTimeout = d
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(in *Ingestor) { in.now = now }
}

// New creates an Ingestor for cfg
func New(cfg models.IngestionConfig, connect ConnectFunc, processor Processor, auditLog *audit.Logger, opts ...Option) *Ingestor {
	in := &Ingestor{
		cfg:            cfg,
		connect:        connect,
		processor:      processor,
		audit:          auditLog,
		connectTimeout: DefaultConnectTimeout,
		now:            time.Now,
		newRunID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

type messageResult struct {
	messageID string
	outcome   emailprocessor.Outcome
	err       error
}

// RunCycle fetches the messages of the configured window and processes each of them.
// The summary fails only when the mailbox itself could not be read.
func (in *Ingestor) RunCycle(ctx context.Context) models.RunSummary {
	summary := models.NewRunSummary()

	if !in.cfg.Enabled {
		logging.Log.Info("IMAP ingestion disabled by feature flag")
		in.metrics.ObserveRun(metrics.ResultDisabled, 0)
		return summary
	}

	runID := in.newRunID()
	start := in.now()
	result := metrics.ResultSuccess
	defer func() { in.metrics.ObserveRun(result, in.now().Sub(start)) }()

	locallog := logging.Log.WithField("run_id", runID)
	locallog.Infof("Starting ingestion cycle (window: %d min, max: %d messages, folder: %s)",
		in.cfg.WindowMinutes, in.cfg.MaxMessages, in.cfg.Folder)

	release, ok := in.acquire(ctx, runID)
	if !ok {
		result = metrics.ResultLocked
		return summary
	}
	defer release()

	connectCtx, cancel := context.WithTimeout(ctx, in.connectTimeout)
	session, err := in.connect(connectCtx)
	cancel()
	if session != nil {
		defer func() {
			session.Close()
			locallog.Info("IMAP connection closed")
		}()
	}
	if err != nil {
		locallog.Errorf("Fatal error in ingestion cycle: %v", err)
		in.audit.Error(ctx, models.AuditEntry{RunID: runID, Stage: models.StageIMAPConnect, Message: "IMAP connection failed"}, err)
		summary.Fail(err)
		result = metrics.ResultFailed
		return summary
	}
	in.audit.Success(ctx, models.AuditEntry{RunID: runID, Stage: models.StageIMAPConnect, Message: "IMAP connection established"})

	cutoff := in.now().Add(-in.cfg.Window())
	emails, err := session.FetchSince(ctx, cutoff, in.cfg.MaxMessages, in.cfg.Folder)
	if err != nil {
		locallog.Errorf("Fatal error fetching messages: %v", err)
		in.audit.Error(ctx, models.AuditEntry{RunID: runID, Stage: models.StageIMAPFetch, Message: "IMAP fetch failed"}, err)
		summary.Fail(err)
		result = metrics.ResultFailed
		return summary
	}

	ids := make([]string, 0, len(emails))
	for _, email := range emails {
		ids = append(ids, email.MessageID)
	}
	in.audit.Info(ctx, models.AuditEntry{
		RunID:   runID,
		Stage:   models.StageIMAPFetch,
		Message: fmt.Sprintf("fetched %d messages", len(emails)),
		Payload: map[string]interface{}{"count": len(emails), "message_ids": ids, "cutoff": cutoff.UTC().Format(time.RFC3339)},
	})
	locallog.Infof("Fetched %d messages from IMAP", len(emails))

	for _, r := range in.processAll(ctx, runID, emails) {
		tally(&summary, r)
		in.metrics.ObserveMessage(r.outcome.Action, r.err)
	}

	locallog.WithFields(logrus.Fields{
		"processed": summary.MessagesProcessed,
		"created":   summary.CasesCreated,
		"linked":    summary.CasesLinked,
		"skipped":   summary.Skipped,
		"errors":    len(summary.Errors),
	}).Info("Ingestion cycle completed")

	return summary
}

// Reconcile re-runs classification and linking for records stuck in status new for longer than olderThan
func (in *Ingestor) Reconcile(ctx context.Context, olderThan time.Duration, limit int) models.RunSummary {
	summary := models.NewRunSummary()
	if in.stale == nil {
		summary.Fail(&models.ConfigError{Reason: "reconciliation requires a store"})
		return summary
	}

	runID := in.newRunID()
	locallog := logging.Log.WithField("run_id", runID)

	release, ok := in.acquire(ctx, runID)
	if !ok {
		return summary
	}
	defer release()

	records, err := in.stale.ListStaleNew(ctx, in.now().Add(-olderThan), limit)
	if err != nil {
		locallog.Errorf("Listing stale records failed: %v", err)
		summary.Fail(err)
		return summary
	}
	in.audit.Info(ctx, models.AuditEntry{
		RunID:   runID,
		Stage:   models.StageReconcile,
		Message: fmt.Sprintf("reconciling %d records", len(records)),
		Payload: map[string]interface{}{"count": len(records)},
	})

	for i := range records {
		rec := &records[i]
		r := in.boundary(rec.MessageID, func() (emailprocessor.Outcome, error) {
			return in.processor.ProcessRecord(ctx, runID, rec)
		})
		tally(&summary, r)
		in.metrics.ObserveMessage(r.outcome.Action, r.err)
	}

	locallog.Infof("Reconciliation completed: %d processed, %d errors", summary.MessagesProcessed, len(summary.Errors))
	return summary
}

// acquire takes the run lock when one is configured. A held lock is recorded and reported as !ok.
func (in *Ingestor) acquire(ctx context.Context, runID string) (func(), bool) {
	if in.lock == nil {
		return func() {}, true
	}

	release, ok, err := in.lock.Acquire(ctx)
	if err != nil {
		logging.Log.WithField("run_id", runID).Warnf("Continuing without run lock: %v", err)
	}
	if !ok {
		logging.Log.WithField("run_id", runID).Info("Another ingestion run holds the lock, skipping")
		in.audit.Info(ctx, models.AuditEntry{RunID: runID, Stage: models.StageRunLock, Message: "another run is in progress"})
		return nil, false
	}
	return release, true
}

// processAll runs every message sequentially, or on a bounded pool when more than one worker is configured.
// Results keep the fetch order.
func (in *Ingestor) processAll(ctx context.Context, runID string, emails []*models.Email) []messageResult {
	results := make([]messageResult, len(emails))

	if in.cfg.Workers <= 1 {
		for i, email := range emails {
			results[i] = in.processOne(ctx, runID, email)
		}
		return results
	}

	type indexed struct {
		index  int
		result messageResult
	}
	out := make(chan indexed, len(emails))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.cfg.Workers)
	for i, email := range emails {
		i, email := i, email
		g.Go(func() error {
			out <- indexed{index: i, result: in.processOne(gctx, runID, email)}
			return nil
		})
	}
	_ = g.Wait()
	close(out)

	for r := range out {
		results[r.index] = r.result
	}
	return results
}

func (in *Ingestor) processOne(ctx context.Context, runID string, email *models.Email) messageResult {
	return in.boundary(email.MessageID, func() (emailprocessor.Outcome, error) {
		return in.processor.ProcessEmail(ctx, runID, email)
	})
}

// boundary isolates one message: an error or a panic is turned into a result
func (in *Ingestor) boundary(messageID string, fn func() (emailprocessor.Outcome, error)) (r messageResult) {
	r.messageID = messageID
	defer func() {
		if p := recover(); p != nil {
			r.err = fmt.Errorf("panic processing message: %v", p)
			logging.Log.WithField("message_id", messageID).Errorf("Recovered from panic: %v", p)
		}
	}()

	r.outcome, r.err = fn()
	if r.err != nil {
		logging.Log.WithField("message_id", messageID).Errorf("Error processing message: %v", r.err)
	}
	return r
}

func tally(summary *models.RunSummary, r messageResult) {
	if r.err != nil {
		summary.Errors = append(summary.Errors, models.MessageError{MessageID: r.messageID, Error: r.err.Error()})
		return
	}

	summary.MessagesProcessed++
	switch {
	case r.outcome.Action.CountsAsCreated():
		summary.CasesCreated++
	case r.outcome.Action == models.CaseLinked:
		summary.CasesLinked++
	case r.outcome.Action == models.CaseSkipped:
		summary.Skipped++
	}
}
