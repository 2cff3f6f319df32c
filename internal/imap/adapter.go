package imap

import (
	"context"
	"errors"
	"time"

	"brokerage-mail-ingestor/internal/logging"
	"brokerage-mail-ingestor/internal/mailparse"
	"brokerage-mail-ingestor/internal/models"

	"github.com/emersion/go-imap"
)

// Adapter opens mailbox sessions for ingestion runs
type Adapter struct {
	cfg       models.EmailConfig
	newClient ClientFactory
}

// NewAdapter creates an Adapter backed by StandardClient
func NewAdapter(cfg models.EmailConfig) *Adapter {
	return NewAdapterWithFactory(cfg, func() Client { return NewStandardClient(cfg) })
}

// NewAdapterWithFactory lets callers supply their own client implementation
func NewAdapterWithFactory(cfg models.EmailConfig, factory ClientFactory) *Adapter {
	return &Adapter{cfg: cfg, newClient: factory}
}

// Session is an authenticated mailbox connection for one run
type Session struct {
	client Client
}

// Connect dials and authenticates. Missing credentials give a *models.ConfigError,
// network or authentication failures a *models.ConnectionError. On a connection
// error the partial session is still returned and must be closed by the caller.
func (a *Adapter) Connect(ctx context.Context) (*Session, error) {
	if a.cfg.Host == "" || a.cfg.Port == 0 {
		return nil, &models.ConfigError{Reason: "IMAP host and port are required"}
	}
	if a.cfg.Login == "" || a.cfg.Password == "" {
		return nil, &models.ConfigError{Reason: "IMAP credentials are not configured"}
	}

	session := &Session{client: a.newClient()}
	if err := session.client.Connect(ctx); err != nil {
		return session, &models.ConnectionError{Op: "connect", Err: err}
	}

	if err := session.client.Login(a.cfg.Login, a.cfg.Password); err != nil {
		return session, &models.ConnectionError{Op: "login", Err: err}
	}

	return session, nil
}

// FetchSince returns up to maxCount messages received at or after cutoff in folder, in server order.
// Dates are checked before the cap is applied, so same-day messages older than cutoff never
// take the place of messages inside the window. A message that fails to parse is logged and skipped.
func (s *Session) FetchSince(ctx context.Context, cutoff time.Time, maxCount int, folder string) ([]*models.Email, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("session is not connected")
	}

	if err := s.client.SelectMailbox(folder); err != nil {
		return nil, &models.ConnectionError{Op: "select", Err: err}
	}

	uids, err := s.client.SearchSince(cutoff)
	if err != nil {
		return nil, &models.ConnectionError{Op: "search", Err: err}
	}
	if len(uids) == 0 {
		return nil, nil
	}

	dated, err := s.client.FetchDates(uids)
	if err != nil {
		return nil, &models.ConnectionError{Op: "fetch", Err: err}
	}

	inWindow := make([]uint32, 0, len(dated))
	for _, msg := range dated {
		if !withinWindow(msg, cutoff) {
			logging.Log.Debugf("Message UID %d is older than %v (date: %v), skipping", msg.Uid, cutoff, messageDate(msg))
			continue
		}
		inWindow = append(inWindow, msg.Uid)
	}
	if maxCount > 0 && len(inWindow) > maxCount {
		inWindow = inWindow[:maxCount]
	}
	if len(inWindow) == 0 {
		return nil, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages, err := s.client.FetchMessages(inWindow)
	if err != nil {
		return nil, &models.ConnectionError{Op: "fetch", Err: err}
	}

	emails := make([]*models.Email, 0, len(messages))
	for _, msg := range messages {
		email, err := mailparse.Parse(msg, folder)
		if err != nil {
			logging.Log.WithField("trace_id", "unknown").Errorf("Error parsing email UID %d: %v", msg.Uid, err)
			continue
		}
		emails = append(emails, email)
	}

	return emails, nil
}

// Close logs out. Errors are logged and never returned. Safe on a nil or partial session.
func (s *Session) Close() {
	if s == nil || s.client == nil {
		return
	}
	if err := s.client.Close(); err != nil {
		logging.Log.Warnf("Error closing IMAP session: %v", err)
	}
	s.client = nil
}

// messageDate prefers the server's receive time and falls back to the sender's date
func messageDate(msg *imap.Message) time.Time {
	if !msg.InternalDate.IsZero() {
		return msg.InternalDate
	}
	if msg.Envelope != nil {
		return msg.Envelope.Date
	}
	return time.Time{}
}

// withinWindow refines the day-granular IMAP SINCE search. Undated messages are kept.
func withinWindow(msg *imap.Message, cutoff time.Time) bool {
	date := messageDate(msg)
	if date.IsZero() {
		return true
	}
	return !date.Before(cutoff) // inclusive
}
