package store

import (
	"context"
	"fmt"
	"strings"
)

// migration holds a single schema migration with its target version and SQL.
// {{ts}} is replaced by the timestamp column type of the active driver.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS inbound_emails (
	id                      TEXT PRIMARY KEY,
	message_id              TEXT NOT NULL UNIQUE,
	from_email              TEXT,
	from_name               TEXT,
	to_emails               TEXT NOT NULL DEFAULT '[]',
	cc_emails               TEXT NOT NULL DEFAULT '[]',
	subject                 TEXT NOT NULL DEFAULT '',
	subject_normalized      TEXT NOT NULL DEFAULT '',
	date_sent               {{ts}} NOT NULL,
	in_reply_to             TEXT,
	thread_references       TEXT,
	body_text               TEXT,
	body_html               TEXT,
	body_text_normalized    TEXT,
	attachments_count       INTEGER NOT NULL DEFAULT 0,
	attachments_total_bytes BIGINT NOT NULL DEFAULT 0,
	imap_uid                TEXT NOT NULL DEFAULT '',
	folder                  TEXT NOT NULL DEFAULT '',
	processed_status        TEXT NOT NULL DEFAULT 'new',
	processed_at            {{ts}},
	error_code              TEXT,
	error_detail            TEXT,
	created_at              {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_inbound_emails_status ON inbound_emails(processed_status, created_at);

CREATE TABLE IF NOT EXISTS ingestion_audit_log (
	id               TEXT PRIMARY KEY,
	run_id           TEXT,
	message_id       TEXT,
	inbound_email_id TEXT,
	case_id          TEXT,
	stage            TEXT NOT NULL,
	status           TEXT NOT NULL,
	message          TEXT NOT NULL DEFAULT '',
	payload          TEXT,
	error_detail     TEXT,
	created_at       {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_run ON ingestion_audit_log(run_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_message ON ingestion_audit_log(message_id);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS broker_profiles (
	id        TEXT PRIMARY KEY,
	email     TEXT NOT NULL UNIQUE,
	full_name TEXT NOT NULL DEFAULT '',
	role      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS master_routing_config (
	bucket         TEXT PRIMARY KEY,
	master_user_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cases (
	id                    TEXT PRIMARY KEY,
	ticket                TEXT UNIQUE,
	broker_id             TEXT NOT NULL REFERENCES broker_profiles(id),
	master_bucket         TEXT NOT NULL,
	master_user_id        TEXT,
	status                TEXT NOT NULL,
	is_provisional        BOOLEAN NOT NULL DEFAULT FALSE,
	ramo_bucket           TEXT NOT NULL DEFAULT '',
	ramo_code             TEXT,
	aseguradora_code      TEXT,
	tramite_code          TEXT,
	tipo_poliza           TEXT,
	case_special_flag     TEXT,
	broker_email_detected TEXT,
	confidence            DOUBLE PRECISION NOT NULL DEFAULT 0,
	missing_fields        TEXT NOT NULL DEFAULT '[]',
	subject               TEXT NOT NULL DEFAULT '',
	created_at            {{ts}} NOT NULL,
	updated_at            {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_broker_created ON cases(broker_id, created_at);

CREATE TABLE IF NOT EXISTS case_emails (
	case_id          TEXT NOT NULL REFERENCES cases(id),
	inbound_email_id TEXT NOT NULL UNIQUE REFERENCES inbound_emails(id),
	created_at       {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS case_history_events (
	id         TEXT PRIMARY KEY,
	case_id    TEXT NOT NULL REFERENCES cases(id),
	event_type TEXT NOT NULL,
	payload    TEXT,
	created_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS ticket_sequences (
	prefix TEXT PRIMARY KEY,
	seq    INTEGER NOT NULL
);
`,
	},
}

// timestampType returns the column type used for timestamps. modernc only
// parses DATETIME columns back into time.Time.
func (s *Store) timestampType() string {
	if s.db.DriverName() == DriverPostgres {
		return "TIMESTAMPTZ"
	}
	return "DATETIME"
}

// Migrate applies outstanding migrations in order
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	currentVersion := 0
	if err := s.db.GetContext(ctx, &currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	ts := s.timestampType()
	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning migration v%d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, strings.ReplaceAll(m.sql, "{{ts}}", ts)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
	}

	return nil
}
