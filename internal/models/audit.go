package models

import "time"

// AuditStage names a pipeline step recorded in the audit trail
type AuditStage string

const (
	StageRunLock     AuditStage = "run_lock"
	StageIMAPConnect AuditStage = "imap_connect"
	StageIMAPFetch   AuditStage = "imap_fetch"
	StageDedup       AuditStage = "dedup"
	StageDBInsert    AuditStage = "db_insert"
	StageAIClassify  AuditStage = "ai_classify"
	StageCaseLink    AuditStage = "case_link"
	StageReconcile   AuditStage = "reconcile"
)

// AuditStatus is the outcome level of an audit entry
type AuditStatus string

const (
	AuditInfo    AuditStatus = "info"
	AuditSuccess AuditStatus = "success"
	AuditError   AuditStatus = "error"
)

// AuditEntry is one immutable line of the ingestion audit trail
type AuditEntry struct {
	ID             string
	RunID          string
	MessageID      string
	InboundEmailID string
	CaseID         string
	Stage          AuditStage
	Status         AuditStatus
	Message        string
	Payload        map[string]interface{}
	ErrorDetail    string
	CreatedAt      time.Time
}
