package models

// CaseAction represents what the case engine did with a message
type CaseAction string

const (
	CaseCreated     CaseAction = "created"
	CaseProvisional CaseAction = "provisional"
	CaseLinked      CaseAction = "linked"
	CaseFailure     CaseAction = "error"
	CaseSkipped     CaseAction = "skipped"
)

// CaseInput is handed to the case engine once per persisted record
type CaseInput struct {
	InboundEmailID string
	Classification *ClassificationResult
	EmailFrom      string
	EmailCc        []string
	EmailSubject   string
}

// CaseOutcome is the case engine's answer
type CaseOutcome struct {
	Success bool
	CaseID  string
	Ticket  string
	Action  CaseAction
	Message string
}

// CountsAsCreated reports whether the action opened a new case
func (a CaseAction) CountsAsCreated() bool {
	return a == CaseCreated || a == CaseProvisional
}
