package models

// SystemMessageID keys run-level errors in the summary
const SystemMessageID = "SYSTEM"

// MessageError records one failed message of a run
type MessageError struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

// RunSummary is returned to the scheduler after each cycle
type RunSummary struct {
	Success           bool           `json:"success"`
	MessagesProcessed int            `json:"messagesProcessed"`
	CasesCreated      int            `json:"casesCreated"`
	CasesLinked       int            `json:"casesLinked"`
	Skipped           int            `json:"skipped"`
	Errors            []MessageError `json:"errors"`
}

// NewRunSummary returns an empty successful summary
func NewRunSummary() RunSummary {
	return RunSummary{Success: true, Errors: []MessageError{}}
}

// Fail marks the run as failed with a single run-level error
func (s *RunSummary) Fail(err error) {
	s.Success = false
	s.Errors = append(s.Errors, MessageError{MessageID: SystemMessageID, Error: err.Error()})
}
