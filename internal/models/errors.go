package models

import "fmt"

// ConfigError means the run cannot start because of missing or invalid configuration
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}

// ConnectionError means the mailbox is unreachable or rejected the credentials
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("IMAP %s error: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PersistenceError means a store write for one message failed
type PersistenceError struct {
	MessageID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("error saving email %s: %v", e.MessageID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ClassificationError means the classifier failed or returned unusable output
type ClassificationError struct {
	Err error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed: %v", e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// LinkingError means the case engine could not create or link a case
type LinkingError struct {
	InboundEmailID string
	Message        string
}

func (e *LinkingError) Error() string {
	return fmt.Sprintf("case linking failed for %s: %s", e.InboundEmailID, e.Message)
}
