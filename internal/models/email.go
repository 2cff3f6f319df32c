package models

import (
	"fmt"
	"strings"
	"time"
)

// Address is a mailbox address with an optional display name
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Attachment holds attachment metadata only, content bytes are never retained
type Attachment struct {
	Filename  string `json:"filename"`
	MIMEType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// Email represents a normalized parsed email message fetched from the mailbox
type Email struct {
	MessageID          string
	From               *Address
	To                 []Address
	Cc                 []Address
	Subject            string
	SubjectNormalized  string
	DateSent           time.Time
	InReplyTo          string
	ThreadReferences   string
	BodyText           *string
	BodyHTML           *string
	BodyTextNormalized *string
	Attachments        []Attachment
	UID                uint32
	Folder             string
	TraceID            string
}

// FromEmail returns the sender address or an empty string when the sender is unknown
func (e *Email) FromEmail() string {
	if e.From == nil {
		return ""
	}
	return e.From.Email
}

// CcEmails returns the bare cc addresses
func (e *Email) CcEmails() []string {
	return addressList(e.Cc)
}

// ToEmails returns the bare recipient addresses
func (e *Email) ToEmails() []string {
	return addressList(e.To)
}

// AttachmentsTotalBytes sums the size of every attachment
func (e *Email) AttachmentsTotalBytes() int64 {
	var total int64
	for _, a := range e.Attachments {
		total += a.SizeBytes
	}
	return total
}

// AttachmentsSummary renders attachments as "name (n bytes), ..." for the classifier prompt
func (e *Email) AttachmentsSummary() string {
	return SummarizeAttachments(e.Attachments)
}

// SummarizeAttachments renders a list of attachments as "name (n bytes), ..."
func SummarizeAttachments(attachments []Attachment) string {
	parts := make([]string, 0, len(attachments))
	for _, a := range attachments {
		parts = append(parts, fmt.Sprintf("%s (%d bytes)", a.Filename, a.SizeBytes))
	}
	return strings.Join(parts, ", ")
}

func addressList(list []Address) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		if a.Email == "" {
			continue
		}
		out = append(out, a.Email)
	}
	return out
}
