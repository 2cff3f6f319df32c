package mailparse

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
)

const multipartMessage = "From: \"Ana Broker\" <ana@broker.cl>\r\n" +
	"To: tramites@portal.cl\r\n" +
	"Cc: jefe@broker.cl, \"Otro\" <otro@broker.cl>\r\n" +
	"Subject: =?UTF-8?Q?RE:_Renovaci=C3=B3n_p=C3=B3liza?=\r\n" +
	"Date: Mon, 02 Jun 2025 10:15:00 -0400\r\n" +
	"Message-ID: <abc123@broker.cl>\r\n" +
	"In-Reply-To: <prev@portal.cl>\r\n" +
	"References: <root@portal.cl> <prev@portal.cl>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"XYZ\"\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hola, adjunto la póliza.\r\n" +
	"\r\n" +
	"> mensaje anterior\r\n" +
	"--XYZ\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"poliza.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"SGVsbG8gV29ybGQ=\r\n" +
	"--XYZ--\r\n"

const htmlOnlyMessage = "From: ana@broker.cl\r\n" +
	"To: tramites@portal.cl\r\n" +
	"Subject: Fwd: Siniestro\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><body><p>Estimados,</p><p>Reporto un siniestro &amp; adjunto fotos.</p><script>alert(1)</script></body></html>\r\n"

const noMessageIDMessage = "From: ana@broker.cl\r\n" +
	"Subject: Consulta\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Hola\r\n"

func TestParseReader(t *testing.T) {
	email, err := ParseReader(strings.NewReader(multipartMessage), 42, "INBOX")
	if err != nil {
		t.Fatalf("ParseReader() error: %v", err)
	}

	if email.MessageID != "<abc123@broker.cl>" {
		t.Errorf("MessageID = %q", email.MessageID)
	}
	if email.From == nil || email.From.Email != "ana@broker.cl" || email.From.Name != "Ana Broker" {
		t.Errorf("From = %+v", email.From)
	}
	if got := email.ToEmails(); len(got) != 1 || got[0] != "tramites@portal.cl" {
		t.Errorf("To = %v", got)
	}
	if got := email.CcEmails(); len(got) != 2 || got[0] != "jefe@broker.cl" || got[1] != "otro@broker.cl" {
		t.Errorf("Cc = %v", got)
	}
	if email.Subject != "RE: Renovación póliza" {
		t.Errorf("Subject = %q", email.Subject)
	}
	if email.SubjectNormalized != "Renovación póliza" {
		t.Errorf("SubjectNormalized = %q", email.SubjectNormalized)
	}
	if email.InReplyTo != "<prev@portal.cl>" {
		t.Errorf("InReplyTo = %q", email.InReplyTo)
	}
	if email.ThreadReferences != "<root@portal.cl> <prev@portal.cl>" {
		t.Errorf("ThreadReferences = %q", email.ThreadReferences)
	}
	want := time.Date(2025, 6, 2, 14, 15, 0, 0, time.UTC)
	if !email.DateSent.Equal(want) {
		t.Errorf("DateSent = %v, want %v", email.DateSent, want)
	}
	if email.BodyText == nil || !strings.Contains(*email.BodyText, "> mensaje anterior") {
		t.Errorf("BodyText should keep the raw text, got %v", email.BodyText)
	}
	if email.BodyTextNormalized == nil || *email.BodyTextNormalized != "Hola, adjunto la póliza." {
		t.Errorf("BodyTextNormalized = %v", email.BodyTextNormalized)
	}
	if len(email.Attachments) != 1 {
		t.Fatalf("Expected 1 attachment, got %d", len(email.Attachments))
	}
	att := email.Attachments[0]
	if att.Filename != "poliza.pdf" || att.MIMEType != "application/pdf" || att.SizeBytes != 11 {
		t.Errorf("Attachment = %+v", att)
	}
	if email.UID != 42 || email.Folder != "INBOX" || email.TraceID == "" {
		t.Errorf("UID/Folder/TraceID not set: %d %q %q", email.UID, email.Folder, email.TraceID)
	}
}

func TestParseReaderHTMLOnly(t *testing.T) {
	email, err := ParseReader(strings.NewReader(htmlOnlyMessage), 1, "INBOX")
	if err != nil {
		t.Fatalf("ParseReader() error: %v", err)
	}

	if email.BodyHTML == nil {
		t.Fatal("Expected BodyHTML to be set")
	}
	if email.BodyText == nil {
		t.Fatal("Expected BodyText derived from HTML")
	}
	if strings.Contains(*email.BodyText, "<p>") || strings.Contains(*email.BodyText, "alert") {
		t.Errorf("BodyText still contains markup: %q", *email.BodyText)
	}
	if !strings.Contains(*email.BodyText, "siniestro & adjunto") {
		t.Errorf("BodyText = %q", *email.BodyText)
	}
	if email.SubjectNormalized != "Siniestro" {
		t.Errorf("SubjectNormalized = %q", email.SubjectNormalized)
	}
	if len(email.Attachments) != 0 {
		t.Errorf("Expected no attachments, got %d", len(email.Attachments))
	}
}

func TestParseSynthesizesMessageID(t *testing.T) {
	internal := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	msg := &imap.Message{
		Uid:          7,
		InternalDate: internal,
		Body: map[*imap.BodySectionName]imap.Literal{
			&imap.BodySectionName{}: bytes.NewBufferString(noMessageIDMessage),
		},
	}

	email, err := Parse(msg, "INBOX")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if !strings.HasPrefix(email.MessageID, "generated-7-") {
		t.Errorf("Expected synthetic message id, got %q", email.MessageID)
	}
	if !email.DateSent.Equal(internal) {
		t.Errorf("Expected internal date fallback, got %v", email.DateSent)
	}
}

func TestParseUsesEnvelopeFallbacks(t *testing.T) {
	msg := &imap.Message{
		Uid: 9,
		Envelope: &imap.Envelope{
			MessageId: "<env@broker.cl>",
			Cc:        []*imap.Address{{MailboxName: "cc", HostName: "broker.cl"}},
		},
		Body: map[*imap.BodySectionName]imap.Literal{
			&imap.BodySectionName{}: bytes.NewBufferString(noMessageIDMessage),
		},
	}

	email, err := Parse(msg, "Tramites")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if email.MessageID != "<env@broker.cl>" {
		t.Errorf("MessageID = %q", email.MessageID)
	}
	if got := email.CcEmails(); len(got) != 1 || got[0] != "cc@broker.cl" {
		t.Errorf("Cc = %v", got)
	}
	if email.Folder != "Tramites" {
		t.Errorf("Folder = %q", email.Folder)
	}
}

func TestParseWithoutBody(t *testing.T) {
	if _, err := Parse(&imap.Message{Uid: 3}, "INBOX"); err == nil {
		t.Fatal("Expected error for message without body")
	}
}

func TestSyntheticMessageID(t *testing.T) {
	now := time.UnixMilli(1717000000123)
	if got := SyntheticMessageID(15, now); got != "generated-15-1717000000123" {
		t.Errorf("SyntheticMessageID() = %q", got)
	}
}

func TestDecodeHeader(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "Plain ASCII",
			input:    "Hello World",
			expected: "Hello World",
			wantErr:  false,
		},
		{
			name:     "UTF-8 encoded",
			input:    "=?UTF-8?Q?Renovaci=C3=B3n_p=C3=B3liza?=",
			expected: "Renovación póliza",
			wantErr:  false,
		},
		{
			name:     "ISO-8859-1 encoded",
			input:    "=?ISO-8859-1?Q?Tr=E1mite?=",
			expected: "Trámite",
			wantErr:  false,
		},
		{
			name:     "Base64 encoded",
			input:    "=?UTF-8?B?SGVsbG8gV29ybGQ=?=",
			expected: "Hello World",
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeHeader(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeHeader() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("DecodeHeader() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestExtractEmailAddress(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Simple email",
			input:    "corredor@broker.cl",
			expected: "corredor@broker.cl",
		},
		{
			name:     "Email with name",
			input:    "Ana Broker <ana@broker.cl>",
			expected: "ana@broker.cl",
		},
		{
			name:     "Email with quotes",
			input:    `"Mesa de Ayuda" <ayuda@portal.cl>`,
			expected: "ayuda@portal.cl",
		},
		{
			name:     "No email",
			input:    "Just some text",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractEmailAddress(tt.input)
			if got != tt.expected {
				t.Errorf("extractEmailAddress() = %v, want %v", got, tt.expected)
			}
		})
	}
}
