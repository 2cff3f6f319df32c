package mailparse

import (
	"fmt"
	"io"
	"mime"
	"regexp"
	"strings"
	"time"

	"brokerage-mail-ingestor/internal/logging"
	"brokerage-mail-ingestor/internal/models"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

var emailAddressPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// BodySection is the section fetched for every message. Peek keeps the \Seen flag untouched.
var BodySection = &imap.BodySectionName{Peek: true}

// Parse turns a fetched IMAP message into a normalized Email
func Parse(msg *imap.Message, folder string) (*models.Email, error) {
	r := msg.GetBody(BodySection)
	if r == nil {
		return nil, fmt.Errorf("message UID %d has no body: %w", msg.Uid, io.EOF)
	}

	email, err := ParseReader(r, msg.Uid, folder)
	if err != nil {
		return nil, err
	}

	if msg.Envelope != nil {
		applyEnvelope(email, msg.Envelope)
	}
	if email.DateSent.IsZero() {
		email.DateSent = msg.InternalDate
	}
	if email.MessageID == "" {
		email.MessageID = SyntheticMessageID(msg.Uid, time.Now())
	}

	return email, nil
}

// ParseReader parses a raw RFC 5322 message. Envelope data, when present, is applied by Parse.
func ParseReader(r io.Reader, uid uint32, folder string) (*models.Email, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, err
	}
	defer mr.Close()

	email := &models.Email{
		UID:     uid,
		Folder:  folder,
		TraceID: uuid.New().String(),
	}

	header := mr.Header
	log := logging.Log.WithField("trace_id", email.TraceID)

	email.MessageID = strings.TrimSpace(header.Get("Message-Id"))
	email.InReplyTo = strings.TrimSpace(header.Get("In-Reply-To"))
	email.ThreadReferences = strings.Join(strings.Fields(header.Get("References")), " ")

	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		email.From = &models.Address{Email: from[0].Address, Name: from[0].Name}
	} else if addr := extractEmailAddress(header.Get("From")); addr != "" {
		email.From = &models.Address{Email: addr}
	}
	email.To = headerAddresses(header, "To")
	email.Cc = headerAddresses(header, "Cc")

	if date, err := header.Date(); err == nil {
		email.DateSent = date
	}

	decodedSubject, err := DecodeHeader(header.Get("Subject"))
	if err != nil {
		log.WithError(err).Warn("Could not decode subject, keeping raw value")
		decodedSubject = header.Get("Subject")
	}
	email.Subject = decodedSubject

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				log.WithError(err).Warn("Skipping part with unsupported encoding")
				continue
			}
			log.WithError(err).Warn("Stopped reading message parts")
			break
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, params, err := h.ContentType()
			if err != nil {
				continue
			}
			switch {
			case contentType == "text/plain" && email.BodyText == nil:
				if body, err := io.ReadAll(p.Body); err == nil {
					text := string(body)
					email.BodyText = &text
				}
			case contentType == "text/html" && email.BodyHTML == nil:
				if body, err := io.ReadAll(p.Body); err == nil {
					html := string(body)
					email.BodyHTML = &html
				}
			case !strings.HasPrefix(contentType, "text/") && !strings.HasPrefix(contentType, "multipart/"):
				_, dispParams, _ := h.ContentDisposition()
				email.Attachments = append(email.Attachments, readAttachment(p.Body, dispParams["filename"], params["name"], contentType))
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, params, _ := h.ContentType()
			email.Attachments = append(email.Attachments, readAttachment(p.Body, filename, params["name"], contentType))
		}
	}

	if email.BodyText == nil && email.BodyHTML != nil {
		if text := HTMLToText(*email.BodyHTML); text != "" {
			email.BodyText = &text
		}
	}

	email.SubjectNormalized = NormalizeSubject(email.Subject)
	email.BodyTextNormalized = NormalizeBody(email.BodyText)

	return email, nil
}

// SyntheticMessageID is used when a message carries no Message-ID header
func SyntheticMessageID(uid uint32, now time.Time) string {
	return fmt.Sprintf("generated-%d-%d", uid, now.UnixMilli())
}

// applyEnvelope fills the fields the header did not provide
func applyEnvelope(email *models.Email, env *imap.Envelope) {
	if email.MessageID == "" {
		email.MessageID = strings.TrimSpace(env.MessageId)
	}
	if email.InReplyTo == "" {
		email.InReplyTo = strings.TrimSpace(env.InReplyTo)
	}
	if email.DateSent.IsZero() {
		email.DateSent = env.Date
	}
	if email.From == nil && len(env.From) > 0 {
		email.From = envelopeAddress(env.From[0])
	}
	if len(email.To) == 0 {
		email.To = envelopeAddresses(env.To)
	}
	if len(email.Cc) == 0 {
		email.Cc = envelopeAddresses(env.Cc)
	}
	if email.Subject == "" && env.Subject != "" {
		if decoded, err := DecodeHeader(env.Subject); err == nil {
			email.Subject = decoded
		} else {
			email.Subject = env.Subject
		}
		email.SubjectNormalized = NormalizeSubject(email.Subject)
	}
}

func envelopeAddress(a *imap.Address) *models.Address {
	if a == nil || a.MailboxName == "" || a.HostName == "" {
		return nil
	}
	return &models.Address{Email: a.Address(), Name: a.PersonalName}
}

func envelopeAddresses(list []*imap.Address) []models.Address {
	var out []models.Address
	for _, a := range list {
		if addr := envelopeAddress(a); addr != nil {
			out = append(out, *addr)
		}
	}
	return out
}

func headerAddresses(header mail.Header, key string) []models.Address {
	list, err := header.AddressList(key)
	if err != nil {
		return nil
	}
	var out []models.Address
	for _, addr := range list {
		out = append(out, models.Address{Email: addr.Address, Name: addr.Name})
	}
	return out
}

// readAttachment drains the part to measure its decoded size, the content itself is discarded
func readAttachment(body io.Reader, filename, nameParam, contentType string) models.Attachment {
	if filename == "" {
		filename = nameParam
	}
	if filename == "" {
		filename = "unnamed"
	}
	size, _ := io.Copy(io.Discard, body)
	return models.Attachment{Filename: filename, MIMEType: contentType, SizeBytes: size}
}

// Simple regex to extract email address from "From" header, which may contain name and email
func extractEmailAddress(fromHeader string) string {
	return emailAddressPattern.FindString(fromHeader)
}

// DecodeHeader decodes MIME-encoded headers (e.g., "=?UTF-8?B?...?=") to plain text
func DecodeHeader(encoded string) (string, error) {
	decoder := new(mime.WordDecoder)
	decoder.CharsetReader = message.CharsetReader
	decoded, err := decoder.DecodeHeader(encoded)
	if err != nil {
		return "", err
	}
	return decoded, nil
}
