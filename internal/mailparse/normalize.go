package mailparse

import (
	"regexp"
	"strings"
)

// MaxNormalizedBodyChars bounds the body text handed to the classifier
const MaxNormalizedBodyChars = 3000

// NoSubject replaces subjects that normalize to nothing
const NoSubject = "(no subject)"

var (
	replyPrefix = regexp.MustCompile(`(?i)^(re|fwd?|fw):\s*`)
	whitespace  = regexp.MustCompile(`\s+`)
	blankRuns   = regexp.MustCompile(`\n{3,}`)

	signaturePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)sent from my iphone`),
		regexp.MustCompile(`(?i)enviado desde mi iphone`),
		regexp.MustCompile(`(?i)get outlook for ios`),
		regexp.MustCompile(`(?i)get outlook for android`),
		regexp.MustCompile(`(?m)--[ \t]*$`),
	}
)

// NormalizeSubject removes reply/forward prefixes and collapses whitespace
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		stripped := strings.TrimSpace(replyPrefix.ReplaceAllString(s, ""))
		if stripped == s {
			break
		}
		s = stripped
	}

	s = strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
	if s == "" {
		return NoSubject
	}
	return s
}

// NormalizeBody prepares body text for the classifier: signature boilerplate and
// quoted reply chains are removed and the result is bounded in size. A nil or empty
// input returns nil so callers can tell "no body" apart from an empty string.
// Text made only of quoted lines is returned unchanged.
func NormalizeBody(text *string) *string {
	if text == nil || *text == "" {
		return nil
	}
	if fullyQuoted(*text) {
		original := *text
		return &original
	}

	normalized := strings.ReplaceAll(*text, "\r\n", "\n")
	for _, pattern := range signaturePatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}

	normalized = keepTopPost(normalized)
	normalized = blankRuns.ReplaceAllString(normalized, "\n\n")
	normalized = strings.TrimSpace(truncateRunes(normalized, MaxNormalizedBodyChars))

	if normalized == "" {
		return nil
	}
	return &normalized
}

// keepTopPost drops quoted lines. When every line with content is quoted the text
// is returned untouched, otherwise the whole message would be lost.
func keepTopPost(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	hasContent := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		if trimmed != "" {
			hasContent = true
		}
		kept = append(kept, line)
	}

	if !hasContent {
		return text
	}
	return strings.Join(kept, "\n")
}

// fullyQuoted reports whether every line with content starts with '>'
func fullyQuoted(text string) bool {
	quoted := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, ">") {
			return false
		}
		quoted = true
	}
	return quoted
}

func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
