package mailparse

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy = bluemonday.StrictPolicy()
	blockTags    = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/tr|/li|/h[1-6])\s*/?>`)
	spaceRuns    = regexp.MustCompile(`[ \t]+`)
)

// HTMLToText flattens an HTML body into plain text for messages without a text/plain part
func HTMLToText(body string) string {
	withBreaks := blockTags.ReplaceAllString(body, "$0\n")
	stripped := html.UnescapeString(strictPolicy.Sanitize(withBreaks))

	lines := strings.Split(stripped, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(spaceRuns.ReplaceAllString(line, " "))
		out = append(out, line)
	}

	return strings.TrimSpace(blankRuns.ReplaceAllString(strings.Join(out, "\n"), "\n\n"))
}
