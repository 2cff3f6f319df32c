package mailparse

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func strPtr(s string) *string { return &s }

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Stacked prefixes", "Re: RE: Fwd: Hola", "Hola"},
		{"Forward short form", "FW: Cotización", "Cotización"},
		{"Whitespace collapsed", "  Renovación   póliza \t 2025 ", "Renovación póliza 2025"},
		{"Prefix in the middle kept", "Póliza re: vida", "Póliza re: vida"},
		{"Empty", "", NoSubject},
		{"Only prefixes", "Re: Fwd:", NoSubject},
		{"No space after prefix", "RE:Siniestro", "Siniestro"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeSubject(tt.input); got != tt.expected {
				t.Errorf("NormalizeSubject(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeBody(t *testing.T) {
	tests := []struct {
		name     string
		input    *string
		expected *string
	}{
		{"Nil", nil, nil},
		{"Empty", strPtr(""), nil},
		{"Whitespace only", strPtr(" \n\n "), nil},
		{"Quoted chain dropped", strPtr("Adjunto póliza\n\n> texto anterior\n> más"), strPtr("Adjunto póliza")},
		{"All quoted kept", strPtr("> a\n> b"), strPtr("> a\n> b")},
		{"All quoted with CRLF kept verbatim", strPtr("> a\r\n> b\r\n"), strPtr("> a\r\n> b\r\n")},
		{"Indented quotes kept verbatim", strPtr("  > a\n\n  > b"), strPtr("  > a\n\n  > b")},
		{"iPhone signature", strPtr("Favor revisar\n\nSent from my iPhone"), strPtr("Favor revisar")},
		{"Spanish signature", strPtr("Gracias\nEnviado desde mi iPhone"), strPtr("Gracias")},
		{"Outlook signature", strPtr("Ok\n\nGet Outlook for Android"), strPtr("Ok")},
		{"Separator line", strPtr("Saludos\n--\nAna"), strPtr("Saludos\n\nAna")},
		{"Blank runs collapsed", strPtr("a\n\n\n\n\nb"), strPtr("a\n\nb")},
		{"CRLF", strPtr("a\r\nb"), strPtr("a\nb")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeBody(tt.input)
			if (got == nil) != (tt.expected == nil) {
				t.Fatalf("NormalizeBody() = %v, want %v", got, tt.expected)
			}
			if got != nil && *got != *tt.expected {
				t.Errorf("NormalizeBody() = %q, want %q", *got, *tt.expected)
			}
		})
	}
}

func TestNormalizeBodyTruncates(t *testing.T) {
	long := strings.Repeat("ñ", MaxNormalizedBodyChars+500)

	got := NormalizeBody(&long)
	if got == nil {
		t.Fatal("Expected a normalized body")
	}
	if n := utf8.RuneCountInString(*got); n != MaxNormalizedBodyChars {
		t.Errorf("Expected %d runes, got %d", MaxNormalizedBodyChars, n)
	}
	if !utf8.ValidString(*got) {
		t.Error("Truncation produced invalid UTF-8")
	}
}

func TestHTMLToText(t *testing.T) {
	got := HTMLToText("<div>Hola<br>mundo</div><style>p{}</style><p>Chao &quot;ok&quot;</p>")

	if strings.Contains(got, "<") || strings.Contains(got, "p{}") {
		t.Errorf("HTMLToText() left markup: %q", got)
	}
	for _, want := range []string{"Hola", "mundo", `Chao "ok"`} {
		if !strings.Contains(got, want) {
			t.Errorf("HTMLToText() = %q, missing %q", got, want)
		}
	}
}
