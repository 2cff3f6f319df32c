package caseengine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"brokerage-mail-ingestor/internal/models"
)

// Tickets are dated in the brokerage's local time (UTC-5, no daylight saving)
var ticketZone = time.FixedZone("America/Panama", -5*60*60)

// CanGenerateTicket reports whether all three catalog codes are present
func CanGenerateTicket(cls *models.ClassificationResult) bool {
	return present(cls.RamoCode) && present(cls.AseguradoraCode) && present(cls.TramiteCode)
}

// TicketPrefix builds AAMM + ramo(2) + aseguradora(2) + tramite(2)
func TicketPrefix(at time.Time, ramo, aseguradora, tramite string) string {
	return at.In(ticketZone).Format("0601") + pad2(ramo) + pad2(aseguradora) + pad2(tramite)
}

// FormatTicket appends the three-digit sequence to a prefix
func FormatTicket(prefix string, seq int) string {
	return fmt.Sprintf("%s%03d", prefix, seq)
}

func (e *StoreEngine) generateTicket(ctx context.Context, cls *models.ClassificationResult, at time.Time) (string, error) {
	prefix := TicketPrefix(at, *cls.RamoCode, *cls.AseguradoraCode, *cls.TramiteCode)
	seq, err := e.repo.NextTicketSequence(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("allocating ticket for %s: %w", prefix, err)
	}
	return FormatTicket(prefix, seq), nil
}

func pad2(code string) string {
	code = strings.TrimSpace(code)
	if len(code) >= 2 {
		return code
	}
	return strings.Repeat("0", 2-len(code)) + code
}

func present(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}
