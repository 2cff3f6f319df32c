package classify

import (
	"context"
	"strings"

	"brokerage-mail-ingestor/internal/models"
)

// Classifier decides the routing of a message
type Classifier interface {
	Classify(ctx context.Context, input models.ClassificationInput) (*models.ClassificationResult, error)
}

// coreFields must all be known before a case can get a ticket
var coreFields = []string{models.FieldRamo, models.FieldAseguradora, models.FieldTramite}

// sanitize brings a result into the shape the case engine relies on: a known bucket,
// a confidence within [0,1], no empty codes and every unknown core field listed as missing.
func sanitize(r *models.ClassificationResult) *models.ClassificationResult {
	r.RamoBucket = strings.ToLower(strings.TrimSpace(r.RamoBucket))
	if !models.IsKnownBucket(r.RamoBucket) {
		r.RamoBucket = models.BucketDesconocido
	}

	switch {
	case r.Confidence < 0:
		r.Confidence = 0
	case r.Confidence > 1:
		r.Confidence = 1
	}

	r.RamoCode = blankToNil(r.RamoCode)
	r.AseguradoraCode = blankToNil(r.AseguradoraCode)
	r.TramiteCode = blankToNil(r.TramiteCode)
	r.TipoPoliza = blankToNil(r.TipoPoliza)
	r.BrokerEmailDetected = blankToNil(r.BrokerEmailDetected)
	r.CaseSpecialFlag = blankToNil(r.CaseSpecialFlag)

	if r.MissingFields == nil {
		r.MissingFields = []string{}
	}
	codes := map[string]*string{
		models.FieldRamo:        r.RamoCode,
		models.FieldAseguradora: r.AseguradoraCode,
		models.FieldTramite:     r.TramiteCode,
	}
	for _, field := range coreFields {
		if codes[field] == nil && !r.Missing(field) {
			r.MissingFields = append(r.MissingFields, field)
		}
	}

	return r
}

func blankToNil(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" || strings.EqualFold(trimmed, "null") {
		return nil
	}
	return &trimmed
}
