package classify

import (
	"context"
	"regexp"
	"strings"

	"brokerage-mail-ingestor/internal/models"
)

type keywordRule struct {
	name     string
	code     string
	patterns []*regexp.Regexp
}

func rule(name, code string, keywords ...string) keywordRule {
	r := keywordRule{name: name, code: code}
	for _, kw := range keywords {
		// letters and digits on either side mean the keyword is part of another word
		r.patterns = append(r.patterns, regexp.MustCompile(`(^|[^\p{L}\p{N}])`+regexp.QuoteMeta(kw)+`($|[^\p{L}\p{N}])`))
	}
	return r
}

// Tables are checked in order, the first matching rule wins
var (
	insurerRules = []keywordRule{
		rule("ASSA", "02", "assa", "assa compañía", "assa.com"),
		rule("MAPFRE", "03", "mapfre", "mapfre panama"),
		rule("FEDPA", "04", "fedpa", "federación"),
		rule("ACERTA", "05", "acerta"),
		rule("VIVIR", "06", "vivir seguros", "vivir"),
		rule("SURA", "99", "sura", "seguros sura"),
		rule("QUALITAS", "99", "qualitas", "quálitas"),
	}

	tramiteRules = []keywordRule{
		rule("COTIZACION", "10", "cotizar", "cotización", "cotizacion", "cot.", "quote", "presupuesto"),
		rule("EMISION", "1", "emitir", "emisión", "emision", "nueva póliza", "nueva poliza"),
		rule("RENOVACION", "2", "renovar", "renovación", "renovacion"),
		rule("INCLUSION", "3", "incluir", "inclusión", "inclusion"),
		rule("EXCLUSION", "4", "excluir", "exclusión", "exclusion"),
		rule("REHABILITACION", "7", "rehabilitar", "rehabilitación", "rehabilitacion"),
		rule("MODIFICACION", "5", "modificar", "modificación", "modificacion"),
		rule("CANCELACION", "6", "cancelar", "cancelación", "cancelacion"),
		rule("CAMBIO_CORREDOR", "9", "cambio de corredor", "transfer"),
		rule("RECLAMO", "8", "reclamo", "siniestro", "claim"),
	}

	policyRules = []keywordRule{
		rule("VIDA_ASSA", "01", "vida assa"),
		rule("VIDA_WEB", "01", "vida web"),
		rule("VIDA", "01", "vida"),
		rule("SALUD", "02", "salud", "health"),
		rule("AUTO", "03", "auto", "vehículo", "vehiculo"),
		rule("MOTO", "03", "moto"),
		rule("INCENDIO", "04", "incendio", "fire"),
		rule("AP", "06", "accidentes personales"),
		rule("COLECTIVO", "07", "colectivo", "colectiva"),
		rule("RC", "05", "responsabilidad civil", "rc"),
	}
)

var (
	personasPolicies  = map[string]bool{"VIDA_WEB": true, "VIDA": true, "SALUD": true, "AP": true, "COLECTIVO": true}
	generalesPolicies = map[string]bool{"AUTO": true, "MOTO": true, "INCENDIO": true, "RC": true}
)

// KeywordClassifier is a deterministic classifier for when AI classification is disabled
type KeywordClassifier struct{}

// NewKeywordClassifier creates a KeywordClassifier
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify matches the subject and body against the keyword tables
func (k *KeywordClassifier) Classify(ctx context.Context, input models.ClassificationInput) (*models.ClassificationResult, error) {
	text := input.Subject
	if input.BodyTextNormalized != nil {
		text += " " + *input.BodyTextNormalized
	}
	text = strings.Join(strings.Fields(strings.ToLower(text)), " ")

	insurer := match(insurerRules, text)
	tramite := match(tramiteRules, text)
	policy := match(policyRules, text)

	result := &models.ClassificationResult{
		RamoBucket:    models.BucketDesconocido,
		MissingFields: []string{},
	}
	var reasons []string

	if insurer != nil {
		code := insurer.code
		if insurer.name == "ASSA" && policy != nil && strings.HasPrefix(policy.name, "VIDA") {
			code = "01"
		}
		result.AseguradoraCode = &code
		result.Confidence += 0.3
		reasons = append(reasons, "aseguradora "+insurer.name)
	}
	if tramite != nil {
		code := tramite.code
		result.TramiteCode = &code
		result.Confidence += 0.3
		reasons = append(reasons, "trámite "+tramite.name)
	}
	if policy != nil {
		code, name := policy.code, policy.name
		result.RamoCode = &code
		result.TipoPoliza = &name
		result.Confidence += 0.2
		reasons = append(reasons, "póliza "+name)
	} else {
		result.MissingFields = append(result.MissingFields, models.FieldTipoPoliza)
	}

	result.RamoBucket = bucketFor(insurer, policy)
	if result.RamoBucket != models.BucketDesconocido {
		result.Confidence += 0.2
	}

	if len(reasons) == 0 {
		result.ReasoningShort = "Sin coincidencias de palabras clave"
	} else {
		result.ReasoningShort = "Palabras clave: " + strings.Join(reasons, ", ")
	}
	result.ShouldAutoreplyRequestMoreInfo = result.RamoBucket == models.BucketDesconocido

	return sanitize(result), nil
}

func bucketFor(insurer, policy *keywordRule) string {
	if policy == nil {
		return models.BucketDesconocido
	}
	switch {
	case policy.name == "VIDA_ASSA", insurer != nil && insurer.name == "ASSA" && strings.HasPrefix(policy.name, "VIDA"):
		return models.BucketVidaASSA
	case personasPolicies[policy.name]:
		return models.BucketRamoPersonas
	case generalesPolicies[policy.name]:
		return models.BucketRamosGenerales
	}
	return models.BucketDesconocido
}

func match(rules []keywordRule, text string) *keywordRule {
	for i := range rules {
		for _, p := range rules[i].patterns {
			if p.MatchString(text) {
				return &rules[i]
			}
		}
	}
	return nil
}
