package models

// Routing buckets assigned by the classifier
const (
	BucketVidaASSA       = "vida_assa"
	BucketRamosGenerales = "ramos_generales"
	BucketRamoPersonas   = "ramo_personas"
	BucketDesconocido    = "desconocido"
)

// Missing field names the classifier may report
const (
	FieldRamo        = "ramo"
	FieldAseguradora = "aseguradora"
	FieldTramite     = "tramite"
	FieldTipoPoliza  = "tipo_poliza"
	FieldBroker      = "broker"
)

// ClassificationInput is what the classifier sees of a message
type ClassificationInput struct {
	Subject            string   `json:"subject"`
	BodyTextNormalized *string  `json:"body_text_normalized"`
	From               string   `json:"from"`
	Cc                 []string `json:"cc"`
	AttachmentsSummary string   `json:"attachments_summary"`
}

// ClassificationResult is the routing decision for a message
type ClassificationResult struct {
	RamoBucket                     string   `json:"ramo_bucket"`
	RamoCode                       *string  `json:"ramo_code"`
	AseguradoraCode                *string  `json:"aseguradora_code"`
	TramiteCode                    *string  `json:"tramite_code"`
	TipoPoliza                     *string  `json:"tipo_poliza"`
	BrokerEmailDetected            *string  `json:"broker_email_detected"`
	CaseSpecialFlag                *string  `json:"case_special_flag"`
	Confidence                     float64  `json:"confidence"`
	MissingFields                  []string `json:"missing_fields"`
	ReasoningShort                 string   `json:"reasoning_short"`
	ShouldAutoreplyRequestMoreInfo bool     `json:"should_autoreply_request_more_info"`
}

// IsKnownBucket reports whether b is one of the routing buckets
func IsKnownBucket(b string) bool {
	switch b {
	case BucketVidaASSA, BucketRamosGenerales, BucketRamoPersonas, BucketDesconocido:
		return true
	}
	return false
}

// Missing reports whether the classifier flagged field as missing
func (r *ClassificationResult) Missing(field string) bool {
	for _, f := range r.MissingFields {
		if f == field {
			return true
		}
	}
	return false
}
