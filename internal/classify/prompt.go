package classify

import (
	"strings"
	"text/template"

	"brokerage-mail-ingestor/internal/models"
)

var promptTemplate = template.Must(template.New("classification").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`Eres un asistente experto en clasificación de correos de seguros en Panamá.

Tu tarea: Analizar el siguiente correo y extraer información estructurada en formato JSON.

CORREO A ANALIZAR:
---
Subject: {{.Subject}}
From: {{.From}}
CC: {{join .Cc ", "}}
Adjuntos: {{if .AttachmentsSummary}}{{.AttachmentsSummary}}{{else}}ninguno{{end}}

Body:
{{if .BodyTextNormalized}}{{.BodyTextNormalized}}{{else}}(vacío){{end}}
---

CATÁLOGO DE CÓDIGOS:

RAMOS (2 dígitos):
01 = Vida
02 = Salud
03 = Auto
04 = Hogar
05 = Empresarial
06 = Accidentes Personales
07 = Colectivos
99 = Otro/Desconocido

ASEGURADORAS (2 dígitos):
01 = ASSA (Vida ASSA)
02 = ASSA (otros ramos)
03 = Mapfre
04 = Fedpa
05 = Acerta
06 = Vivir
07 = Universal
08 = Aseguradora del Istmo
09 = Pan American Life (PALIC)
10 = Internacional de Seguros
99 = Otra/Desconocida

TRÁMITES (1-2 dígitos):
1 = Emisión
2 = Renovación
3 = Inclusión
4 = Exclusión
5 = Modificación
6 = Cancelación
7 = Rehabilitación
8 = Reclamo
9 = Cambio de Corredor
10 = Cotización
99 = Otro

REGLAS DE CLASIFICACIÓN:
1. Si subject vacío y solo PDF adjunto => special_flag: "solo_pdf", confidence baja
2. Si detectas email de broker en CC o texto => broker_email_detected
3. Si NO detectas aseguradora/tramite => agregar a missing_fields
4. Cambio de corredor puede NO tener tipo_poliza (permitido)
5. Vida ASSA => ramo_bucket: "vida_assa"
6. Salud, AP, Vida otras aseguradoras, Colectivos => ramo_bucket: "ramo_personas"
7. Auto, Hogar, Empresarial => ramo_bucket: "ramos_generales"
8. Si no puedes clasificar => ramo_bucket: "desconocido"

RESPONDE ÚNICAMENTE CON JSON (sin markdown, sin backticks):

{
  "ramo_bucket": "vida_assa" | "ramos_generales" | "ramo_personas" | "desconocido",
  "ramo_code": "01" | null,
  "aseguradora_code": "01" | null,
  "tramite_code": "1" | null,
  "tipo_poliza": "string normalizada" | null,
  "broker_email_detected": "email@example.com" | null,
  "case_special_flag": "cambio_corredor_sin_poliza" | "adjuntos_sueltos" | "solo_pdf" | null,
  "confidence": 0.85,
  "missing_fields": ["aseguradora", "tramite"],
  "reasoning_short": "Vida ASSA detectada, broker identificado en CC",
  "should_autoreply_request_more_info": false
}`))

// BuildPrompt renders the classification prompt for one message
func BuildPrompt(input models.ClassificationInput) (string, error) {
	data := struct {
		models.ClassificationInput
		BodyTextNormalized string
	}{ClassificationInput: input}
	if input.BodyTextNormalized != nil {
		data.BodyTextNormalized = *input.BodyTextNormalized
	}

	var b strings.Builder
	if err := promptTemplate.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
