package models

import "time"

// RoleBroker marks a profile that may own cases
const RoleBroker = "broker"

// Case statuses written by the case engine
const (
	CaseStatusNew          = "Nuevo"
	CaseStatusUnclassified = "Sin clasificar"
)

// Routing buckets that pick the master team of a case
const (
	MasterVidaPersonas   = "vida_personas"
	MasterRamosGenerales = "ramos_generales"
)

// History event types
const (
	EventCaseCreated     = "created"
	EventEmailLinked     = "email_linked"
	EventTicketGenerated = "ticket_generated"
)

// BrokerProfile is a portal user that can be assigned as the broker of a case
type BrokerProfile struct {
	ID       string `db:"id"`
	Email    string `db:"email"`
	FullName string `db:"full_name"`
	Role     string `db:"role"`
}

// MasterRouting maps a routing bucket to the master user handling it
type MasterRouting struct {
	Bucket       string `db:"bucket"`
	MasterUserID string `db:"master_user_id"`
}

// Case is a broker request tracked by the operations team
type Case struct {
	ID                  string     `db:"id"`
	Ticket              *string    `db:"ticket"`
	BrokerID            string     `db:"broker_id"`
	MasterBucket        string     `db:"master_bucket"`
	MasterUserID        *string    `db:"master_user_id"`
	Status              string     `db:"status"`
	IsProvisional       bool       `db:"is_provisional"`
	RamoBucket          string     `db:"ramo_bucket"`
	RamoCode            *string    `db:"ramo_code"`
	AseguradoraCode     *string    `db:"aseguradora_code"`
	TramiteCode         *string    `db:"tramite_code"`
	TipoPoliza          *string    `db:"tipo_poliza"`
	CaseSpecialFlag     *string    `db:"case_special_flag"`
	BrokerEmailDetected *string    `db:"broker_email_detected"`
	Confidence          float64    `db:"confidence"`
	MissingFields       StringList `db:"missing_fields"`
	Subject             string     `db:"subject"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// CaseHistoryEvent is an append-only entry of a case timeline
type CaseHistoryEvent struct {
	ID        string
	CaseID    string
	EventType string
	Payload   map[string]interface{}
	CreatedAt time.Time
}
