package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValidationOutcome is produced once per request by the validator.
// Errors block transmission, warnings do not.
type ValidationOutcome struct {
	Valid    bool            `json:"valid"`
	Errors   []string        `json:"errors"`
	Warnings []string        `json:"warnings"`
	Catalog  *CatalogSummary `json:"catalog,omitempty"`
}

// CatalogSummary describes what the remote parametrization said about the request
type CatalogSummary struct {
	Municipality string                    `json:"municipality"`
	ServiceCode  string                    `json:"service_code,omitempty"`
	Competence   string                    `json:"competence,omitempty"`
	RemoteRate   Optional[decimal.Decimal] `json:"remote_rate,omitzero"`
	FromCache    bool                      `json:"from_cache"`
	FetchedAt    time.Time                 `json:"fetched_at"`
}

// NewValidationOutcome creates an empty, valid outcome
func NewValidationOutcome() *ValidationOutcome {
	return &ValidationOutcome{
		Valid:    true,
		Errors:   make([]string, 0),
		Warnings: make([]string, 0),
	}
}

// AddError records a blocking problem and marks the outcome invalid
func (o *ValidationOutcome) AddError(err *ValidationError) {
	o.Errors = append(o.Errors, err.Error())
	o.Valid = false
}

// AddWarning records a non-blocking problem
func (o *ValidationOutcome) AddWarning(msg string) {
	o.Warnings = append(o.Warnings, msg)
}

// Merge appends the errors and warnings of other
func (o *ValidationOutcome) Merge(other *ValidationOutcome) {
	if other == nil {
		return
	}
	o.Errors = append(o.Errors, other.Errors...)
	o.Warnings = append(o.Warnings, other.Warnings...)
	if other.Catalog != nil {
		o.Catalog = other.Catalog
	}
	o.Valid = len(o.Errors) == 0
}

// AsError returns nil for a valid outcome, a *ValidationErrors otherwise
func (o *ValidationOutcome) AsError() error {
	if o.Valid {
		return nil
	}
	return &ValidationErrors{Errors: o.Errors, Warnings: o.Warnings}
}

// DpsDocument is a built DPS. One document corresponds to one request.
type DpsDocument struct {
	XML     []byte
	ID      string
	Wrapped bool
}

// TransmissionResult is the normalized outcome of a call to the national API
type TransmissionResult struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	Numero            string `json:"numero,omitempty"`
	CodigoVerificacao string `json:"codigo_verificacao,omitempty"`
	Protocolo         string `json:"protocolo,omitempty"`
	ChaveAcesso       string `json:"chave_acesso,omitempty"`
	IDDps             string `json:"id_dps,omitempty"`
	Link              string `json:"link,omitempty"`
	XMLRetorno        string `json:"xml_retorno,omitempty"`
}

// FailedTransmission returns a failure result carrying message
func FailedTransmission(message string) TransmissionResult {
	return TransmissionResult{Success: false, Message: message}
}
