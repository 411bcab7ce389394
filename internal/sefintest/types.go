package sefintest

import (
	"time"
)

// EmitRequest is the JSON body of the emit operation
type EmitRequest struct {
	DpsXMLGZipB64 string `json:"dpsXmlGZipB64" binding:"required"`
}

// EmitResponse is returned when a DPS is accepted
type EmitResponse struct {
	TipoAmbiente          int       `json:"tipoAmbiente"`
	VersaoAplicativo      string    `json:"versaoAplicativo"`
	DataHoraProcessamento time.Time `json:"dataHoraProcessamento"`
	IDDps                 string    `json:"idDps"`
	ChaveAcesso           string    `json:"chaveAcesso"`
	NfseXMLGZipB64        string    `json:"nfseXmlGZipB64"`
}

// EventResponse is returned when an event is registered
type EventResponse struct {
	DataHoraProcessamento time.Time `json:"dataHoraProcessamento"`
	EventoXMLGZipB64      string    `json:"eventoXmlGZipB64"`
}

// APIError is one entry of an error response
type APIError struct {
	Codigo    string `json:"Codigo"`
	Descricao string `json:"Descricao"`
}

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Erros []APIError `json:"erros"`
}

// Request is a call recorded by the fake
type Request struct {
	Method      string
	Path        string
	ContentType string
	Auth        string
	APIKey      string
	ClientCerts int
	XML         []byte
}

// Issued is an NFS-e held by the fake
type Issued struct {
	Numero      int
	ChaveAcesso string
	IDDps       string
	CodVerif    string
	XML         []byte
	Cancelled   bool
}

func errorBody(code, desc string) ErrorResponse {
	return ErrorResponse{Erros: []APIError{{Codigo: code, Descricao: desc}}}
}
