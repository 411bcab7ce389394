// Package nfsedps provides a public API for issuing NFS-e through the
// national DPS flow.
//
// A Client validates a request, builds the DPS XML, signs it, sends it to the
// national API and interprets the answer.
//
// Example usage:
//
//	cfg, err := nfsedps.LoadConfig("nfse.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := nfsedps.NewClient(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//	res := client.Emit(ctx, req)
//	if res.Error != nil {
//	    log.Fatal(res.Error)
//	}
//	fmt.Println(res.Transmission.ChaveAcesso)
package nfsedps

import (
	"github.com/rezonia/nfse-dps/internal/catalog"
	"github.com/rezonia/nfse-dps/internal/certificate"
	"github.com/rezonia/nfse-dps/internal/config"
	"github.com/rezonia/nfse-dps/internal/dps"
	"github.com/rezonia/nfse-dps/internal/model"
	"github.com/rezonia/nfse-dps/internal/processor"
	"github.com/rezonia/nfse-dps/internal/signature"
	"github.com/rezonia/nfse-dps/internal/transport"
)

// Re-export request types
type (
	DpsRequest = model.DpsRequest
	Prestador  = model.Prestador
	RegTrib    = model.RegTrib
	Tomador    = model.Tomador
	Endereco   = model.Endereco
	Servico    = model.Servico
	LocPrest   = model.LocPrest
	CServ      = model.CServ
	Valores    = model.Valores
	VServPrest = model.VServPrest
	Trib       = model.Trib
	TribMun    = model.TribMun
	TotTrib    = model.TotTrib

	CancelRequest = dps.CancelRequest
)

// Optional is a present-or-absent request value
type Optional[T any] = model.Optional[T]

// Some returns a present Optional
func Some[T any](v T) Optional[T] {
	return model.Some(v)
}

// Re-export result types
type (
	Result             = processor.Result
	Step               = processor.Step
	ValidationOutcome  = model.ValidationOutcome
	TransmissionResult = model.TransmissionResult
	DpsDocument        = model.DpsDocument
	SignatureResult    = signature.Result
	CatalogLookup      = catalog.Lookup
)

// Re-export configuration and certificate types
type (
	Config              = config.Config
	CertificateProvider = certificate.Provider
	CertificateMaterial = certificate.Material
	Operation           = transport.Operation
)

// Re-export tax treatment codes
const (
	TribISSQNNormal     = model.TribISSQNNormal
	TribISSQNImunidade  = model.TribISSQNImunidade
	TribISSQNExportacao = model.TribISSQNExportacao
	TribISSQNNaoIncide  = model.TribISSQNNaoIncide

	AmbienteProducao    = model.AmbienteProducao
	AmbienteHomologacao = model.AmbienteHomologacao
)

// Re-export error types
type (
	ValidationError  = model.ValidationError
	ValidationErrors = model.ValidationErrors
	EncodingError    = model.EncodingError
	TransportError   = model.TransportError
	ConfigError      = model.ConfigError
	SignatureError   = signature.SignatureError
)
