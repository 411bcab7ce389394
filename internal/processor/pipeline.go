// Package processor runs a DPS through validation, building, signing,
// transmission and response interpretation.
package processor

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rezonia/nfse-dps/internal/certificate"
	"github.com/rezonia/nfse-dps/internal/dps"
	"github.com/rezonia/nfse-dps/internal/model"
	"github.com/rezonia/nfse-dps/internal/response"
	"github.com/rezonia/nfse-dps/internal/signature"
	"github.com/rezonia/nfse-dps/internal/transport"
	"github.com/rezonia/nfse-dps/internal/validator"
)

// Step identifies how far a call got
type Step string

// Pipeline steps, in order
const (
	StepValidate  Step = "validate"
	StepBuild     Step = "build"
	StepSign      Step = "sign"
	StepTransmit  Step = "transmit"
	StepInterpret Step = "interpret"
)

// Sender transmits a document for an operation and returns the raw answer
type Sender interface {
	Send(ctx context.Context, op transport.Operation, xml []byte, opts ...transport.SendOption) ([]byte, error)
}

// Result holds everything a call produced. Error is set when the call
// stopped before an answer could be interpreted; a rejected document is
// reported through Transmission, not Error.
type Result struct {
	Validation   *model.ValidationOutcome
	Document     *model.DpsDocument
	XML          []byte
	Signed       bool
	Transmission *model.TransmissionResult
	Warnings     []string
	Step         Step
	Error        error
}

func (r *Result) fail(step Step, err error) *Result {
	r.Step = step
	r.Error = err
	return r
}

// Pipeline wires the stages together. It holds no per-call state.
type Pipeline struct {
	validator    *validator.Validator
	builder      *dps.Builder
	stage        *signature.Stage
	mode         signature.Mode
	certs        certificate.Provider
	sender       Sender
	interpreter  *response.Interpreter
	checkCatalog bool
	log          zerolog.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithValidator sets the request validator
func WithValidator(v *validator.Validator) Option {
	return func(p *Pipeline) {
		if v != nil {
			p.validator = v
		}
	}
}

// WithBuilder sets the document builder
func WithBuilder(b *dps.Builder) Option {
	return func(p *Pipeline) {
		if b != nil {
			p.builder = b
		}
	}
}

// WithSignatureStage sets the signing stage
func WithSignatureStage(s *signature.Stage) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.stage = s
		}
	}
}

// WithSignatureMode sets the signing mode
func WithSignatureMode(m signature.Mode) Option {
	return func(p *Pipeline) {
		p.mode = m
	}
}

// WithCertificate sets the certificate used for signing
func WithCertificate(c certificate.Provider) Option {
	return func(p *Pipeline) {
		p.certs = c
	}
}

// WithSender sets the transport
func WithSender(s Sender) Option {
	return func(p *Pipeline) {
		p.sender = s
	}
}

// WithInterpreter sets the response interpreter
func WithInterpreter(i *response.Interpreter) Option {
	return func(p *Pipeline) {
		if i != nil {
			p.interpreter = i
		}
	}
}

// WithCatalogCheck enables the rate cross-check against the catalog
func WithCatalogCheck(enabled bool) Option {
	return func(p *Pipeline) {
		p.checkCatalog = enabled
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.log = l
	}
}

// NewPipeline creates a pipeline. Without a sender only Prepare is usable.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		validator:   validator.New(),
		builder:     dps.NewBuilder(),
		stage:       signature.NewStage(),
		mode:        signature.ModeOptional,
		interpreter: response.New(),
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prepare validates, builds and signs req without sending it
func (p *Pipeline) Prepare(ctx context.Context, req *model.DpsRequest) *Result {
	res := &Result{Step: StepValidate}

	outcome := p.validator.ValidateAgainstCatalog(ctx, req, p.checkCatalog)
	res.Validation = outcome
	res.Warnings = append(res.Warnings, outcome.Warnings...)
	if err := outcome.AsError(); err != nil {
		p.log.Info().Int("errors", len(outcome.Errors)).Msg("request rejected by validation")
		return res.fail(StepValidate, err)
	}

	doc, err := p.builder.Build(req)
	if err != nil {
		return res.fail(StepBuild, err)
	}
	res.Document = doc
	res.Step = StepBuild

	signed, err := p.stage.Sign(ctx, doc.XML, p.mode, p.certs)
	if err != nil {
		p.log.Error().Err(err).Str("dps_id", doc.ID).Msg("signing failed")
		return res.fail(StepSign, err)
	}
	res.XML = signed.XML
	res.Signed = signed.Signed
	res.Warnings = append(res.Warnings, signed.Warnings...)
	res.Step = StepSign

	p.log.Debug().Str("dps_id", doc.ID).Bool("signed", signed.Signed).Msg("document prepared")
	return res
}

// Emit runs the full pipeline for req
func (p *Pipeline) Emit(ctx context.Context, req *model.DpsRequest) *Result {
	res := p.Prepare(ctx, req)
	if res.Error != nil {
		return res
	}
	return p.transmit(ctx, res, transport.OpEmit)
}

// Submit sends an already prepared document for op and interprets the answer
func (p *Pipeline) Submit(ctx context.Context, op transport.Operation, xml []byte, opts ...transport.SendOption) *Result {
	res := &Result{XML: xml, Step: StepTransmit}
	return p.transmit(ctx, res, op, opts...)
}

// QueryByKey looks up an issued NFS-e by its access key
func (p *Pipeline) QueryByKey(ctx context.Context, key string) *Result {
	xml, err := p.builder.BuildKeyQuery(key)
	if err != nil {
		return (&Result{}).fail(StepBuild, err)
	}
	return p.Submit(ctx, transport.OpQueryByKey, xml, transport.WithPathParam("chaveAcesso", key))
}

// QueryByDPS looks up the NFS-e issued for a DPS identifier
func (p *Pipeline) QueryByDPS(ctx context.Context, id string) *Result {
	xml, err := p.builder.BuildDPSQuery(id)
	if err != nil {
		return (&Result{}).fail(StepBuild, err)
	}
	return p.Submit(ctx, transport.OpQueryByDPS, xml, transport.WithPathParam("idDps", id))
}

// DownloadXML fetches the XML of an issued NFS-e
func (p *Pipeline) DownloadXML(ctx context.Context, key string) *Result {
	xml, err := p.builder.BuildKeyQuery(key)
	if err != nil {
		return (&Result{}).fail(StepBuild, err)
	}
	return p.Submit(ctx, transport.OpDownloadXML, xml, transport.WithPathParam("chaveAcesso", key))
}

// DownloadDANFSe asks for the rendered document link of an issued NFS-e
func (p *Pipeline) DownloadDANFSe(ctx context.Context, key string) *Result {
	xml, err := p.builder.BuildKeyQuery(key)
	if err != nil {
		return (&Result{}).fail(StepBuild, err)
	}
	return p.Submit(ctx, transport.OpDownloadDANFSe, xml, transport.WithPathParam("chaveAcesso", key))
}

// Cancel builds, signs and sends a cancellation event
func (p *Pipeline) Cancel(ctx context.Context, r dps.CancelRequest) *Result {
	xml, id, err := p.builder.BuildCancellation(r)
	if err != nil {
		return (&Result{}).fail(StepBuild, err)
	}

	res := &Result{Step: StepSign}
	signed, err := p.stage.Sign(ctx, xml, p.mode, p.certs)
	if err != nil {
		p.log.Error().Err(err).Str("event_id", id).Msg("signing failed")
		return res.fail(StepSign, err)
	}
	res.XML = signed.XML
	res.Signed = signed.Signed
	res.Warnings = append(res.Warnings, signed.Warnings...)

	return p.transmit(ctx, res, transport.OpCancel, transport.WithPathParam("chaveAcesso", r.AccessKey))
}

func (p *Pipeline) transmit(ctx context.Context, res *Result, op transport.Operation, opts ...transport.SendOption) *Result {
	if p.sender == nil {
		return res.fail(StepTransmit, model.NewConfigError("transport", "no transport configured"))
	}

	body, err := p.sender.Send(ctx, op, res.XML, opts...)
	if err != nil {
		p.log.Error().Err(err).Str("operation", string(op)).Msg("transmission failed")
		return res.fail(StepTransmit, err)
	}

	tr := p.interpreter.Parse(body)
	res.Transmission = &tr
	res.Step = StepInterpret

	p.log.Info().
		Str("operation", string(op)).
		Bool("success", tr.Success).
		Str("numero", tr.Numero).
		Str("chave_acesso", tr.ChaveAcesso).
		Msg(tr.Message)
	return res
}
