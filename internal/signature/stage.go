// Package signature signs DPS documents with the issuer's certificate.
//
// The stage runs in one of three modes. In ModeOptional any problem with
// the certificate or the signing primitive degrades to an unsigned
// document; in ModeRequired the same problems are returned as
// *SignatureError. Every mode re-emits the UTF-8 prologue.
package signature

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"

	"github.com/rezonia/nfse-dps/internal/certificate"
	"github.com/rezonia/nfse-dps/internal/model"
	"github.com/rezonia/nfse-dps/internal/textenc"
)

// Prologue is written at the top of every document leaving the stage
const Prologue = `<?xml version="1.0" encoding="UTF-8"?>`

// Stage applies the signature mode to documents. It is safe for concurrent use.
type Stage struct {
	signer Signer
	log    zerolog.Logger
	now    func() time.Time
}

// StageOption configures a Stage
type StageOption func(*Stage)

// WithSigner replaces the signing primitive
func WithSigner(s Signer) StageOption {
	return func(st *Stage) {
		if s != nil {
			st.signer = s
		}
	}
}

// WithLogger sets the stage logger
func WithLogger(l zerolog.Logger) StageOption {
	return func(st *Stage) {
		st.log = l
	}
}

// WithClock sets the time used for certificate validity checks
func WithClock(now func() time.Time) StageOption {
	return func(st *Stage) {
		if now != nil {
			st.now = now
		}
	}
}

// NewStage creates a stage using XMLDSigSigner by default
func NewStage(opts ...StageOption) *Stage {
	s := &Stage{
		signer: NewXMLDSigSigner(),
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process applies mode to data and returns the resulting document
func (s *Stage) Process(ctx context.Context, data []byte, mode Mode, provider certificate.Provider) ([]byte, error) {
	res, err := s.Sign(ctx, data, mode, provider)
	if err != nil {
		return nil, err
	}
	return res.XML, nil
}

// Sign applies mode to data and reports what was done
func (s *Stage) Sign(ctx context.Context, data []byte, mode Mode, provider certificate.Provider) (*Result, error) {
	switch mode {
	case ModeNone, ModeOptional, ModeRequired:
	default:
		return nil, ErrUnsupportedMode(string(mode))
	}

	clean, err := textenc.EnsureUTF8(data)
	if err != nil {
		return nil, model.NewEncodingError("signature", "document cannot be converted to UTF-8", err)
	}

	res := &Result{Mode: mode, XML: clean}

	if mode != ModeNone {
		if err := s.sign(ctx, res, clean, provider); err != nil {
			if mode == ModeRequired {
				return nil, err
			}
			s.log.Warn().Err(err).Msg("signature skipped, sending unsigned document")
			res.AddWarning(err.Error())
			res.XML = clean
		}
	}

	out, err := finalize(res.XML)
	if err != nil {
		return nil, err
	}
	res.XML = out
	return res, nil
}

func (s *Stage) sign(ctx context.Context, res *Result, data []byte, provider certificate.Provider) error {
	m, err := materialFrom(ctx, provider)
	if err != nil {
		return ErrNoCertificate(err)
	}

	if err := m.CheckValidity(s.now()); err != nil {
		var verr *certificate.ValidityError
		if errors.As(err, &verr) && !verr.Expired {
			return ErrCertNotYetValid(m.Subject)
		}
		return ErrCertExpired(m.Subject)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(stripPrologue(data)); err != nil {
		return ErrMalformedXML(err)
	}

	target, err := ResolveTarget(doc)
	if err != nil {
		return err
	}
	res.Target = target.Tag
	res.TargetID = target.SelectAttrValue(IDAttribute, "")

	if signatureFor(target) != nil {
		res.Signed = true
		res.AddWarning("document already carries a signature, left untouched")
		return nil
	}

	if err := s.signer.Sign(target, m); err != nil {
		return ErrSigningFailed(err)
	}

	out, err := doc.WriteToBytes()
	if err != nil {
		return ErrSigningFailed(err)
	}

	res.XML = out
	res.Signed = true
	res.SetSigner(m.Leaf)
	s.log.Debug().Str("target", res.TargetID).Msg("document signed")
	return nil
}

func materialFrom(ctx context.Context, provider certificate.Provider) (*certificate.Material, error) {
	if provider == nil {
		return nil, certificate.ErrNoCertificate
	}
	return provider.Certificate(ctx)
}

// finalize guarantees valid UTF-8 behind a single canonical prologue
func finalize(data []byte) ([]byte, error) {
	clean, err := textenc.EnsureUTF8(data)
	if err != nil {
		return nil, model.NewEncodingError("signature", "document cannot be converted to UTF-8", err)
	}

	body := stripPrologue(clean)
	out := make([]byte, 0, len(Prologue)+len(body))
	out = append(out, Prologue...)
	return append(out, body...), nil
}

// stripPrologue drops a leading XML declaration, whatever encoding it names
func stripPrologue(data []byte) []byte {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if !bytes.HasPrefix(trimmed, []byte("<?xml")) {
		return trimmed
	}
	end := bytes.Index(trimmed, []byte("?>"))
	if end < 0 {
		return trimmed
	}
	return bytes.TrimLeft(trimmed[end+2:], " \t\r\n")
}
