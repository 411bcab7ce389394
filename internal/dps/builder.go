// Package dps builds the XML declaration (DPS) sent to the national NFS-e API.
package dps

import (
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	dec "github.com/rezonia/nfse-dps/internal/decimal"
	"github.com/rezonia/nfse-dps/internal/model"
	"github.com/rezonia/nfse-dps/internal/textenc"
)

// Layout defaults
const (
	DefaultNamespace  = "http://www.sped.fazenda.gov.br/nfse"
	DefaultAppVersion = "nfse-dps/1.0"
	LayoutVersion     = "1.00"

	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02T15:04:05-07:00"
)

// Builder turns a request into a DPS document. It holds configuration only;
// Build is safe for concurrent use.
type Builder struct {
	namespace  string
	appVersion string
	wrapped    bool
	now        func() time.Time
}

// Option configures a Builder
type Option func(*Builder)

// WithWrapped selects whether the DPS is nested in the receipt envelope
func WithWrapped(wrapped bool) Option {
	return func(b *Builder) {
		b.wrapped = wrapped
	}
}

// WithNamespace sets the default XML namespace
func WithNamespace(ns string) Option {
	return func(b *Builder) {
		if ns != "" {
			b.namespace = ns
		}
	}
}

// WithAppVersion sets the verAplic used when the request omits it
func WithAppVersion(v string) Option {
	return func(b *Builder) {
		if v != "" {
			b.appVersion = v
		}
	}
}

// WithClock sets the time source for omitted dates
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBuilder creates a builder. Documents are wrapped by default.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		namespace:  DefaultNamespace,
		appVersion: DefaultAppVersion,
		wrapped:    true,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build produces the XML document for req
func (b *Builder) Build(req *model.DpsRequest) (*model.DpsDocument, error) {
	if req == nil {
		return nil, fmt.Errorf("build dps: nil request")
	}

	id := BuildID(req)

	dpsEl := etree.NewElement("DPS")
	if !b.wrapped {
		dpsEl.CreateAttr("xmlns", b.namespace)
	}
	dpsEl.CreateAttr("versao", LayoutVersion)
	b.writeInfDPS(dpsEl.CreateElement("infDPS"), req, id)

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	if b.wrapped {
		root := doc.CreateElement("NFSe")
		root.CreateAttr("xmlns", b.namespace)
		root.CreateAttr("versao", LayoutVersion)
		inf := root.CreateElement("infNFSe")
		inf.CreateAttr("Id", BuildReceiptID(req))
		inf.AddChild(dpsEl)
	} else {
		doc.SetRoot(dpsEl)
	}

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("build dps %s: %w", id, err)
	}

	return &model.DpsDocument{
		XML:     out,
		ID:      id,
		Wrapped: b.wrapped,
	}, nil
}

func (b *Builder) writeInfDPS(inf *etree.Element, req *model.DpsRequest, id string) {
	inf.CreateAttr("Id", id)

	now := b.now()
	setText(inf, "tpAmb", strconv.Itoa(req.TpAmb.OrElse(model.AmbienteHomologacao)))
	setText(inf, "dhEmi", textOr(req.DhEmi, now.Format(dateTimeLayout)))
	setText(inf, "verAplic", textOr(req.VerAplic, b.appVersion))
	setText(inf, "serie", trimLeadingZeros(OnlyDigits(model.Text(req.Serie))))
	setText(inf, "nDPS", trimLeadingZeros(OnlyDigits(model.Text(req.NDPS))))
	setText(inf, "dCompet", textOr(req.DCompet, now.Format(dateLayout)))
	setText(inf, "tpEmit", strconv.Itoa(req.TpEmit.OrElse(model.EmitentePrestador)))
	setText(inf, "cLocEmi", FitDigits(model.Text(req.CLocEmi), widthLocation))

	writePrestador(inf.CreateElement("prest"), req.Prest)
	if toma, ok := req.Toma.Get(); ok {
		writeTomador(inf.CreateElement("toma"), toma)
	}
	writeServico(inf.CreateElement("serv"), req.Serv)
	writeValores(inf.CreateElement("valores"), req.Valores)
}

func writePrestador(el *etree.Element, p model.Prestador) {
	writeDocument(el, p.Document())
	setOptional(el, "IM", p.IM)
	setOptional(el, "xNome", p.XNome)
	setOptional(el, "fone", p.Fone)
	setOptional(el, "email", p.Email)

	reg := el.CreateElement("regTrib")
	setText(reg, "opSimpNac", strconv.Itoa(p.RegTrib.OpSimpNac.OrElse(1)))
	if v, ok := p.RegTrib.RegApTribSN.Get(); ok {
		setText(reg, "regApTribSN", strconv.Itoa(v))
	}
	setText(reg, "regEspTrib", strconv.Itoa(p.RegTrib.RegEspTrib.OrElse(0)))
}

func writeTomador(el *etree.Element, t model.Tomador) {
	writeDocument(el, t.Document())
	setOptional(el, "IM", t.IM)
	setOptional(el, "xNome", t.XNome)

	if end, ok := t.End.Get(); ok {
		endEl := el.CreateElement("end")
		nac := endEl.CreateElement("endNac")
		setText(nac, "cMun", FitDigits(model.Text(end.CMun), widthLocation))
		setText(nac, "CEP", FitDigits(model.Text(end.CEP), 8))
		setOptional(endEl, "xLgr", end.XLgr)
		setOptional(endEl, "nro", end.Nro)
		setOptional(endEl, "xCpl", end.XCpl)
		setOptional(endEl, "xBairro", end.XBairro)
	}

	setOptional(el, "fone", t.Fone)
	setOptional(el, "email", t.Email)
}

// writeDocument picks the identification element from the document length
func writeDocument(el *etree.Element, doc string) {
	digits := OnlyDigits(doc)
	switch len(digits) {
	case 11:
		setText(el, "CPF", digits)
	case 14:
		setText(el, "CNPJ", digits)
	default:
		if doc != "" {
			setText(el, "NIF", doc)
		}
	}
}

func writeServico(el *etree.Element, s model.Servico) {
	loc := el.CreateElement("locPrest")
	if model.HasText(s.LocPrest.CLocPrestacao) {
		setText(loc, "cLocPrestacao", FitDigits(model.Text(s.LocPrest.CLocPrestacao), widthLocation))
	} else {
		setOptional(loc, "cPaisPrestacao", s.LocPrest.CPaisPrestacao)
	}

	c := el.CreateElement("cServ")
	setText(c, "cTribNac", NormalizeServiceCode(model.Text(s.CServ.CTribNac)))
	setOptional(c, "cTribMun", s.CServ.CTribMun)
	setText(c, "xDescServ", model.Text(s.CServ.XDescServ))
	setOptional(c, "cNBS", s.CServ.CNBS)
}

func writeValores(el *etree.Element, v model.Valores) {
	vsp := el.CreateElement("vServPrest")
	if receb, ok := v.VServPrest.VReceb.Get(); ok {
		setText(vsp, "vReceb", dec.FormatMoney(receb))
	}
	setText(vsp, "vServ", dec.FormatMoney(v.VServPrest.VServ.OrElse(decimal.Zero)))

	trib := el.CreateElement("trib")
	mun := trib.CreateElement("tribMun")
	setText(mun, "tribISSQN", strconv.Itoa(v.Trib.TribMun.TribISSQN.OrElse(model.TribISSQNNormal)))
	if aliq, ok := v.Trib.TribMun.PAliq.Get(); ok {
		setText(mun, "pAliq", dec.FormatRate(dec.NormalizeRate(aliq)))
	}
	setText(mun, "tpRetISSQN", strconv.Itoa(v.Trib.TribMun.TpRetISSQN.OrElse(model.TpRetNaoRetido)))

	tot := trib.CreateElement("totTrib")
	if p, ok := v.Trib.TotTrib.PTotTribSN.Get(); ok {
		setText(tot, "pTotTribSN", dec.FormatRate(p))
	} else {
		setText(tot, "indTotTrib", strconv.Itoa(v.Trib.TotTrib.IndTotTrib.OrElse(0)))
	}
}

func setText(parent *etree.Element, tag, value string) {
	parent.CreateElement(tag).SetText(textenc.Normalize(value))
}

func setOptional(parent *etree.Element, tag string, o model.Optional[string]) {
	if model.HasText(o) {
		setText(parent, tag, model.Text(o))
	}
}

func textOr(o model.Optional[string], def string) string {
	if model.HasText(o) {
		return model.Text(o)
	}
	return def
}
