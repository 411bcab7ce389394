// Package validator checks a DPS request before it is built and sent.
//
// Every rule is evaluated; failures are collected rather than returned on
// the first hit. Catalog discrepancies are reported as warnings only.
package validator

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/rezonia/nfse-dps/internal/catalog"
	dec "github.com/rezonia/nfse-dps/internal/decimal"
	"github.com/rezonia/nfse-dps/internal/dps"
	"github.com/rezonia/nfse-dps/internal/model"
)

// DefaultMaxDescriptionLength is the longest accepted service description, in characters
const DefaultMaxDescriptionLength = 2000

const (
	dateLayout = "2006-01-02"

	locationDigits = 7
	serviceDigits  = 6
	seriesDigits   = 5
	numberDigits   = 15
)

// Rule names reported in ValidationError.Rule
const (
	RuleRequired   = "required"
	RuleFormat     = "format"
	RuleEnum       = "enum"
	RuleRange      = "range"
	RuleCrossField = "cross_field"
	RuleExclusive  = "exclusive"
)

// AliquotCatalog is the part of the catalog gateway the validator needs
type AliquotCatalog interface {
	GetAliquotParametrization(ctx context.Context, location, service, competence string, force bool) (*catalog.Lookup, error)
}

// Validator validates requests. It is safe for concurrent use.
type Validator struct {
	maxDescription int
	catalog        AliquotCatalog
	log            zerolog.Logger
	now            func() time.Time
}

// Option configures a Validator
type Option func(*Validator)

// WithMaxDescriptionLength overrides the description length limit
func WithMaxDescriptionLength(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxDescription = n
		}
	}
}

// WithCatalog enables catalog cross-checks
func WithCatalog(c AliquotCatalog) Option {
	return func(v *Validator) {
		v.catalog = c
	}
}

// WithLogger sets the validator logger
func WithLogger(l zerolog.Logger) Option {
	return func(v *Validator) {
		v.log = l
	}
}

// WithClock sets the time source used when dhEmi is omitted
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// New creates a validator
func New(opts ...Option) *Validator {
	v := &Validator{
		maxDescription: DefaultMaxDescriptionLength,
		log:            zerolog.Nop(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate applies the structural and business rules to req
func (v *Validator) Validate(req *model.DpsRequest) *model.ValidationOutcome {
	out := model.NewValidationOutcome()
	if req == nil {
		out.AddError(model.NewValidationError("request", nil, RuleRequired, "request is required"))
		return out
	}

	v.checkDates(out, req)
	v.checkFlags(out, req)
	v.checkIssuer(out, req)
	v.checkTaker(out, req)
	v.checkService(out, req)
	v.checkValues(out, req)
	return out
}

// ValidateAgainstCatalog runs Validate and, when checkCatalog is set, compares
// the supplied rate with the catalog. Catalog problems only add warnings.
func (v *Validator) ValidateAgainstCatalog(ctx context.Context, req *model.DpsRequest, checkCatalog bool) *model.ValidationOutcome {
	out := v.Validate(req)
	if !checkCatalog || req == nil {
		return out
	}
	out.Merge(v.crossCheck(ctx, req))
	return out
}

func (v *Validator) checkDates(out *model.ValidationOutcome, req *model.DpsRequest) {
	var (
		emitted   time.Time
		hasEmit   bool
		competent time.Time
		hasComp   bool
	)

	if raw, ok := req.DhEmi.Get(); ok {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			out.AddError(model.NewValidationError("dhEmi", raw, RuleFormat, "must be an ISO-8601 timestamp with Z or an offset"))
		} else {
			emitted, hasEmit = t, true
		}
	}

	if raw, ok := req.DCompet.Get(); ok {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			out.AddError(model.NewValidationError("dCompet", raw, RuleFormat, "must be a YYYY-MM-DD date"))
		} else {
			competent, hasComp = t, true
		}
	}

	if !hasComp || (req.DhEmi.IsSet() && !hasEmit) {
		return
	}
	if !hasEmit {
		emitted = v.now()
	}

	// compare calendar dates in the emission timestamp's own offset
	y, m, d := emitted.Date()
	emitDate := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if competent.After(emitDate) {
		out.AddError(model.NewValidationError("dCompet", competent.Format(dateLayout), RuleCrossField,
			fmt.Sprintf("competence date must not be later than the emission date %s", emitDate.Format(dateLayout))))
	}
}

func (v *Validator) checkFlags(out *model.ValidationOutcome, req *model.DpsRequest) {
	// tpAmb selects production or staging; guessing it would send
	// production documents flagged as tests
	if amb, ok := req.TpAmb.Get(); !ok {
		out.AddError(model.NewValidationError("tpAmb", nil, RuleRequired, "tpAmb is required"))
	} else if amb != model.AmbienteProducao && amb != model.AmbienteHomologacao {
		out.AddError(model.NewValidationError("tpAmb", amb, RuleEnum, "must be 1 (production) or 2 (staging)"))
	}

	if emit, ok := req.TpEmit.Get(); !ok {
		out.AddError(model.NewValidationError("tpEmit", nil, RuleRequired, "tpEmit is required"))
	} else {
		switch emit {
		case model.EmitentePrestador:
		case model.EmitenteTomador, model.EmitenteIntermediario:
			out.AddError(model.NewValidationError("tpEmit", emit, RuleEnum, "only 1 (issued by the provider) is currently accepted"))
		default:
			out.AddError(model.NewValidationError("tpEmit", emit, RuleEnum, "must be 1, 2 or 3"))
		}
	}

	checkDigits(out, "cLocEmi", req.CLocEmi, locationDigits, true)
}

func (v *Validator) checkIssuer(out *model.ValidationOutcome, req *model.DpsRequest) {
	p := req.Prest
	hasCNPJ, hasCPF := model.HasText(p.CNPJ), model.HasText(p.CPF)

	switch {
	case hasCNPJ && hasCPF:
		out.AddError(model.NewValidationError("prest.CNPJ", nil, RuleExclusive, "provide either prest.CNPJ or prest.CPF, not both"))
	case hasCNPJ:
		checkDocument(out, "prest.CNPJ", model.Text(p.CNPJ), 14)
	case hasCPF:
		checkDocument(out, "prest.CPF", model.Text(p.CPF), 11)
	default:
		out.AddError(model.NewValidationError("prest.CNPJ", nil, RuleRequired, "issuer document (prest.CNPJ or prest.CPF) is required"))
	}

	checkNumeric(out, "serie", req.Serie, seriesDigits)
	checkNumeric(out, "nDPS", req.NDPS, numberDigits)
}

func (v *Validator) checkTaker(out *model.ValidationOutcome, req *model.DpsRequest) {
	t, ok := req.Toma.Get()
	if !ok {
		return
	}

	switch {
	case model.HasText(t.CNPJ) && model.HasText(t.CPF):
		out.AddError(model.NewValidationError("toma.CNPJ", nil, RuleExclusive, "provide either toma.CNPJ or toma.CPF, not both"))
	case model.HasText(t.CNPJ):
		checkDocument(out, "toma.CNPJ", model.Text(t.CNPJ), 14)
	case model.HasText(t.CPF):
		checkDocument(out, "toma.CPF", model.Text(t.CPF), 11)
	}

	if end, ok := t.End.Get(); ok {
		checkDigits(out, "toma.end.cMun", end.CMun, locationDigits, true)
	}
}

func (v *Validator) checkService(out *model.ValidationOutcome, req *model.DpsRequest) {
	loc := req.Serv.LocPrest
	if model.HasText(loc.CLocPrestacao) || !model.HasText(loc.CPaisPrestacao) {
		checkDigits(out, "serv.locPrest.cLocPrestacao", loc.CLocPrestacao, locationDigits, true)
	}

	code := model.Text(req.Serv.CServ.CTribNac)
	digits, ok := stripSeparators(code)
	switch {
	case code == "":
		out.AddError(model.NewValidationError("serv.cServ.cTribNac", nil, RuleRequired, "national service code is required"))
	case !ok:
		out.AddError(model.NewValidationError("serv.cServ.cTribNac", code, RuleFormat, "must contain digits only"))
	case len(expandServiceCode(digits)) != serviceDigits:
		out.AddError(model.NewValidationError("serv.cServ.cTribNac", code, RuleFormat,
			fmt.Sprintf("must normalize to exactly %d digits", serviceDigits)))
	}

	desc := model.Text(req.Serv.CServ.XDescServ)
	switch {
	case desc == "":
		out.AddError(model.NewValidationError("serv.cServ.xDescServ", nil, RuleRequired, "service description is required"))
	case utf8.RuneCountInString(desc) > v.maxDescription:
		out.AddError(model.NewValidationError("serv.cServ.xDescServ", utf8.RuneCountInString(desc), RuleRange,
			fmt.Sprintf("must be at most %d characters", v.maxDescription)))
	}
}

func (v *Validator) checkValues(out *model.ValidationOutcome, req *model.DpsRequest) {
	if vServ, ok := req.Valores.VServPrest.VServ.Get(); !ok {
		out.AddError(model.NewValidationError("valores.vServPrest.vServ", nil, RuleRequired, "service value is required"))
	} else if !dec.IsPositive(vServ) {
		out.AddError(model.NewValidationError("valores.vServPrest.vServ", vServ.String(), RuleRange, "must be greater than zero"))
	}

	mun := req.Valores.Trib.TribMun
	trib, hasTrib := mun.TribISSQN.Get()
	if !hasTrib {
		out.AddError(model.NewValidationError("valores.trib.tribMun.tribISSQN", nil, RuleRequired, "tax treatment is required"))
	} else if trib < model.TribISSQNNormal || trib > model.TribISSQNNaoIncide {
		out.AddError(model.NewValidationError("valores.trib.tribMun.tribISSQN", trib, RuleEnum, "must be 1, 2, 3 or 4"))
		hasTrib = false
	}

	ret, hasRet := mun.TpRetISSQN.Get()
	if !hasRet {
		out.AddError(model.NewValidationError("valores.trib.tribMun.tpRetISSQN", nil, RuleRequired, "withholding indicator is required"))
	} else if ret < model.TpRetNaoRetido || ret > model.TpRetRetidoIntermediario {
		out.AddError(model.NewValidationError("valores.trib.tribMun.tpRetISSQN", ret, RuleEnum, "must be 1, 2 or 3"))
		hasRet = false
	}

	if !hasTrib {
		return
	}

	if trib != model.TribISSQNNormal && hasRet && ret != model.TpRetNaoRetido {
		out.AddError(model.NewValidationError("valores.trib.tribMun.tpRetISSQN", ret, RuleCrossField,
			fmt.Sprintf("must be 1 (not withheld) when tribISSQN is %d", trib)))
	}

	rate, hasRate := mun.PAliq.Get()
	if trib != model.TribISSQNNormal {
		if hasRate {
			out.AddError(model.NewValidationError("valores.trib.tribMun.pAliq", rate.String(), RuleCrossField,
				fmt.Sprintf("must be absent when tribISSQN is %d", trib)))
		}
		return
	}

	switch {
	case !hasRate:
		out.AddError(model.NewValidationError("valores.trib.tribMun.pAliq", nil, RuleRequired, "rate is required when tribISSQN is 1"))
	case !dec.IsPositive(rate):
		out.AddError(model.NewValidationError("valores.trib.tribMun.pAliq", rate.String(), RuleRange, "must be greater than zero"))
	default:
		if pct := dec.NormalizeRate(rate); pct.GreaterThan(dec.MaxISSRate) {
			out.AddError(model.NewValidationError("valores.trib.tribMun.pAliq", pct.String()+"%", RuleRange,
				fmt.Sprintf("exceeds the %s%% ceiling", dec.MaxISSRate.String())))
		}
	}
}

func (v *Validator) crossCheck(ctx context.Context, req *model.DpsRequest) *model.ValidationOutcome {
	out := model.NewValidationOutcome()

	location, locOK := stripSeparators(model.Text(req.Serv.LocPrest.CLocPrestacao))
	code, codeOK := stripSeparators(model.Text(req.Serv.CServ.CTribNac))
	if !locOK || len(location) != locationDigits || !codeOK || code == "" {
		out.AddWarning("catalog cross-check skipped: service location or service code is not usable")
		return out
	}
	if v.catalog == nil {
		out.AddWarning("catalog cross-check skipped: no catalog configured")
		return out
	}

	service := dps.NormalizeServiceCode(code)
	competence := model.Text(req.DCompet)
	if competence == "" {
		competence = v.now().Format(dateLayout)
	}

	summary := &model.CatalogSummary{
		Municipality: location,
		ServiceCode:  service,
		Competence:   competence,
	}
	out.Catalog = summary

	lookup, err := v.catalog.GetAliquotParametrization(ctx, location, service, competence, false)
	if err != nil {
		v.log.Warn().Err(err).Str("municipality", location).Str("service", service).Msg("catalog lookup failed")
		out.AddWarning(fmt.Sprintf("catalog: no aliquot parametrization available for %s/%s (%v)", location, service, err))
		return out
	}
	summary.FromCache = lookup.FromCache
	summary.FetchedAt = lookup.FetchedAt

	remote, ok := catalog.ExtractRate(lookup.Payload)
	if !ok {
		out.AddWarning(fmt.Sprintf("catalog: parametrization for %s/%s carries no rate", location, service))
		return out
	}
	remote = dec.NormalizeRate(remote)
	summary.RemoteRate = model.Some(remote)

	supplied, ok := req.Valores.Trib.TribMun.PAliq.Get()
	if !ok {
		return out
	}
	supplied = dec.NormalizeRate(supplied)
	if !dec.ApproxEqual(supplied, remote, dec.RateTolerance) {
		out.AddWarning(fmt.Sprintf("catalog: pAliq %s%% differs from the published rate %s%% for %s/%s",
			dec.FormatRate(supplied), dec.FormatRate(remote), location, service))
	}
	return out
}

func checkDigits(out *model.ValidationOutcome, field string, o model.Optional[string], width int, required bool) {
	s := model.Text(o)
	if s == "" {
		if required {
			out.AddError(model.NewValidationError(field, nil, RuleRequired, fmt.Sprintf("%s is required", field)))
		}
		return
	}
	if d, ok := stripSeparators(s); !ok || len(d) != width {
		out.AddError(model.NewValidationError(field, s, RuleFormat, fmt.Sprintf("must be exactly %d digits", width)))
	}
}

func checkNumeric(out *model.ValidationOutcome, field string, o model.Optional[string], maxLen int) {
	s := model.Text(o)
	d, ok := stripSeparators(s)
	switch {
	case s == "":
		out.AddError(model.NewValidationError(field, nil, RuleRequired, fmt.Sprintf("%s is required", field)))
	case !ok:
		out.AddError(model.NewValidationError(field, s, RuleFormat, "must contain digits only"))
	case len(d) > maxLen:
		out.AddError(model.NewValidationError(field, s, RuleRange, fmt.Sprintf("must have at most %d digits", maxLen)))
	}
}

func checkDocument(out *model.ValidationOutcome, field, doc string, width int) {
	if digits := dps.OnlyDigits(doc); len(digits) != width {
		out.AddError(model.NewValidationError(field, doc, RuleFormat, fmt.Sprintf("must have %d digits", width)))
	}
}

// expandServiceCode applies the item code expansion without the
// pad-or-truncate fallback, so bad lengths stay detectable
func expandServiceCode(code string) string {
	switch len(code) {
	case 3, 4:
		return dps.NormalizeServiceCode(code)
	default:
		return code
	}
}

// stripSeparators drops the punctuation used in formatted codes
// ("01.07.01", "3550-308") the same way the builder does. ok is false
// when anything other than digits and separators remains, or no digit.
func stripSeparators(s string) (string, bool) {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '/' || r == ' ':
		default:
			return "", false
		}
	}
	d := dps.OnlyDigits(s)
	return d, d != ""
}
