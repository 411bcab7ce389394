package validator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-dps/internal/catalog"
	"github.com/rezonia/nfse-dps/internal/dps"
	"github.com/rezonia/nfse-dps/internal/model"
	"github.com/rezonia/nfse-dps/internal/testkit"
)

func errorsMention(out *model.ValidationOutcome, field string) bool {
	for _, e := range out.Errors {
		if strings.Contains(e, field) {
			return true
		}
	}
	return false
}

func TestValidate_ValidRequest(t *testing.T) {
	out := New().Validate(testkit.ValidRequest())
	assert.True(t, out.Valid, "errors: %v", out.Errors)
	assert.Empty(t, out.Errors)
	assert.NoError(t, out.AsError())
}

func TestValidate_NilRequest(t *testing.T) {
	out := New().Validate(nil)
	assert.False(t, out.Valid)
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		field  string
		mutate func(r *model.DpsRequest)
	}{
		{"tpAmb", func(r *model.DpsRequest) { r.TpAmb = model.None[int]() }},
		{"tpEmit", func(r *model.DpsRequest) { r.TpEmit = model.None[int]() }},
		{"cLocEmi", func(r *model.DpsRequest) { r.CLocEmi = model.None[string]() }},
		{"serie", func(r *model.DpsRequest) { r.Serie = model.None[string]() }},
		{"nDPS", func(r *model.DpsRequest) { r.NDPS = model.None[string]() }},
		{"prest.CNPJ", func(r *model.DpsRequest) { r.Prest.CNPJ = model.None[string]() }},
		{"serv.locPrest.cLocPrestacao", func(r *model.DpsRequest) { r.Serv.LocPrest.CLocPrestacao = model.None[string]() }},
		{"serv.cServ.cTribNac", func(r *model.DpsRequest) { r.Serv.CServ.CTribNac = model.None[string]() }},
		{"serv.cServ.xDescServ", func(r *model.DpsRequest) { r.Serv.CServ.XDescServ = model.Some("   ") }},
		{"valores.vServPrest.vServ", func(r *model.DpsRequest) { r.Valores.VServPrest.VServ = model.None[decimal.Decimal]() }},
		{"valores.trib.tribMun.tribISSQN", func(r *model.DpsRequest) { r.Valores.Trib.TribMun.TribISSQN = model.None[int]() }},
		{"valores.trib.tribMun.tpRetISSQN", func(r *model.DpsRequest) { r.Valores.Trib.TribMun.TpRetISSQN = model.None[int]() }},
		{"valores.trib.tribMun.pAliq", func(r *model.DpsRequest) { r.Valores.Trib.TribMun.PAliq = model.None[decimal.Decimal]() }},
	}

	v := New()
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			req := testkit.ValidRequest()
			tt.mutate(req)

			out := v.Validate(req)
			assert.False(t, out.Valid)
			assert.True(t, errorsMention(out, tt.field), "no error mentions %s: %v", tt.field, out.Errors)
		})
	}
}

func TestValidate_FieldRules(t *testing.T) {
	tests := []struct {
		name   string
		field  string
		mutate func(r *model.DpsRequest)
	}{
		{"bad competence format", "dCompet", func(r *model.DpsRequest) { r.DCompet = model.Some("15/01/2026") }},
		{"bad emission format", "dhEmi", func(r *model.DpsRequest) { r.DhEmi = model.Some("2026-01-15 10:30") }},
		{"environment out of range", "tpAmb", func(r *model.DpsRequest) { r.TpAmb = model.Some(3) }},
		{"emitter taker", "tpEmit", func(r *model.DpsRequest) { r.TpEmit = model.Some(model.EmitenteTomador) }},
		{"emitter unknown", "tpEmit", func(r *model.DpsRequest) { r.TpEmit = model.Some(9) }},
		{"short location", "cLocEmi", func(r *model.DpsRequest) { r.CLocEmi = model.Some("355030") }},
		{"location with letters", "serv.locPrest.cLocPrestacao", func(r *model.DpsRequest) { r.Serv.LocPrest.CLocPrestacao = model.Some("35503O8") }},
		{"service code length", "serv.cServ.cTribNac", func(r *model.DpsRequest) { r.Serv.CServ.CTribNac = model.Some("12345") }},
		{"service code letters", "serv.cServ.cTribNac", func(r *model.DpsRequest) { r.Serv.CServ.CTribNac = model.Some("01A701") }},
		{"service code only dots", "serv.cServ.cTribNac", func(r *model.DpsRequest) { r.Serv.CServ.CTribNac = model.Some("..") }},
		{"formatted location too long", "cLocEmi", func(r *model.DpsRequest) { r.CLocEmi = model.Some("3550-3080") }},
		{"zero value", "valores.vServPrest.vServ", func(r *model.DpsRequest) {
			r.Valores.VServPrest.VServ = model.Some(decimal.Zero)
		}},
		{"both issuer documents", "prest.CNPJ", func(r *model.DpsRequest) { r.Prest.CPF = model.Some(testkit.TakerCPF) }},
		{"short issuer CNPJ", "prest.CNPJ", func(r *model.DpsRequest) { r.Prest.CNPJ = model.Some("1122233300018") }},
		{"non numeric series", "serie", func(r *model.DpsRequest) { r.Serie = model.Some("A1") }},
		{"long number", "nDPS", func(r *model.DpsRequest) { r.NDPS = model.Some("1234567890123456") }},
		{"short taker CPF", "toma.CPF", func(r *model.DpsRequest) {
			r.Toma = model.Some(model.Tomador{CPF: model.Some("1234567890")})
		}},
		{"tax treatment unknown", "valores.trib.tribMun.tribISSQN", func(r *model.DpsRequest) {
			r.Valores.Trib.TribMun.TribISSQN = model.Some(7)
		}},
		{"withholding unknown", "valores.trib.tribMun.tpRetISSQN", func(r *model.DpsRequest) {
			r.Valores.Trib.TribMun.TpRetISSQN = model.Some(4)
		}},
		{"negative rate", "valores.trib.tribMun.pAliq", func(r *model.DpsRequest) {
			r.Valores.Trib.TribMun.PAliq = model.Some(decimal.RequireFromString("-2"))
		}},
	}

	v := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testkit.ValidRequest()
			tt.mutate(req)

			out := v.Validate(req)
			assert.False(t, out.Valid)
			assert.True(t, errorsMention(out, tt.field), "no error mentions %s: %v", tt.field, out.Errors)
		})
	}
}

func TestValidate_FormattedCodesMatchBuilder(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		location string
		want     string
	}{
		{"item dot subitem", "1.07", "3550308", "010701"},
		{"four digit item", "17.05", "3550308", "170501"},
		{"full dotted code", "01.07.01", "3550308", "010701"},
		{"dashed location", "010701", "3550-308", "010701"},
	}

	v := New()
	b := dps.NewBuilder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testkit.ValidRequest()
			req.Serv.CServ.CTribNac = model.Some(tt.code)
			req.CLocEmi = model.Some(tt.location)
			req.Serv.LocPrest.CLocPrestacao = model.Some(tt.location)

			out := v.Validate(req)
			require.True(t, out.Valid, "%v", out.Errors)

			doc, err := b.Build(req)
			require.NoError(t, err)
			assert.Contains(t, string(doc.XML), "<cTribNac>"+tt.want+"</cTribNac>")
			assert.Contains(t, string(doc.XML), "<cLocEmi>"+testkit.Location+"</cLocEmi>")
		})
	}
}

func TestValidate_RateAboveCeiling(t *testing.T) {
	req := testkit.ValidRequest()
	req.Valores.Trib.TribMun.PAliq = model.Some(decimal.RequireFromString("6"))

	out := New().Validate(req)
	require.False(t, out.Valid)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "pAliq")
	assert.Contains(t, out.Errors[0], "5%")
}

func TestValidate_RateNormalization(t *testing.T) {
	tests := []struct {
		rate  string
		valid bool
	}{
		{"0.02", true},
		{"0.05", true},
		{"5", true},
		{"5.0", true},
		{"0.06", false},
		{"1", false}, // fraction branch: 100%
		{"5.01", false},
	}

	for _, tt := range tests {
		t.Run(tt.rate, func(t *testing.T) {
			req := testkit.ValidRequest()
			req.Valores.Trib.TribMun.PAliq = model.Some(decimal.RequireFromString(tt.rate))
			assert.Equal(t, tt.valid, New().Validate(req).Valid)
		})
	}
}

func TestValidate_CompetenceAfterEmission(t *testing.T) {
	req := testkit.ValidRequest()
	req.DhEmi = model.Some("2026-01-15T23:00:00-03:00")
	req.DCompet = model.Some("2026-01-16")

	out := New().Validate(req)
	assert.False(t, out.Valid)
	assert.True(t, errorsMention(out, "dCompet"))
}

func TestValidate_CompetenceEqualsEmission(t *testing.T) {
	req := testkit.ValidRequest()
	// 23:00 at -03:00 is already the 16th in UTC; the local calendar date counts
	req.DhEmi = model.Some("2026-01-15T23:00:00-03:00")
	req.DCompet = model.Some("2026-01-15")

	out := New().Validate(req)
	assert.True(t, out.Valid, "errors: %v", out.Errors)
}

func TestValidate_CompetenceWithoutEmission(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC) }
	req := testkit.ValidRequest()
	req.DhEmi = model.None[string]()
	req.DCompet = model.Some("2026-01-15")

	out := New(WithClock(clock)).Validate(req)
	assert.False(t, out.Valid)
	assert.True(t, errorsMention(out, "dCompet"))
}

func TestValidate_UTCEmission(t *testing.T) {
	req := testkit.ValidRequest()
	req.DhEmi = model.Some("2026-01-15T13:30:00Z")

	assert.True(t, New().Validate(req).Valid)
}

func TestValidate_ExemptTreatment(t *testing.T) {
	req := testkit.ValidRequest()
	req.Valores.Trib.TribMun.TribISSQN = model.Some(model.TribISSQNImunidade)
	req.Valores.Trib.TribMun.PAliq = model.None[decimal.Decimal]()

	out := New().Validate(req)
	assert.True(t, out.Valid, "errors: %v", out.Errors)

	req.Valores.Trib.TribMun.PAliq = model.Some(decimal.RequireFromString("2"))
	out = New().Validate(req)
	assert.False(t, out.Valid)
	assert.True(t, errorsMention(out, "pAliq"))

	req.Valores.Trib.TribMun.PAliq = model.None[decimal.Decimal]()
	req.Valores.Trib.TribMun.TpRetISSQN = model.Some(model.TpRetRetidoTomador)
	out = New().Validate(req)
	assert.False(t, out.Valid)
	assert.True(t, errorsMention(out, "tpRetISSQN"))
}

func TestValidate_ForeignService(t *testing.T) {
	req := testkit.ValidRequest()
	req.Serv.LocPrest = model.LocPrest{CPaisPrestacao: model.Some("US")}

	assert.True(t, New().Validate(req).Valid)
}

func TestValidate_DescriptionLength(t *testing.T) {
	req := testkit.ValidRequest()
	req.Serv.CServ.XDescServ = model.Some(strings.Repeat("\u00e7", 11))

	assert.False(t, New(WithMaxDescriptionLength(10)).Validate(req).Valid)
	assert.True(t, New(WithMaxDescriptionLength(11)).Validate(req).Valid)
	assert.True(t, New().Validate(req).Valid)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	req := testkit.ValidRequest()
	req.CLocEmi = model.None[string]()
	req.NDPS = model.None[string]()
	req.Valores.Trib.TribMun.PAliq = model.Some(decimal.RequireFromString("7"))

	out := New().Validate(req)
	assert.Len(t, out.Errors, 3)

	var verr *model.ValidationErrors
	require.True(t, errors.As(out.AsError(), &verr))
	assert.Len(t, verr.Errors, 3)
}

func TestValidate_DoesNotMutate(t *testing.T) {
	req := testkit.ValidRequest()
	req.Serv.CServ.CTribNac = model.Some("107")

	out := New().Validate(req)
	assert.True(t, out.Valid, "errors: %v", out.Errors)
	assert.Equal(t, "107", model.Text(req.Serv.CServ.CTribNac))
}

type fakeCatalog struct {
	lookup *catalog.Lookup
	err    error
	calls  int
	args   []string
}

func (f *fakeCatalog) GetAliquotParametrization(_ context.Context, location, service, competence string, _ bool) (*catalog.Lookup, error) {
	f.calls++
	f.args = []string{location, service, competence}
	return f.lookup, f.err
}

func TestValidateAgainstCatalog(t *testing.T) {
	fetched := time.Date(2026, 1, 14, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		catalog      *fakeCatalog
		wantWarnings int
		wantRemote   string
	}{
		{
			name: "matching rate",
			catalog: &fakeCatalog{lookup: &catalog.Lookup{
				Payload: map[string]any{"aliquota": 2.0}, FetchedAt: fetched, FromCache: true,
			}},
			wantRemote: "2",
		},
		{
			name: "within tolerance",
			catalog: &fakeCatalog{lookup: &catalog.Lookup{
				Payload: map[string]any{"aliquota": "2,01"}, FetchedAt: fetched,
			}},
			wantRemote: "2.01",
		},
		{
			name: "mismatch",
			catalog: &fakeCatalog{lookup: &catalog.Lookup{
				Payload: map[string]any{"aliquota": 3.0}, FetchedAt: fetched,
			}},
			wantWarnings: 1,
			wantRemote:   "3",
		},
		{
			name:         "not found",
			catalog:      &fakeCatalog{err: catalog.ErrNotFound},
			wantWarnings: 1,
		},
		{
			name:         "outage",
			catalog:      &fakeCatalog{err: errors.New("connection refused")},
			wantWarnings: 1,
		},
		{
			name:         "no rate in payload",
			catalog:      &fakeCatalog{lookup: &catalog.Lookup{Payload: map[string]any{"nome": "x"}}},
			wantWarnings: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(WithCatalog(tt.catalog))

			out := v.ValidateAgainstCatalog(context.Background(), testkit.ValidRequest(), true)
			assert.True(t, out.Valid, "catalog problems must never be errors: %v", out.Errors)
			assert.Len(t, out.Warnings, tt.wantWarnings, "warnings: %v", out.Warnings)
			assert.Equal(t, []string{testkit.Location, "010701", "2026-01-15"}, tt.catalog.args)

			require.NotNil(t, out.Catalog)
			assert.Equal(t, testkit.Location, out.Catalog.Municipality)
			if tt.wantRemote != "" {
				remote, ok := out.Catalog.RemoteRate.Get()
				require.True(t, ok)
				assert.True(t, remote.Equal(decimal.RequireFromString(tt.wantRemote)), "remote %s", remote)
			}
		})
	}
}

func TestValidateAgainstCatalog_Disabled(t *testing.T) {
	fc := &fakeCatalog{err: errors.New("should not be called")}
	v := New(WithCatalog(fc))

	out := v.ValidateAgainstCatalog(context.Background(), testkit.ValidRequest(), false)
	assert.True(t, out.Valid)
	assert.Empty(t, out.Warnings)
	assert.Nil(t, out.Catalog)
	assert.Equal(t, 0, fc.calls)
}

func TestValidateAgainstCatalog_NoCatalog(t *testing.T) {
	out := New().ValidateAgainstCatalog(context.Background(), testkit.ValidRequest(), true)
	assert.True(t, out.Valid)
	assert.Len(t, out.Warnings, 1)
}

func TestValidateAgainstCatalog_KeepsErrors(t *testing.T) {
	req := testkit.ValidRequest()
	req.Valores.Trib.TribMun.PAliq = model.Some(decimal.RequireFromString("6"))
	fc := &fakeCatalog{lookup: &catalog.Lookup{Payload: map[string]any{"aliquota": 2.0}}}

	out := New(WithCatalog(fc)).ValidateAgainstCatalog(context.Background(), req, true)
	assert.False(t, out.Valid)
	assert.Len(t, out.Errors, 1)
	assert.Len(t, out.Warnings, 1)
}
