package model_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-dps/internal/model"
)

func TestOptional_Defaults(t *testing.T) {
	var o model.Optional[string]
	_, ok := o.Get()
	assert.False(t, ok)
	assert.False(t, o.IsSet())
	assert.Equal(t, "fallback", o.OrElse("fallback"))

	s := model.Some("abc")
	v, ok := s.Get()
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
}

func TestOptional_JSONPresence(t *testing.T) {
	var req model.DpsRequest
	err := json.Unmarshal([]byte(`{
		"tpAmb": 2,
		"dCompet": "2026-01-15",
		"dhEmi": null,
		"serv": {"cServ": {"cTribNac": "107"}},
		"valores": {"vServPrest": {"vServ": "1000.00"}, "trib": {"tribMun": {"pAliq": 0.02}}}
	}`), &req)
	require.NoError(t, err)

	assert.Equal(t, 2, req.TpAmb.OrElse(0))
	assert.Equal(t, "2026-01-15", model.Text(req.DCompet))
	assert.False(t, req.DhEmi.IsSet(), "null must decode as absent")
	assert.False(t, req.TpEmit.IsSet())
	assert.Equal(t, "107", model.Text(req.Serv.CServ.CTribNac))

	vServ, ok := req.Valores.VServPrest.VServ.Get()
	require.True(t, ok)
	assert.True(t, vServ.Equal(decimal.RequireFromString("1000")))

	aliq, ok := req.Valores.Trib.TribMun.PAliq.Get()
	require.True(t, ok)
	assert.True(t, aliq.Equal(decimal.RequireFromString("0.02")))
}

func TestOptional_MarshalOmitsAbsent(t *testing.T) {
	req := model.DpsRequest{
		TpAmb: model.Some(1),
		Serie: model.Some("1"),
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	assert.Contains(t, string(data), `"tpAmb":1`)
	assert.Contains(t, string(data), `"serie":"1"`)
	assert.NotContains(t, string(data), "dhEmi")
	assert.NotContains(t, string(data), "toma")
}

func TestPrestador_Document(t *testing.T) {
	p := model.Prestador{CPF: model.Some("12345678901")}
	assert.Equal(t, "12345678901", p.Document())

	p.CNPJ = model.Some(" 11222333000181 ")
	assert.Equal(t, "11222333000181", p.Document())
}

func TestValidationOutcome(t *testing.T) {
	out := model.NewValidationOutcome()
	assert.True(t, out.Valid)
	assert.NoError(t, out.AsError())

	out.AddWarning("catalog unavailable")
	assert.True(t, out.Valid)

	out.AddError(model.NewValidationError("vServ", "0", "gt", "must be greater than zero"))
	assert.False(t, out.Valid)
	require.Len(t, out.Errors, 1)

	var verrs *model.ValidationErrors
	require.ErrorAs(t, out.AsError(), &verrs)
	assert.Equal(t, []string{"catalog unavailable"}, verrs.Warnings)
	assert.Contains(t, verrs.Error(), "vServ")
}

func TestValidationError(t *testing.T) {
	err := model.NewValidationError("cLocEmi", "12345", "length", "must have exactly 7 digits")

	require.Contains(t, err.Error(), "cLocEmi")
	require.Contains(t, err.Error(), "12345")
	require.Contains(t, err.Error(), "7 digits")
}

func TestEncodingError_WithCause(t *testing.T) {
	cause := assert.AnError
	err := model.NewEncodingError("signature", "payload is not valid UTF-8", cause)

	require.Contains(t, err.Error(), "signature")
	require.ErrorIs(t, err, cause)
}

func TestTransportError(t *testing.T) {
	err := &model.TransportError{
		Operation:     "emit",
		CorrelationID: "abc-123",
		StatusCode:    502,
		Body:          "bad gateway",
	}

	require.Contains(t, err.Error(), "emit")
	require.Contains(t, err.Error(), "abc-123")
	require.Contains(t, err.Error(), "502")
}

func TestFailedTransmission(t *testing.T) {
	res := model.FailedTransmission("boom")
	assert.False(t, res.Success)
	assert.Equal(t, "boom", res.Message)
	assert.Empty(t, res.Numero)
}
