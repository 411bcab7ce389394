package processor_test

import (
	"context"
	"crypto/x509"
	"errors"
	"net/http"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-dps/internal/certificate"
	"github.com/rezonia/nfse-dps/internal/dps"
	"github.com/rezonia/nfse-dps/internal/model"
	"github.com/rezonia/nfse-dps/internal/processor"
	"github.com/rezonia/nfse-dps/internal/response"
	"github.com/rezonia/nfse-dps/internal/sefintest"
	"github.com/rezonia/nfse-dps/internal/signature"
	"github.com/rezonia/nfse-dps/internal/testkit"
	"github.com/rezonia/nfse-dps/internal/transport"
)

type fakeSender struct {
	body  []byte
	err   error
	calls int
	op    transport.Operation
	xml   []byte
}

func (f *fakeSender) Send(_ context.Context, op transport.Operation, xml []byte, _ ...transport.SendOption) ([]byte, error) {
	f.calls++
	f.op = op
	f.xml = xml
	return f.body, f.err
}

func testMaterial(t *testing.T) *certificate.Material {
	t.Helper()
	certPEM, keyPEM := testkit.SelfSignedPEM(t)
	m, err := certificate.FromPEM(certPEM, keyPEM)
	require.NoError(t, err)
	return m
}

func TestNewPipeline(t *testing.T) {
	p := processor.NewPipeline()
	require.NotNil(t, p)
}

func TestEmit_MinimalRequest(t *testing.T) {
	sender := &fakeSender{body: []byte(`<Resposta><Sucesso>true</Sucesso><NumeroNfse>1001</NumeroNfse></Resposta>`)}
	p := processor.NewPipeline(processor.WithSender(sender))

	res := p.Emit(context.Background(), testkit.ValidRequest())
	require.NoError(t, res.Error)

	assert.True(t, res.Validation.Valid)
	require.NotNil(t, res.Document)
	id := dps.BuildID(testkit.ValidRequest())
	assert.Equal(t, id, res.Document.ID)
	assert.Contains(t, string(res.Document.XML), id)
	assert.False(t, res.Signed)
	assert.NotEmpty(t, res.Warnings, "unsigned fallback is reported")

	assert.Equal(t, transport.OpEmit, sender.op)
	assert.Equal(t, res.XML, sender.xml)

	require.NotNil(t, res.Transmission)
	assert.True(t, res.Transmission.Success)
	assert.Equal(t, "1001", res.Transmission.Numero)
	assert.Equal(t, processor.StepInterpret, res.Step)
}

func TestEmit_RateAboveCeiling(t *testing.T) {
	sender := &fakeSender{}
	p := processor.NewPipeline(processor.WithSender(sender))

	req := testkit.ValidRequest()
	req.Valores.Trib.TribMun.PAliq = model.Some(decimal.NewFromInt(6))

	res := p.Emit(context.Background(), req)

	var verrs *model.ValidationErrors
	require.ErrorAs(t, res.Error, &verrs)
	assert.Equal(t, processor.StepValidate, res.Step)
	assert.False(t, res.Validation.Valid)
	require.Len(t, res.Validation.Errors, 1)
	assert.Contains(t, res.Validation.Errors[0], "5%")
	assert.Zero(t, sender.calls)
	assert.Nil(t, res.Document)
}

func TestEmit_EmptyResponse(t *testing.T) {
	p := processor.NewPipeline(processor.WithSender(&fakeSender{body: nil}))

	res := p.Emit(context.Background(), testkit.ValidRequest())

	require.NoError(t, res.Error)
	require.NotNil(t, res.Transmission)
	assert.False(t, res.Transmission.Success)
	assert.Equal(t, response.MsgEmptyResponse, res.Transmission.Message)
}

func TestEmit_TransportError(t *testing.T) {
	terr := &model.TransportError{Operation: "emit", CorrelationID: "abc", StatusCode: 503}
	p := processor.NewPipeline(processor.WithSender(&fakeSender{err: terr}))

	res := p.Emit(context.Background(), testkit.ValidRequest())

	assert.ErrorIs(t, res.Error, terr)
	assert.Equal(t, processor.StepTransmit, res.Step)
	assert.Nil(t, res.Transmission)
	assert.NotNil(t, res.Document)
}

func TestEmit_NoSender(t *testing.T) {
	res := processor.NewPipeline().Emit(context.Background(), testkit.ValidRequest())

	var cfgErr *model.ConfigError
	assert.ErrorAs(t, res.Error, &cfgErr)
	assert.Equal(t, processor.StepTransmit, res.Step)
}

func TestEmit_RequiredSignatureWithoutCertificate(t *testing.T) {
	sender := &fakeSender{}
	p := processor.NewPipeline(
		processor.WithSender(sender),
		processor.WithSignatureMode(signature.ModeRequired),
		processor.WithCertificate(certificate.NewStaticProvider(nil)),
	)

	res := p.Emit(context.Background(), testkit.ValidRequest())

	var serr *signature.SignatureError
	require.ErrorAs(t, res.Error, &serr)
	assert.Equal(t, processor.StepSign, res.Step)
	assert.Zero(t, sender.calls)
}

func TestPrepare_SignsWithCertificate(t *testing.T) {
	m := testMaterial(t)
	p := processor.NewPipeline(
		processor.WithSignatureMode(signature.ModeRequired),
		processor.WithCertificate(certificate.NewStaticProvider(m)),
	)

	res := p.Prepare(context.Background(), testkit.ValidRequest())
	require.NoError(t, res.Error)
	assert.True(t, res.Signed)

	verified, err := signature.Verify(res.XML, []*x509.Certificate{m.Leaf})
	require.NoError(t, err)
	assert.Equal(t, res.Document.ID, verified.TargetID)
}

func TestCancel_InvalidRequest(t *testing.T) {
	sender := &fakeSender{}
	res := processor.NewPipeline(processor.WithSender(sender)).Cancel(context.Background(), dps.CancelRequest{})

	assert.Error(t, res.Error)
	assert.Equal(t, processor.StepBuild, res.Step)
	assert.Zero(t, sender.calls)
}

func TestEndToEnd_AgainstFakeAPI(t *testing.T) {
	m := testMaterial(t)
	fake := sefintest.NewServer(&sefintest.Config{
		RequireSignature: true,
		Trusted:          []*x509.Certificate{m.Leaf},
		FirstNumber:      1001,
	})
	srv := fake.StartTLS()
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	tmp := t.TempDir()
	provider := certificate.NewStaticProvider(m)

	client, err := transport.NewClient(transport.Config{BaseURL: srv.URL, TempDir: tmp, BearerToken: "tok"},
		transport.WithCertificate(provider), transport.WithRootCAs(pool))
	require.NoError(t, err)

	p := processor.NewPipeline(
		processor.WithSender(client),
		processor.WithSignatureMode(signature.ModeRequired),
		processor.WithCertificate(provider),
	)
	ctx := context.Background()

	emitted := p.Emit(ctx, testkit.ValidRequest())
	require.NoError(t, emitted.Error)
	require.True(t, emitted.Transmission.Success, emitted.Transmission.Message)
	assert.True(t, emitted.Signed)
	assert.Equal(t, "1001", emitted.Transmission.Numero)
	assert.Equal(t, emitted.Document.ID, emitted.Transmission.IDDps)
	key := emitted.Transmission.ChaveAcesso
	require.Len(t, key, 50)

	queried := p.QueryByKey(ctx, key)
	require.NoError(t, queried.Error)
	assert.True(t, queried.Transmission.Success)
	assert.Equal(t, "1001", queried.Transmission.Numero)

	byDPS := p.QueryByDPS(ctx, emitted.Document.ID)
	require.NoError(t, byDPS.Error)
	assert.Equal(t, key, byDPS.Transmission.ChaveAcesso)

	downloaded := p.DownloadXML(ctx, key)
	require.NoError(t, downloaded.Error)
	assert.Contains(t, downloaded.Transmission.XMLRetorno, emitted.Document.ID)

	danfse := p.DownloadDANFSe(ctx, key)
	require.NoError(t, danfse.Error)
	assert.Contains(t, danfse.Transmission.Link, key)

	cancel := dps.CancelRequest{AccessKey: key, Author: testkit.IssuerCNPJ, Reason: 1, Detail: "Erro na emissao do documento"}
	cancelled := p.Cancel(ctx, cancel)
	require.NoError(t, cancelled.Error)
	assert.True(t, cancelled.Signed)
	assert.True(t, cancelled.Transmission.Success, cancelled.Transmission.Message)

	again := p.Cancel(ctx, cancel)
	require.NoError(t, again.Error)
	assert.False(t, again.Transmission.Success)
	assert.Contains(t, again.Transmission.Message, "E0840")

	duplicate := p.Emit(ctx, testkit.ValidRequest())
	var terr *model.TransportError
	require.ErrorAs(t, duplicate.Error, &terr)
	assert.Equal(t, http.StatusConflict, terr.StatusCode)

	for _, r := range fake.Requests() {
		assert.Equal(t, 1, r.ClientCerts, r.Path)
		assert.Equal(t, "Bearer tok", r.Auth)
	}

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEndToEnd_ServerFailure(t *testing.T) {
	fake := sefintest.NewServer(nil)
	srv := fake.StartTLS()
	defer srv.Close()
	fake.FailNext(http.StatusInternalServerError, "boom")

	client, err := transport.NewClient(transport.Config{BaseURL: srv.URL}, transport.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	res := processor.NewPipeline(processor.WithSender(client)).Emit(context.Background(), testkit.ValidRequest())

	var terr *model.TransportError
	require.True(t, errors.As(res.Error, &terr))
	assert.Equal(t, "boom", terr.Body)
	assert.NotEmpty(t, terr.CorrelationID)
}
