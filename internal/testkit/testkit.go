// Package testkit holds fixtures shared by package tests.
package testkit

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rezonia/nfse-dps/internal/model"
)

// IssuerCNPJ and TakerCPF are the documents used by ValidRequest
const (
	IssuerCNPJ = "11222333000181"
	TakerCPF   = "12345678909"
	Location   = "3550308"
)

// ValidRequest returns a minimal request that passes validation:
// CNPJ issuer, CPF taker, 1000.00 service value, 2% rate, normal taxation.
func ValidRequest() *model.DpsRequest {
	return &model.DpsRequest{
		TpAmb:   model.Some(model.AmbienteHomologacao),
		DhEmi:   model.Some("2026-01-15T10:30:00-03:00"),
		Serie:   model.Some("1"),
		NDPS:    model.Some("42"),
		DCompet: model.Some("2026-01-15"),
		TpEmit:  model.Some(model.EmitentePrestador),
		CLocEmi: model.Some(Location),
		Prest: model.Prestador{
			CNPJ: model.Some(IssuerCNPJ),
		},
		Toma: model.Some(model.Tomador{
			CPF:   model.Some(TakerCPF),
			XNome: model.Some("Maria da Silva"),
		}),
		Serv: model.Servico{
			LocPrest: model.LocPrest{CLocPrestacao: model.Some(Location)},
			CServ: model.CServ{
				CTribNac:  model.Some("010701"),
				XDescServ: model.Some("Suporte t\u00e9cnico em inform\u00e1tica"),
			},
		},
		Valores: model.Valores{
			VServPrest: model.VServPrest{VServ: model.Some(decimal.RequireFromString("1000.00"))},
			Trib: model.Trib{
				TribMun: model.TribMun{
					TribISSQN:  model.Some(model.TribISSQNNormal),
					TpRetISSQN: model.Some(model.TpRetNaoRetido),
					PAliq:      model.Some(decimal.RequireFromString("2")),
				},
			},
		},
	}
}

// SelfSignedPEM generates a throwaway RSA certificate and key in PEM form
func SelfSignedPEM(t testing.TB) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:   "EMPRESA TESTE LTDA:" + IssuerCNPJ,
			Organization: []string{"ICP-Brasil"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM
}
