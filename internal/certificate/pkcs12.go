package certificate

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/pkcs12"
)

// PKCS12Provider loads an A1 certificate from a password-protected .pfx file
type PKCS12Provider struct {
	path     string
	password string

	mu       sync.Mutex
	material *Material
}

// NewPKCS12Provider creates a provider for a .pfx/.p12 file.
// An empty path means no certificate.
func NewPKCS12Provider(path, password string) *PKCS12Provider {
	return &PKCS12Provider{path: path, password: password}
}

func (p *PKCS12Provider) Certificate(_ context.Context) (*Material, error) {
	if p.path == "" {
		return nil, ErrNoCertificate
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.material != nil {
		return p.material, nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pkcs12 file: %w", err)
	}

	m, err := FromPKCS12(data, p.password)
	if err != nil {
		return nil, err
	}
	p.material = m
	return m, nil
}

// FromPKCS12 converts PFX data to PEM material. The leaf certificate is
// written first, followed by any chain certificates.
func FromPKCS12(data []byte, password string) (*Material, error) {
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode pkcs12: %w", err)
	}

	var (
		keyPEM []byte
		certs  []*x509.Certificate
	)
	for _, block := range blocks {
		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		case "PRIVATE KEY":
			key, err := parseKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			if keyPEM, err = encodeKey(key); err != nil {
				return nil, err
			}
		}
	}

	if keyPEM == nil {
		return nil, fmt.Errorf("pkcs12 file has no private key")
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("pkcs12 file has no certificate")
	}

	var certPEM bytes.Buffer
	leaf := leafCertificate(certs)
	_ = pem.Encode(&certPEM, &pem.Block{Type: "CERTIFICATE", Bytes: leaf.Raw})
	for _, c := range certs {
		if c != leaf {
			_ = pem.Encode(&certPEM, &pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})
		}
	}

	return FromPEM(certPEM.Bytes(), keyPEM)
}

// parseKey accepts the PKCS#1 or SEC1 bytes pkcs12.ToPEM emits, and PKCS#8
func parseKey(der []byte) (any, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("failed to parse pkcs12 private key")
}

// leafCertificate picks the certificate that is not a CA, falling back to the first
func leafCertificate(certs []*x509.Certificate) *x509.Certificate {
	for _, c := range certs {
		if !c.IsCA {
			return c
		}
	}
	return certs[0]
}
