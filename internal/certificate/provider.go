// Package certificate loads the ICP-Brasil certificate used for signing and
// for mutual TLS with the national API.
package certificate

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// ErrNoCertificate is returned by providers that have nothing configured.
// Callers treat it as a normal condition.
var ErrNoCertificate = errors.New("certificate: none configured")

// Provider supplies certificate material on demand
type Provider interface {
	Certificate(ctx context.Context) (*Material, error)
}

// Material is a PEM certificate and private key plus validity metadata
type Material struct {
	CertPEM []byte
	KeyPEM  []byte

	Leaf      *x509.Certificate
	Subject   string
	NotBefore time.Time
	NotAfter  time.Time
}

// FromPEM parses a certificate chain and its private key. The first
// certificate in certPEM must match the key.
func FromPEM(certPEM, keyPEM []byte) (*Material, error) {
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("certificate and key do not form a pair: %w", err)
	}

	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &Material{
		CertPEM:   certPEM,
		KeyPEM:    keyPEM,
		Leaf:      leaf,
		Subject:   leaf.Subject.String(),
		NotBefore: leaf.NotBefore,
		NotAfter:  leaf.NotAfter,
	}, nil
}

// TLSCertificate returns the material as a tls.Certificate
func (m *Material) TLSCertificate() (tls.Certificate, error) {
	return tls.X509KeyPair(m.CertPEM, m.KeyPEM)
}

// CheckValidity returns an error when at falls outside the validity window
func (m *Material) CheckValidity(at time.Time) error {
	switch {
	case at.Before(m.NotBefore):
		return &ValidityError{Subject: m.Subject, NotBefore: m.NotBefore, NotAfter: m.NotAfter, Expired: false}
	case at.After(m.NotAfter):
		return &ValidityError{Subject: m.Subject, NotBefore: m.NotBefore, NotAfter: m.NotAfter, Expired: true}
	}
	return nil
}

// ValidityError reports a certificate used outside its validity window
type ValidityError struct {
	Subject   string
	NotBefore time.Time
	NotAfter  time.Time
	Expired   bool
}

func (e *ValidityError) Error() string {
	if e.Expired {
		return fmt.Sprintf("certificate expired on %s: %s", e.NotAfter.Format(time.RFC3339), e.Subject)
	}
	return fmt.Sprintf("certificate not valid before %s: %s", e.NotBefore.Format(time.RFC3339), e.Subject)
}

// StaticProvider returns fixed material. A nil material means no certificate.
type StaticProvider struct {
	material *Material
}

// NewStaticProvider creates a provider around m
func NewStaticProvider(m *Material) *StaticProvider {
	return &StaticProvider{material: m}
}

func (p *StaticProvider) Certificate(_ context.Context) (*Material, error) {
	if p == nil || p.material == nil {
		return nil, ErrNoCertificate
	}
	return p.material, nil
}

// FileProvider reads PEM files once and caches the result
type FileProvider struct {
	certPath string
	keyPath  string

	mu       sync.Mutex
	material *Material
}

// NewFileProvider creates a provider for a PEM certificate and key file.
// Empty paths mean no certificate.
func NewFileProvider(certPath, keyPath string) *FileProvider {
	return &FileProvider{certPath: certPath, keyPath: keyPath}
}

func (p *FileProvider) Certificate(_ context.Context) (*Material, error) {
	if p.certPath == "" || p.keyPath == "" {
		return nil, ErrNoCertificate
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.material != nil {
		return p.material, nil
	}

	certPEM, err := os.ReadFile(p.certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	m, err := FromPEM(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	p.material = m
	return m, nil
}

// encodeKey writes a parsed private key back to PEM
func encodeKey(key any) ([]byte, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(k)}), nil
	case *ecdsa.PrivateKey:
		der, err := x509.MarshalECPrivateKey(k)
		if err != nil {
			return nil, err
		}
		return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
	default:
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
}
