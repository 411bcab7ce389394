package transport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"

	"github.com/rezonia/nfse-dps/internal/certificate"
)

// loadPairFromTemp writes the certificate and key to owner-only files in
// dir and loads them back as a TLS pair. cleanup removes whatever was
// written and must run on every path.
func loadPairFromTemp(dir string, m *certificate.Material) (tls.Certificate, func(), error) {
	var paths []string
	cleanup := func() {
		for _, p := range paths {
			_ = os.Remove(p)
		}
	}

	write := func(pattern string, data []byte) (string, error) {
		f, err := os.CreateTemp(dir, pattern)
		if err != nil {
			return "", err
		}
		paths = append(paths, f.Name())
		if err := f.Chmod(0o600); err != nil {
			f.Close()
			return "", err
		}
		_, werr := f.Write(data)
		cerr := f.Close()
		return f.Name(), errors.Join(werr, cerr)
	}

	certPath, err := write("nfse-cert-*.pem", m.CertPEM)
	if err != nil {
		return tls.Certificate{}, cleanup, fmt.Errorf("write certificate file: %w", err)
	}
	keyPath, err := write("nfse-key-*.pem", m.KeyPEM)
	if err != nil {
		return tls.Certificate{}, cleanup, fmt.Errorf("write key file: %w", err)
	}

	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, cleanup, fmt.Errorf("load key pair: %w", err)
	}
	return pair, cleanup, nil
}
