package signature

import (
	"crypto/x509"
	"time"
)

// Result describes what the stage did to a document
type Result struct {
	XML []byte `json:"-"`

	Signed   bool   `json:"signed"`
	Mode     Mode   `json:"mode"`
	Target   string `json:"target,omitempty"`
	TargetID string `json:"target_id,omitempty"`

	Signer *SignerInfo `json:"signer,omitempty"`

	// Warnings explain why an optional signature was skipped
	Warnings []string `json:"warnings,omitempty"`
}

// SignerInfo contains certificate subject information
type SignerInfo struct {
	Name         string    `json:"name"`
	Organization string    `json:"organization,omitempty"`
	SerialNumber string    `json:"serial_number"`
	Issuer       string    `json:"issuer"`
	ValidFrom    time.Time `json:"valid_from"`
	ValidTo      time.Time `json:"valid_to"`
}

// AddWarning adds a warning message to the result
func (r *Result) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// SetSigner populates SignerInfo from an x509 certificate
func (r *Result) SetSigner(cert *x509.Certificate) {
	if cert == nil {
		return
	}

	signer := &SignerInfo{
		SerialNumber: cert.SerialNumber.String(),
		ValidFrom:    cert.NotBefore,
		ValidTo:      cert.NotAfter,
	}

	if len(cert.Subject.CommonName) > 0 {
		signer.Name = cert.Subject.CommonName
	}

	if len(cert.Subject.Organization) > 0 {
		signer.Organization = cert.Subject.Organization[0]
	}

	if len(cert.Issuer.CommonName) > 0 {
		signer.Issuer = cert.Issuer.CommonName
	} else if len(cert.Issuer.Organization) > 0 {
		signer.Issuer = cert.Issuer.Organization[0]
	}

	r.Signer = signer
}
