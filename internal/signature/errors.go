package signature

import "fmt"

// Error codes for the signing stage
const (
	ErrCodeNoCertificate    = "NO_CERTIFICATE"
	ErrCodeCertExpired      = "CERT_EXPIRED"
	ErrCodeCertNotYetValid  = "CERT_NOT_YET_VALID"
	ErrCodeNoTarget         = "NO_SIGNING_TARGET"
	ErrCodeMalformedXML     = "MALFORMED_XML"
	ErrCodeSigningFailed    = "SIGNING_FAILED"
	ErrCodeInvalidSignature = "INVALID_SIGNATURE"
	ErrCodeNoSignature      = "NO_SIGNATURE"
	ErrCodeUnsupportedMode  = "UNSUPPORTED_MODE"
)

// SignatureError represents a signing failure
type SignatureError struct {
	Code    string
	Field   string
	Message string
	Cause   error
}

func (e *SignatureError) Error() string {
	if e.Field != "" && e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Code, e.Field, e.Message, e.Cause)
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SignatureError) Unwrap() error {
	return e.Cause
}

// NewSignatureError creates a new signature error
func NewSignatureError(code, field, message string, cause error) *SignatureError {
	return &SignatureError{
		Code:    code,
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}

// ErrNoCertificate returns error when signing is required but no certificate is available
func ErrNoCertificate(cause error) *SignatureError {
	return NewSignatureError(ErrCodeNoCertificate, "certificate", "signing required but no certificate available", cause)
}

// ErrCertExpired returns error when certificate has expired
func ErrCertExpired(subject string) *SignatureError {
	return NewSignatureError(ErrCodeCertExpired, "certificate", fmt.Sprintf("certificate expired: %s", subject), nil)
}

// ErrCertNotYetValid returns error when certificate is not yet valid
func ErrCertNotYetValid(subject string) *SignatureError {
	return NewSignatureError(ErrCodeCertNotYetValid, "certificate", fmt.Sprintf("certificate not yet valid: %s", subject), nil)
}

// ErrNoTarget returns error when the document has no signable element
func ErrNoTarget() *SignatureError {
	return NewSignatureError(ErrCodeNoTarget, "", "no signable element with an Id attribute found", nil)
}

// ErrMalformedXML returns error when the document cannot be parsed
func ErrMalformedXML(cause error) *SignatureError {
	return NewSignatureError(ErrCodeMalformedXML, "", "document is not well-formed XML", cause)
}

// ErrSigningFailed returns error when the signing primitive fails
func ErrSigningFailed(cause error) *SignatureError {
	return NewSignatureError(ErrCodeSigningFailed, "signature", "signature construction failed", cause)
}

// ErrInvalidSignature returns error when signature validation fails
func ErrInvalidSignature(cause error) *SignatureError {
	return NewSignatureError(ErrCodeInvalidSignature, "signature", "signature validation failed", cause)
}

// ErrNoSignature returns error when no signature found in document
func ErrNoSignature() *SignatureError {
	return NewSignatureError(ErrCodeNoSignature, "", "no signature found in document", nil)
}

// ErrUnsupportedMode returns error for an unknown signature mode
func ErrUnsupportedMode(mode string) *SignatureError {
	return NewSignatureError(ErrCodeUnsupportedMode, "mode", fmt.Sprintf("unsupported signature mode: %q", mode), nil)
}
