package signature

import (
	"crypto/x509"
	"encoding/base64"
	"strings"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/rezonia/nfse-dps/internal/textenc"
)

// Verify checks the signature attached to the signing target of data
// against trusted certificates. The signature may sit after the target
// or inside it.
func Verify(data []byte, trusted []*x509.Certificate) (*Result, error) {
	clean, err := textenc.EnsureUTF8(data)
	if err != nil {
		return nil, ErrMalformedXML(err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(stripPrologue(clean)); err != nil {
		return nil, ErrMalformedXML(err)
	}

	target, err := ResolveTarget(doc)
	if err != nil {
		return nil, err
	}

	sig := signatureFor(target)
	if sig == nil {
		return nil, ErrNoSignature()
	}

	// goxmldsig expects an enveloped signature, so validate a detached
	// copy of the target with the signature moved inside it
	inheritNamespaces(target)
	detached := target.Copy()
	if sig.Parent() != target {
		detached.AddChild(sig.Copy())
	}

	vctx := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{Roots: trusted})
	vctx.IdAttribute = IDAttribute
	if _, err := vctx.Validate(detached); err != nil {
		return nil, ErrInvalidSignature(err)
	}

	res := &Result{
		XML:      clean,
		Signed:   true,
		Target:   target.Tag,
		TargetID: target.SelectAttrValue(IDAttribute, ""),
	}
	if cert := embeddedCertificate(sig); cert != nil {
		res.SetSigner(cert)
	}
	return res, nil
}

// embeddedCertificate extracts the certificate from Signature/KeyInfo/X509Data
func embeddedCertificate(sig *etree.Element) *x509.Certificate {
	keyInfo := findElementRecursive(sig, "X509Certificate")
	if keyInfo == nil {
		return nil
	}

	der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(keyInfo.Text()), ""))
	if err != nil {
		return nil
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil
	}
	return cert
}
