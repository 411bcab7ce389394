package signature

import (
	"crypto/rsa"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/rezonia/nfse-dps/internal/certificate"
)

// Signer attaches an XML signature for target to its document
type Signer interface {
	Sign(target *etree.Element, m *certificate.Material) error
}

// XMLDSigSigner produces the enveloped RSA-SHA1 signature with inclusive
// C14N 1.0 that the national layout expects. The Signature element is
// inserted right after the signed element.
type XMLDSigSigner struct{}

// NewXMLDSigSigner creates the default signer
func NewXMLDSigSigner() *XMLDSigSigner {
	return &XMLDSigSigner{}
}

func (s *XMLDSigSigner) Sign(target *etree.Element, m *certificate.Material) error {
	if target == nil || m == nil {
		return fmt.Errorf("nothing to sign")
	}

	pair, err := m.TLSCertificate()
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	if _, ok := pair.PrivateKey.(*rsa.PrivateKey); !ok {
		return fmt.Errorf("unsupported private key type %T, RSA required", pair.PrivateKey)
	}

	ctx := dsig.NewDefaultSigningContext(dsig.TLSCertKeyStore(pair))
	ctx.Prefix = ""
	ctx.IdAttribute = IDAttribute
	ctx.Canonicalizer = dsig.MakeC14N10RecCanonicalizer()
	if err := ctx.SetSignatureMethod(dsig.RSASHA1SignatureMethod); err != nil {
		return err
	}

	inheritNamespaces(target)

	sig, err := ctx.ConstructSignature(target, true)
	if err != nil {
		return err
	}

	// a document root cannot have siblings, so the signature goes inside it
	parent := target.Parent()
	if parent == nil || parent.Tag == "" {
		target.AddChild(sig)
		return nil
	}
	parent.InsertChildAt(target.Index()+1, sig)
	return nil
}
