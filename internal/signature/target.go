package signature

import (
	"bytes"

	"github.com/beevik/etree"
)

// XML namespaces
const (
	XMLDSigNamespace = "http://www.w3.org/2000/09/xmldsig#"
)

// IDAttribute is the attribute the signature reference points at
const IDAttribute = "Id"

// targetNames lists signable elements in order of preference: the national
// DPS layout first, then the receipt envelope and event requests, then the
// municipal ABRASF shapes
var targetNames = []string{
	"infDPS",
	"infNFSe",
	"infPedReg",
	"InfDeclaracaoPrestacaoServico",
	"InfRps",
}

// ResolveTarget finds the element to sign. Prefixes are ignored and the
// element must carry an Id attribute.
func ResolveTarget(doc *etree.Document) (*etree.Element, error) {
	root := doc.Root()
	if root == nil {
		return nil, ErrNoTarget()
	}

	for _, name := range targetNames {
		if elem := findElementRecursive(root, name); elem != nil {
			if elem.SelectAttrValue(IDAttribute, "") == "" {
				continue
			}
			return elem, nil
		}
	}

	return nil, ErrNoTarget()
}

// findElementRecursive searches for an element by local name recursively;
// etree stores the prefix in Space, so Tag is already the local name
func findElementRecursive(elem *etree.Element, localName string) *etree.Element {
	if elem.Tag == localName {
		return elem
	}

	for _, child := range elem.ChildElements() {
		if found := findElementRecursive(child, localName); found != nil {
			return found
		}
	}

	return nil
}

// signatureFor returns the signature already attached to target, either as
// its next sibling or as a direct child. etree keeps prefixes out of Tag.
func signatureFor(target *etree.Element) *etree.Element {
	for _, child := range target.ChildElements() {
		if child.Tag == "Signature" {
			return child
		}
	}

	parent := target.Parent()
	if parent == nil {
		return nil
	}
	siblings := parent.ChildElements()
	for i, sib := range siblings {
		if sib == target && i+1 < len(siblings) && siblings[i+1].Tag == "Signature" {
			return siblings[i+1]
		}
	}
	return nil
}

// HasSignature returns true if the data appears to be XML with a signature
func HasSignature(data []byte) bool {
	if len(data) < 5 {
		return false
	}

	trimmed := bytes.TrimSpace(data)
	if !bytes.HasPrefix(trimmed, []byte("<")) {
		return false
	}

	return bytes.Contains(data, []byte("<Signature")) ||
		bytes.Contains(data, []byte(":Signature"))
}

// inheritNamespaces copies namespace declarations in scope at target onto
// target itself, so the element canonicalizes the same way on its own as it
// does inside the document
func inheritNamespaces(target *etree.Element) {
	declared := make(map[string]bool)
	for _, a := range target.Attr {
		if isNamespaceDecl(a) {
			declared[a.FullKey()] = true
		}
	}

	for p := target.Parent(); p != nil; p = p.Parent() {
		for _, a := range p.Attr {
			if !isNamespaceDecl(a) || declared[a.FullKey()] {
				continue
			}
			declared[a.FullKey()] = true
			target.CreateAttr(a.FullKey(), a.Value)
		}
	}
}

func isNamespaceDecl(a etree.Attr) bool {
	return a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns")
}
