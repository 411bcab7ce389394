package response

import (
	"strings"

	"github.com/beevik/etree"
)

// Local names searched for each field, in priority order
var (
	statusNames       = []string{"Sucesso", "Success", "Status"}
	messageNames      = []string{"Mensagem", "Message", "xMotivo"}
	numeroNames       = []string{"NumeroNfse", "Numero", "nNFSe"}
	verificacaoNames  = []string{"CodigoVerificacao", "cVerif"}
	protocoloNames    = []string{"Protocolo", "NumeroProtocolo", "nProt"}
	linkNames         = []string{"LinkNfse", "UrlNfse", "LinkVisualizacao"}
	chaveAcessoNames  = []string{"ChaveAcesso", "chaveAcesso", "chNFSe"}
	errorNodeName     = "MensagemRetorno"
	errorMessageNames = []string{"Mensagem", "Message", "Descricao"}
)

type scanned struct {
	status            string
	statusFound       bool
	message           string
	numero            string
	codigoVerificacao string
	protocolo         string
	link              string
	chaveAcesso       string
	errors            []string
}

// scan walks the tree once, matching elements by local name regardless of
// prefix or position. The first match in document order wins.
func scan(root *etree.Element) scanned {
	var s scanned
	if root == nil {
		return s
	}

	first := make(map[string]string)
	var walk func(el *etree.Element, inError bool)
	walk = func(el *etree.Element, inError bool) {
		if el.Tag == errorNodeName {
			if msg := errorText(el); msg != "" {
				s.errors = append(s.errors, msg)
			}
			inError = true
		}
		if !inError && len(el.ChildElements()) == 0 {
			if _, seen := first[el.Tag]; !seen {
				first[el.Tag] = strings.TrimSpace(el.Text())
			}
		}
		for _, child := range el.ChildElements() {
			walk(child, inError)
		}
	}
	walk(root, false)

	s.status, s.statusFound = pick(first, statusNames)
	s.message, _ = pick(first, messageNames)
	s.numero, _ = pick(first, numeroNames)
	s.codigoVerificacao, _ = pick(first, verificacaoNames)
	s.protocolo, _ = pick(first, protocoloNames)
	s.link, _ = pick(first, linkNames)
	s.chaveAcesso, _ = pick(first, chaveAcessoNames)
	if s.chaveAcesso == "" {
		s.chaveAcesso = accessKeyFromID(root)
	}
	return s
}

func pick(found map[string]string, names []string) (string, bool) {
	for _, n := range names {
		if v, ok := found[n]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// errorText renders a MensagemRetorno node as "code: message"
func errorText(el *etree.Element) string {
	code := childText(el, "Codigo")
	var msg string
	for _, n := range errorMessageNames {
		if msg = childText(el, n); msg != "" {
			break
		}
	}
	if msg == "" && len(el.ChildElements()) == 0 {
		msg = strings.TrimSpace(el.Text())
	}
	switch {
	case code != "" && msg != "":
		return code + ": " + msg
	case msg != "":
		return msg
	default:
		return code
	}
}

func childText(el *etree.Element, local string) string {
	for _, c := range el.ChildElements() {
		if c.Tag == local {
			return strings.TrimSpace(c.Text())
		}
	}
	return ""
}

// accessKeyFromID reads the key from an infNFSe Id="NFS<digits>" attribute
func accessKeyFromID(root *etree.Element) string {
	for _, el := range append([]*etree.Element{root}, root.FindElements("//*")...) {
		if el.Tag != "infNFSe" {
			continue
		}
		if id := el.SelectAttrValue("Id", ""); strings.HasPrefix(id, "NFS") {
			return strings.TrimPrefix(id, "NFS")
		}
	}
	return ""
}
