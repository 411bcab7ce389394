package dps

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/rezonia/nfse-dps/internal/model"
	"github.com/rezonia/nfse-dps/internal/textenc"
)

// Event type codes
const (
	EventCancellation = "101101"
)

// CancelRequest describes a cancellation event for an issued NFS-e
type CancelRequest struct {
	AccessKey string
	Author    string // CNPJ or CPF of the issuer
	Reason    int    // cMotivo: 1 error in issuance, 2 service not rendered, 9 other
	Detail    string
	Sequence  int
	TpAmb     int
}

// Validate reports the first problem with r
func (r CancelRequest) Validate() error {
	switch {
	case OnlyDigits(r.AccessKey) == "":
		return model.NewValidationError("chNFSe", r.AccessKey, "required", "access key is required")
	case len(OnlyDigits(r.Author)) != 11 && len(OnlyDigits(r.Author)) != 14:
		return model.NewValidationError("CNPJAutor", r.Author, "format", "author must be an 11 or 14 digit document")
	case r.Reason != 1 && r.Reason != 2 && r.Reason != 9:
		return model.NewValidationError("cMotivo", r.Reason, "enum", "must be 1, 2 or 9")
	case len([]rune(strings.TrimSpace(r.Detail))) < 15:
		return model.NewValidationError("xMotivo", r.Detail, "range", "must have at least 15 characters")
	}
	return nil
}

// EventID returns the pedRegEvento identifier: "PRE" + key + event type + sequence(3)
func EventID(key, eventType string, seq int) string {
	if seq <= 0 {
		seq = 1
	}
	return "PRE" + OnlyDigits(key) + eventType + fmt.Sprintf("%03d", seq)
}

// BuildCancellation produces the unsigned cancellation event
func (b *Builder) BuildCancellation(r CancelRequest) ([]byte, string, error) {
	if err := r.Validate(); err != nil {
		return nil, "", err
	}

	id := EventID(r.AccessKey, EventCancellation, r.Sequence)
	root := etree.NewElement("pedRegEvento")
	root.CreateAttr("xmlns", b.namespace)
	root.CreateAttr("versao", LayoutVersion)

	inf := root.CreateElement("infPedReg")
	inf.CreateAttr("Id", id)
	tpAmb := r.TpAmb
	if tpAmb == 0 {
		tpAmb = model.AmbienteHomologacao
	}
	setText(inf, "tpAmb", strconv.Itoa(tpAmb))
	setText(inf, "verAplic", b.appVersion)
	setText(inf, "dhEvento", b.now().Format(dateTimeLayout))

	author := OnlyDigits(r.Author)
	if len(author) == 11 {
		setText(inf, "CPFAutor", author)
	} else {
		setText(inf, "CNPJAutor", author)
	}
	setText(inf, "chNFSe", OnlyDigits(r.AccessKey))
	seq := r.Sequence
	if seq <= 0 {
		seq = 1
	}
	setText(inf, "nPedRegEvento", strconv.Itoa(seq))

	ev := inf.CreateElement("e" + EventCancellation)
	setText(ev, "xDesc", "Cancelamento de NFS-e")
	setText(ev, "cMotivo", strconv.Itoa(r.Reason))
	setText(ev, "xMotivo", strings.TrimSpace(r.Detail))

	out, err := serialize(root)
	if err != nil {
		return nil, "", fmt.Errorf("build cancellation %s: %w", id, err)
	}
	return out, id, nil
}

// BuildKeyQuery produces the lookup document for an issued NFS-e
func (b *Builder) BuildKeyQuery(key string) ([]byte, error) {
	return b.buildQuery("ConsultaNFSe", "chNFSe", OnlyDigits(key))
}

// BuildDPSQuery produces the lookup document for a DPS identifier
func (b *Builder) BuildDPSQuery(id string) ([]byte, error) {
	return b.buildQuery("ConsultaDPS", "idDps", strings.TrimSpace(id))
}

func (b *Builder) buildQuery(rootTag, field, value string) ([]byte, error) {
	if value == "" {
		return nil, model.NewValidationError(field, value, "required", "is required")
	}
	root := etree.NewElement(rootTag)
	root.CreateAttr("xmlns", b.namespace)
	root.CreateAttr("versao", LayoutVersion)
	setText(root, field, value)
	return serialize(root)
}

func serialize(root *etree.Element) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.SetRoot(root)
	return doc.WriteToBytes()
}

// ReadText returns the text of the first element named local anywhere in
// data, ignoring prefixes. It is used to pick keys out of API documents.
func ReadText(data []byte, local string) string {
	clean, err := textenc.EnsureUTF8(data)
	if err != nil {
		return ""
	}
	if i := bytes.Index(clean, []byte("?>")); bytes.HasPrefix(bytes.TrimSpace(clean), []byte("<?xml")) && i >= 0 {
		clean = clean[i+2:]
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(clean); err != nil {
		return ""
	}
	root := doc.Root()
	if root == nil {
		return ""
	}
	if root.Tag == local {
		return strings.TrimSpace(root.Text())
	}
	if el := root.FindElement("//" + local); el != nil {
		return strings.TrimSpace(el.Text())
	}
	return ""
}
