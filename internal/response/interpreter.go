// Package response turns bodies returned by the national API into a
// model.TransmissionResult. Parsing never fails: malformed input becomes a
// failed result.
package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"

	"github.com/rezonia/nfse-dps/internal/envelope"
	"github.com/rezonia/nfse-dps/internal/model"
	"github.com/rezonia/nfse-dps/internal/textenc"
)

// Fixed messages
const (
	MsgEmptyResponse   = "empty response from the national API"
	MsgUnrecognized    = "unrecognized response from the national API"
	MsgAccepted        = "document accepted"
	MsgRejectedNoError = "document rejected without an error message"
)

// nestedXMLFields are the JSON fields that may carry gzip+base64 XML
var nestedXMLFields = []string{"nfseXmlGZipB64", "xmlGZipB64", "dpsXmlGZipB64", "eventoXmlGZipB64"}

// Interpreter parses API responses. The zero value is usable.
type Interpreter struct {
	log zerolog.Logger
}

// Option configures an Interpreter
type Option func(*Interpreter)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(i *Interpreter) {
		i.log = l
	}
}

// New creates an interpreter
func New(opts ...Option) *Interpreter {
	i := &Interpreter{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Parse interprets body as JSON when it decodes to an object, as XML otherwise
func (i *Interpreter) Parse(body []byte) model.TransmissionResult {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return model.FailedTransmission(MsgEmptyResponse)
	}

	if obj, ok := decodeObject(trimmed); ok {
		return i.parseJSON(obj)
	}
	return i.parseXML(trimmed)
}

func decodeObject(body []byte) (map[string]any, bool) {
	if body[0] != '{' {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func (i *Interpreter) parseJSON(obj map[string]any) model.TransmissionResult {
	res := model.TransmissionResult{
		ChaveAcesso: stringField(obj, "chaveAcesso"),
		IDDps:       stringField(obj, "idDps"),
	}

	if msg := jsonErrorMessage(obj); msg != "" {
		res.Message = msg
		return res
	}

	for _, field := range nestedXMLFields {
		raw := stringField(obj, field)
		if raw == "" {
			continue
		}
		xml, err := envelope.Decode(raw)
		if err != nil {
			i.log.Warn().Err(err).Str("field", field).Msg("nested XML could not be decoded")
			res.Message = fmt.Sprintf("could not decode %s: %v", field, err)
			return res
		}

		res.Success = true
		res.XMLRetorno = string(xml)
		res.Message = firstNonEmpty(stringField(obj, "mensagem"), MsgAccepted)
		if doc, err := readXML(xml); err == nil {
			fields := scan(doc.Root())
			res.Numero = fields.numero
			res.CodigoVerificacao = fields.codigoVerificacao
			res.Protocolo = fields.protocolo
			res.Link = fields.link
			if res.ChaveAcesso == "" {
				res.ChaveAcesso = fields.chaveAcesso
			}
		}
		return res
	}

	res.Message = MsgUnrecognized
	return res
}

func (i *Interpreter) parseXML(body []byte) model.TransmissionResult {
	doc, err := readXML(body)
	if err != nil {
		return model.FailedTransmission(err.Error())
	}
	root := doc.Root()
	if root == nil {
		return model.FailedTransmission("response has no root element")
	}

	f := scan(root)
	res := model.TransmissionResult{
		Success:           inferSuccess(f.status, f.statusFound, len(f.errors) > 0, f.numero),
		Numero:            f.numero,
		CodigoVerificacao: f.codigoVerificacao,
		Protocolo:         f.protocolo,
		ChaveAcesso:       f.chaveAcesso,
		Link:              f.link,
		XMLRetorno:        string(body),
	}

	switch {
	case !res.Success && len(f.errors) > 0:
		res.Message = strings.Join(f.errors, "; ")
	case f.message != "":
		res.Message = f.message
	case res.Success:
		res.Message = MsgAccepted
	default:
		res.Message = MsgRejectedNoError
	}
	return res
}

// inferSuccess decides the outcome of an XML response.
// An explicit status marker wins. Without one, error nodes mean failure.
// Otherwise a document number alone counts as success; this absence-of-error
// rule misreports if the API changes how it signals errors.
func inferSuccess(status string, statusFound, hasErrors bool, numero string) bool {
	if statusFound {
		return truthy(status)
	}
	if hasErrors {
		return false
	}
	return numero != ""
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "s", "sim", "ok", "success", "sucesso", "100":
		return true
	}
	return false
}

func readXML(data []byte) (*etree.Document, error) {
	clean, err := textenc.EnsureUTF8(data)
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(stripPrologue(clean)); err != nil {
		return nil, err
	}
	return doc, nil
}

func stripPrologue(data []byte) []byte {
	trimmed := bytes.TrimLeft(data, " \t\r\n\xef\xbb\xbf")
	if !bytes.HasPrefix(trimmed, []byte("<?xml")) {
		return trimmed
	}
	end := bytes.Index(trimmed, []byte("?>"))
	if end < 0 {
		return trimmed
	}
	return trimmed[end+2:]
}

func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
