package response

import (
	"strings"
)

// Keys that may describe an error inside an error object
var descriptionKeys = []string{"Descricao", "descricao", "Mensagem", "mensagem", "message", "Message"}

// Keys that may carry an error code
var codeKeys = []string{"Codigo", "codigo", "code"}

// jsonErrorMessage looks for an error under the known response shapes:
// erro (string or object), erros/Erros (list), message, mensagem.
// It returns "" when the body does not report an error.
func jsonErrorMessage(obj map[string]any) string {
	if msg := describe(obj["erro"]); msg != "" {
		return msg
	}
	for _, key := range []string{"erros", "Erros"} {
		if list, ok := obj[key].([]any); ok {
			var msgs []string
			for _, item := range list {
				if msg := describe(item); msg != "" {
					msgs = append(msgs, msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}
	if hasNestedXML(obj) {
		return ""
	}
	for _, key := range []string{"message", "mensagem"} {
		if msg := stringField(obj, key); msg != "" {
			return msg
		}
	}
	return ""
}

// describe renders an error value as "code: description" when it has both
func describe(v any) string {
	switch e := v.(type) {
	case string:
		return strings.TrimSpace(e)
	case map[string]any:
		desc := ""
		for _, k := range descriptionKeys {
			if desc = stringField(e, k); desc != "" {
				break
			}
		}
		code := ""
		for _, k := range codeKeys {
			if code = stringField(e, k); code != "" {
				break
			}
		}
		switch {
		case desc != "" && code != "":
			return code + ": " + desc
		case desc != "":
			return desc
		default:
			return code
		}
	}
	return ""
}

func hasNestedXML(obj map[string]any) bool {
	for _, f := range nestedXMLFields {
		if stringField(obj, f) != "" {
			return true
		}
	}
	return false
}
