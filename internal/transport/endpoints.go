package transport

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/rezonia/nfse-dps/internal/model"
)

// Operation names a call to the national API
type Operation string

// Supported operations
const (
	OpEmit           Operation = "emit"
	OpQueryByKey     Operation = "query_by_key"
	OpCancel         Operation = "cancel"
	OpReplace        Operation = "replace"
	OpQueryByDPS     Operation = "query_by_dps"
	OpQueryByBatch   Operation = "query_by_batch"
	OpDownloadXML    Operation = "download_xml"
	OpDownloadDANFSe Operation = "download_danfse"
)

// DefaultPaths maps operations to their path below the base URL
var DefaultPaths = map[Operation]string{
	OpEmit:           "/nfse",
	OpQueryByKey:     "/nfse/consulta",
	OpCancel:         "/nfse/cancelamento",
	OpReplace:        "/nfse/substituicao",
	OpQueryByDPS:     "/dps/consulta",
	OpQueryByBatch:   "/lote/consulta",
	OpDownloadXML:    "/nfse/xml",
	OpDownloadDANFSe: "/danfse",
}

// Default API locations per environment (tpAmb)
const (
	ProductionBaseURL = "https://sefin.nfse.gov.br/SefinNacional"
	StagingBaseURL    = "https://sefin.producaorestrita.nfse.gov.br/SefinNacional"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// BaseURLFor returns the default base URL for an environment code
func BaseURLFor(ambiente int) string {
	if ambiente == model.AmbienteProducao {
		return ProductionBaseURL
	}
	return StagingBaseURL
}

// NormalizeBaseURL enforces HTTPS. http:// is upgraded, a missing scheme
// gets https://, anything else is rejected.
func NormalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", model.NewConfigError("base_url", "base URL is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", model.NewConfigError("base_url", fmt.Sprintf("invalid base URL: %v", err))
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		u.Scheme = "https"
	default:
		return "", model.NewConfigError("base_url", fmt.Sprintf("unsupported scheme %q, HTTPS is required", u.Scheme))
	}
	if u.Host == "" {
		return "", model.NewConfigError("base_url", "base URL has no host")
	}

	u.Scheme = "https"
	return strings.TrimRight(u.String(), "/"), nil
}

// resolvePath picks the configured or default path for op and fills in
// {name} placeholders
func resolvePath(op Operation, overrides map[string]string, params map[string]string) (string, error) {
	path, ok := overrides[string(op)]
	if !ok || strings.TrimSpace(path) == "" {
		path, ok = DefaultPaths[op]
	}
	if !ok {
		return "", model.NewConfigError("endpoints."+string(op), "no path configured for operation")
	}

	var missing []string
	path = placeholder.ReplaceAllStringFunc(path, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := params[name]
		if !ok || v == "" {
			missing = append(missing, name)
			return m
		}
		return url.PathEscape(v)
	})
	if len(missing) > 0 {
		return "", model.NewConfigError("endpoints."+string(op), fmt.Sprintf("missing path parameter(s): %s", strings.Join(missing, ", ")))
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path, nil
}
