package dps

import (
	"strings"

	"github.com/rezonia/nfse-dps/internal/model"
)

// Identifier layout
const (
	IDPrefix      = "DPS"
	ReceiptPrefix = "NFS"

	widthLocation = 7
	widthDocument = 14
	widthSeries   = 5
	widthNumber   = 15
	widthService  = 6

	defaultSubItem = "01"
)

// Issuer type flags used inside the identifier
const (
	IssuerTypeCPF  = "1"
	IssuerTypeCNPJ = "2"
)

// BuildID computes the 45 character DPS identifier. Requests with the same
// location, issuer, series and number always yield the same identifier.
func BuildID(req *model.DpsRequest) string {
	return IDPrefix + identifierDigits(req)
}

// BuildReceiptID computes the identifier of the outer receipt envelope
func BuildReceiptID(req *model.DpsRequest) string {
	return ReceiptPrefix + identifierDigits(req)
}

func identifierDigits(req *model.DpsRequest) string {
	doc := OnlyDigits(req.Prest.Document())

	var b strings.Builder
	b.WriteString(FitDigits(model.Text(req.CLocEmi), widthLocation))
	b.WriteString(IssuerType(doc))
	b.WriteString(FitDigits(doc, widthDocument))
	b.WriteString(FitDigits(model.Text(req.Serie), widthSeries))
	b.WriteString(FitDigits(model.Text(req.NDPS), widthNumber))
	return b.String()
}

// IssuerType returns the one digit flag for an issuer document
func IssuerType(doc string) string {
	if len(OnlyDigits(doc)) == 11 {
		return IssuerTypeCPF
	}
	return IssuerTypeCNPJ
}

// NormalizeServiceCode returns the 6 digit national service code (cTribNac).
// Three and four digit inputs are item codes without a sub-item and get
// the default sub-item "01" appended; other lengths are padded or truncated.
func NormalizeServiceCode(code string) string {
	d := OnlyDigits(code)
	switch len(d) {
	case widthService:
		return d
	case 3:
		return "0" + d + defaultSubItem
	case 4:
		return d + defaultSubItem
	default:
		return FitDigits(d, widthService)
	}
}

// OnlyDigits drops every non-digit character
func OnlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// FitDigits keeps the digits of s, left-pads them with zeros to width and
// truncates from the right when longer
func FitDigits(s string, width int) string {
	d := OnlyDigits(s)
	if len(d) > width {
		return d[:width]
	}
	return strings.Repeat("0", width-len(d)) + d
}

func trimLeadingZeros(s string) string {
	t := strings.TrimLeft(s, "0")
	if t == "" && s != "" {
		return "0"
	}
	return t
}
