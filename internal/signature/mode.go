package signature

import "strings"

// Mode controls whether a document must, may or must not be signed
type Mode string

// Signature modes
const (
	ModeNone     Mode = "none"
	ModeOptional Mode = "optional"
	ModeRequired Mode = "required"
)

// ParseMode parses a mode name. An empty string selects ModeOptional.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeOptional, nil
	case ModeNone, ModeOptional, ModeRequired:
		return m, nil
	default:
		return "", ErrUnsupportedMode(s)
	}
}

func (m Mode) String() string {
	return string(m)
}
