package transport

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// maxLoggedBody caps bodies written to the debug log
const maxLoggedBody = 2048

// debugLogger returns the trace sink for one Send. Failing to open the log
// file disables tracing for that call, it never fails the request.
func (c *Client) debugLogger() (zerolog.Logger, func()) {
	if !c.debugEnabled() {
		return zerolog.Nop(), func() {}
	}

	var w io.Writer = os.Stderr
	closer := func() {}
	if c.cfg.DebugLogPath != "" {
		f, err := os.OpenFile(c.cfg.DebugLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			c.log.Warn().Err(err).Str("path", c.cfg.DebugLogPath).Msg("cannot open debug log")
			return zerolog.Nop(), closer
		}
		w = f
		closer = func() { _ = f.Close() }
	}

	l := zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Str("component", "transport").Logger()
	return l, closer
}

func (c *Client) debugEnabled() bool {
	if c.cfg.Debug {
		return true
	}
	return DebugFlag(c.getenv(DebugEnv))
}

// DebugFlag interprets a debug toggle value: anything non-empty that does
// not parse as a false boolean turns tracing on
func DebugFlag(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	on, err := strconv.ParseBool(v)
	return err != nil || on
}

func truncate(b []byte) string {
	if len(b) <= maxLoggedBody {
		return string(b)
	}
	return string(b[:maxLoggedBody]) + "...(truncated)"
}
