package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/docshield/docshield/internal/crypto"
)

// Attribute keys rewritten before a record is written. A "token" attribute
// becomes "token_fingerprint" so a preview token can be correlated across log
// lines without ever being printed; secret-bearing keys are masked outright.
const (
	tokenKey            = "token"
	tokenFingerprintKey = "token_fingerprint"
	redacted            = "[REDACTED]"
)

var secretKeys = map[string]bool{
	"authorization":  true,
	"password":       true,
	"jwt_secret":     true,
	"encryption_key": true,
}

// ParseLevel maps a configured level name to a slog level. Unknown names
// fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewHandler builds the docshield log handler writing to w: JSON when format
// is "json" (case-insensitive), text otherwise. Source locations are added at
// debug level only.
func NewHandler(w io.Writer, format, level string) slog.Handler {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   lvl == slog.LevelDebug,
		ReplaceAttr: redactAttr,
	}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SetupLogger installs a handler on stdout as the slog default, so every
// slog.Info/Warn/Error call in the service goes through the redaction rules.
func SetupLogger(format, level string) {
	slog.SetDefault(slog.New(NewHandler(os.Stdout, format, level)))
	slog.Info("logger initialised", "format", format, "level", ParseLevel(level).String())
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	switch {
	case key == tokenKey:
		if a.Value.Kind() != slog.KindString || a.Value.String() == "" {
			return a
		}
		return slog.String(tokenFingerprintKey, crypto.Fingerprint(a.Value.String()))
	case secretKeys[key]:
		return slog.String(a.Key, redacted)
	}
	return a
}
