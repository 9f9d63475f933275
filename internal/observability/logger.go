package observability

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const attrService = "service"

// NewLogger builds the process logger. Format is "text" or "json"; level is
// one of debug, info, warn, error.
func NewLogger(w io.Writer, level, format, service string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch format {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "text", "":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("log format %q: want text or json", format)
	}

	return slog.New(h.WithAttrs([]slog.Attr{slog.String(attrService, service)})), nil
}
