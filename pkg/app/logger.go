package app

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/flemzord/cadence/internal/security"
)

// ParseLevel maps a config log level to slog. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("app: log level %q: %w", s, err)
	}
	return lvl, nil
}

// NewLogger builds the process logger: a text handler wrapped so that
// every secret the redactor knows about is masked.
func NewLogger(w io.Writer, level slog.Level, redactor *security.Redactor) *slog.Logger {
	inner := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(security.NewRedactingHandler(inner, redactor))
}
