package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New creates a logger tagged with component. APP_ENV=dev switches to a
// human readable console writer; otherwise logs are JSON lines on stderr.
func New(component, level string) zerolog.Logger {
	return NewWithWriter(os.Stderr, component, level)
}

// NewWithWriter is New with an explicit destination
func NewWithWriter(w io.Writer, component, level string) zerolog.Logger {
	if strings.ToLower(os.Getenv("APP_ENV")) == "dev" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("component", component).Logger()
}
