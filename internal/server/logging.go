package server

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the diagnostic logger. Format "json" writes raw zerolog
// JSON; anything else uses the console writer. Unknown levels fall back to
// info.
func NewLogger(cfg LogConfig, w io.Writer) zerolog.Logger {
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
