package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ServiceName tags every log line.
const ServiceName = "exstem-proctor"

// Setup initializes the global zerolog logger.
//   - level: trace, debug, info, warn, error, fatal or panic (default info)
//   - format: "pretty" for human-readable dev output, anything else for JSON
func Setup(level, format string) zerolog.Logger {
	return New(os.Stdout, level, format)
}

// New builds the logger on w. Setup uses stdout; tests pass a buffer.
func New(w io.Writer, level, format string) zerolog.Logger {
	if format == "pretty" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(w).
		With().
		Timestamp().
		Str("service", ServiceName).
		Caller().
		Logger()
}
