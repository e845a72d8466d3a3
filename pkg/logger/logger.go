// Package logger configures the application-wide structured logger.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration.
type Config struct {
	Level   string // debug, info, warn, error
	Service string // tagged on every line when set
	Pretty  bool   // human-readable console output instead of JSON
}

// PrettyFromEnv reports whether console output should default to the
// human-readable format. LOG_PRETTY wins when set; otherwise JSON in
// production and pretty everywhere else.
func PrettyFromEnv() bool {
	switch os.Getenv("LOG_PRETTY") {
	case "true", "1":
		return true
	case "false", "0":
		return false
	}
	return os.Getenv("ENV") != "production"
}

// New creates a structured logger for the given configuration. Unknown
// or empty level strings fall back to info rather than failing startup.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	return ctx.Logger()
}

// SetGlobalLogger sets the package-level logger used by zerolog/log.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
