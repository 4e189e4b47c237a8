package logx

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the shared logger for the tabwire binaries.
var Log = log.Logger

func init() {
	zerolog.SetGlobalLevel(levelFromEnv())
	Log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// levelFromEnv reads LOG_LEVEL (debug, info, warn, error); DEBUG=true is an
// accepted shorthand for debug.
func levelFromEnv() zerolog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "info":
		return zerolog.InfoLevel
	}
	if strings.EqualFold(os.Getenv("DEBUG"), "true") {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
