package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the service-wide logger. All binaries log structured JSON to
// stdout with the service name attached.
func New(service string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", service).Logger()
}
