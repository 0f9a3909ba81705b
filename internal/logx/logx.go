package logx

import (
	"os"

	"github.com/rs/zerolog"
)

// Setup configures the process-wide zerolog defaults and returns a logger
// tagged with the service name.
func Setup(service, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(os.Stdout).With().Timestamp().Str("service", service).Logger()
}
