package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger builds the structured logger for one rank's admin surface and
// installs it as the global logger.
func InitLogger(app string, rank int) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).With().Timestamp().Str("app", app).Int("rank", rank).Logger()
	log.Logger = logger
	return logger
}
