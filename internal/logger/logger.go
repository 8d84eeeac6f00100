// Package logger builds the process-wide logrus instance. The level
// comes from LOG_LEVEL via the config package; an unparsable value
// falls back to info with a warning, so a typo in the environment
// never silences the bot.
package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// New returns a JSON-formatted logger at the requested level.
func New(level string) *logrus.Logger {
	log := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
		log.WithField("level", level).Warn("unknown log level, falling back to info")
	}
	log.SetLevel(parsed)
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})

	return log
}