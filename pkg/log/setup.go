package log

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Setup builds the process logger. An invalid level falls back to info and is reported as a warning.
func Setup(level, format string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON:
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	}

	log.SetLevel(logrus.InfoLevel)
	if level == "" {
		return log
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", level, err)
		return log
	}
	log.SetLevel(parsed)
	return log
}

// Component returns an entry tagged with the component field
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
