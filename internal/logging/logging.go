package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds the service logger. format is "json" or "text"; anything else
// picks text for dev and json everywhere else.
func New(service string, env string, level string, format string) *logrus.Entry {
	return NewWithWriter(os.Stdout, service, env, level, format)
}

func NewWithWriter(w io.Writer, service string, env string, level string, format string) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(w)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		if strings.EqualFold(env, "dev") {
			logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		} else {
			logger.SetFormatter(&logrus.JSONFormatter{})
		}
	}

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	return logger.WithField("service", service)
}

// Discard returns a logger that drops everything. Used by tests and as a
// fallback when a component is built without a logger.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *logrus.Entry) *logrus.Entry {
	if l == nil {
		return Discard()
	}
	return l
}
