package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"feedmesh/internal/config"
)

// Logger wraps the process logger together with the file it may write to.
type Logger struct {
	*logrus.Logger

	file *os.File
}

// New builds a logger from the log section of the config. An unreadable
// level falls back to info; an unopenable path falls back to stderr.
func New(c config.LogConfig) *Logger {
	l := logrus.New()
	if c.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	var file *os.File
	if c.Path != "" {
		f, err := os.OpenFile(c.Path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err == nil {
			file = f
			l.SetOutput(io.MultiWriter(os.Stderr, f))
		} else {
			l.WithError(err).Warn("could not open log file, logging to stderr only")
		}
	}

	return &Logger{Logger: l, file: file}
}

// Component returns an entry tagged with the replica and component names.
func (l *Logger) Component(replicaID, component string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"replica":   replicaID,
		"component": component,
	})
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// OrDefault returns entry, or an entry on the standard logger when nil.
func OrDefault(entry *logrus.Entry) *logrus.Entry {
	if entry != nil {
		return entry
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
