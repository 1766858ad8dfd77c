package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"guestgreet/config"

	log "github.com/sirupsen/logrus"
)

// Init setzt Level, Format und Ausgabe des globalen Loggers.
// Der zurückgegebene Closer schließt die Logdatei, falls eine geöffnet wurde.
func Init(cfg config.LogConfig) (io.Closer, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("Invalid log level '%s', defaulting to 'info': %v", cfg.Level, err)
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(formatter(cfg.Format))

	// stdout bleibt immer aktiv (Container-Logs)
	var closer io.Closer = nopCloser{}
	out := io.Writer(os.Stdout)
	var fileErr error
	if cfg.File != "" {
		file, err := openLogFile(cfg.File)
		if err != nil {
			fileErr = err
		} else {
			out = io.MultiWriter(os.Stdout, file)
			closer = file
		}
	}
	log.SetOutput(out)

	if fileErr != nil {
		log.Errorf("Logging to stdout only: %v", fileErr)
		return closer, fileErr
	}
	log.WithFields(log.Fields{"level": level.String(), "file": cfg.File}).Info("Logger initialized")
	return closer, nil
}

func formatter(format string) log.Formatter {
	if strings.EqualFold(format, "json") {
		return &log.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	}
	return &log.TextFormatter{FullTimestamp: true}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory for %s: %w", path, err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return file, nil
}

// Component liefert einen Logger mit gesetztem Komponentenfeld
func Component(name string) *log.Entry {
	return log.WithField("component", name)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
