// Package logging builds the application logger.
package logging

import (
	"fmt"
	"io"
	"os"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"github.com/swdee/go-posepuppet/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a logger writing to stderr, and to a rotated file when
// cfg.File is set
func New(cfg config.LogConfig) (*logrus.Logger, error) {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg config.LogConfig, stderr io.Writer) (*logrus.Logger, error) {

	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)

	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	log.SetLevel(level)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		// colour codes would end up in the log file
		log.SetFormatter(&formatter.Formatter{
			NoColors:        cfg.File != "",
			TimestampFormat: "02 Jan 06 - 15:04:05",
			FieldsOrder:     []string{"component", "id"},
		})
	default:
		return nil, fmt.Errorf("unknown log format: %q", cfg.Format)
	}

	writers := []io.Writer{stderr}

	if cfg.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			LocalTime:  true,
			Compress:   cfg.Compress,
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
		})
	}

	log.SetOutput(io.MultiWriter(writers...))

	return log, nil
}
