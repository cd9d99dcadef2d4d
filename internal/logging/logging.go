// Package logging configures the process-wide logrus logger from config.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/stellarlinkco/payqr/internal/config"
)

// Setup applies level and output to the standard logrus logger. When a log
// file is configured, output goes to stderr and to a size-rotated file. The
// returned closer releases the file and is never nil.
func Setup(cfg config.LogConfig) (io.Closer, error) {
	return Apply(logrus.StandardLogger(), cfg, os.Stderr)
}

// Apply configures logger. console receives text output in every mode.
func Apply(logger *logrus.Logger, cfg config.LogConfig, console io.Writer) (io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nopCloser{}, err
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	file := strings.TrimSpace(cfg.File)
	if file == "" {
		logger.SetOutput(console)
		return nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nopCloser{}, fmt.Errorf("create log dir: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    orDefault(cfg.MaxSizeMB, config.DefaultLogMaxSizeMB),
		MaxBackups: orDefault(cfg.MaxBackups, config.DefaultLogMaxBackups),
		Compress:   true,
	}
	logger.SetOutput(io.MultiWriter(console, rotator))
	return rotator, nil
}

// ParseLevel accepts logrus level names; empty means info.
func ParseLevel(s string) (logrus.Level, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return logrus.InfoLevel, nil
	}
	level, err := logrus.ParseLevel(s)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
