package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger = log.New(os.Stderr, "[edfgate] ", log.LstdFlags|log.Lmicroseconds)
)

func Logf(format string, args ...interface{}) {
	logger.Printf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatalf(format, args...)
}

// SetLogOutput redirects the package logger.
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

// LogRotation configures the rotated log file written next to stderr.
type LogRotation struct {
	Directory  string
	FileName   string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

// SetupLogging tees the package logger into a rotated file. It returns the
// rotator so callers can close it on exit; an empty Directory leaves logging
// on stderr only and returns nil.
func SetupLogging(cfg LogRotation) (io.Closer, error) {
	if cfg.Directory == "" {
		return nil, nil
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := cfg.FileName
	if name == "" {
		name = "edfctl.log"
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Directory, name),
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return rotator, nil
}
