// Package logger provides the structured logger shared by every raffle
// component. It is a thin layer over logrus that stamps each entry with the
// module that produced it.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls how log entries are rendered and where they go.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// Logger is a logrus logger bound to a module name.
type Logger struct {
	*logrus.Logger
	module string
}

// New builds a logger from the supplied configuration. Invalid values fall
// back to info level, text format and stdout.
func New(cfg LoggingConfig) *Logger {
	return newLogger("raffle", cfg)
}

// NewDefault returns an info-level text logger writing to stdout.
func NewDefault(module string) *Logger {
	return newLogger(module, LoggingConfig{})
}

// Named returns a logger that shares this logger's configuration but reports
// a different module.
func (l *Logger) Named(module string) *Logger {
	base := logrus.New()
	base.SetLevel(l.GetLevel())
	base.SetFormatter(l.Formatter)
	base.SetOutput(l.Out)
	base.AddHook(moduleHook{module: module})
	return &Logger{Logger: base, module: module}
}

// Module reports the module name stamped on entries.
func (l *Logger) Module() string {
	return l.module
}

func newLogger(module string, cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	out, err := openOutput(cfg)
	if err != nil {
		base.SetOutput(os.Stdout)
		base.WithError(err).Warn("falling back to stdout for logging")
	} else {
		base.SetOutput(out)
	}

	base.AddHook(moduleHook{module: module})
	return &Logger{Logger: base, module: module}
}

func openOutput(cfg LoggingConfig) (io.Writer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "file":
		prefix := strings.TrimSpace(cfg.FilePrefix)
		if prefix == "" {
			prefix = "raffle"
		}
		name := fmt.Sprintf("%s-%s.log", prefix, time.Now().UTC().Format("20060102"))
		if dir := filepath.Dir(name); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}
}

type moduleHook struct {
	module string
}

func (h moduleHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h moduleHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["module"]; !ok {
		entry.Data["module"] = h.module
	}
	return nil
}
