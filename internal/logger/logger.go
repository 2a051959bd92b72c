// Package logger builds the hclog loggers used across gstream and keeps a
// process-wide default for code that has no logger injected.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Options controls how the root logger is built
type Options struct {
	Name     string
	Level    string // trace, debug, info, warn, error
	Format   string // json or text
	Output   string // stdout, stderr or file
	FilePath string
}

var (
	defaultMu     sync.RWMutex
	defaultLogger hclog.Logger = hclog.New(&hclog.LoggerOptions{
		Name:  "gstream",
		Level: hclog.Info,
	})
)

// New creates a root logger from options. The returned closer releases the
// log file when Output is "file" and is a no-op otherwise.
func New(opts Options) (hclog.Logger, io.Closer, error) {
	out, closer, err := openOutput(opts)
	if err != nil {
		return nil, nil, err
	}

	name := opts.Name
	if name == "" {
		name = "gstream"
	}

	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	l := hclog.New(&hclog.LoggerOptions{
		Name:            name,
		Level:           level,
		Output:          out,
		JSONFormat:      strings.EqualFold(opts.Format, "json"),
		IncludeLocation: level <= hclog.Debug,
	})
	return l, closer, nil
}

func openOutput(opts Options) (io.Writer, io.Closer, error) {
	switch strings.ToLower(opts.Output) {
	case "", "stdout":
		return os.Stdout, nopCloser{}, nil
	case "stderr":
		return os.Stderr, nopCloser{}, nil
	case "file":
		if opts.FilePath == "" {
			return nil, nil, fmt.Errorf("log output is file but no file path is set")
		}
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return f, f, nil
	default:
		return nil, nil, fmt.Errorf("unsupported log output: %s", opts.Output)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetDefault replaces the process-wide logger
func SetDefault(l hclog.Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Default returns the process-wide logger
func Default() hclog.Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Named returns a child of the default logger
func Named(name string) hclog.Logger {
	return Default().Named(name)
}

// OrDefault returns l, or a named child of the default logger when l is nil
func OrDefault(l hclog.Logger, name string) hclog.Logger {
	if l != nil {
		return l
	}
	return Named(name)
}

func Info(msg string, args ...interface{})  { Default().Info(msg, args...) }
func Warn(msg string, args ...interface{})  { Default().Warn(msg, args...) }
func Error(msg string, args ...interface{}) { Default().Error(msg, args...) }
func Debug(msg string, args ...interface{}) { Default().Debug(msg, args...) }
