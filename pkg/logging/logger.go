package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging for playback components.
// All logs of one process are written to a session-specific file in
// ~/.playback/logs/ unless another directory is configured.
type Logger struct {
	sessionID string
	component string
	file      *os.File
	sugar     *zap.SugaredLogger
	logPath   string
	owner     bool
	closeOnce sync.Once
}

var (
	// Global session ID for the current process
	sessionID     string
	sessionIDOnce sync.Once

	// logDir is the directory where log files are stored
	logDir string

	// initOnce ensures directory initialization happens once
	initOnce sync.Once

	// initErr stores any error from directory initialization
	initErr error

	// level is shared by every logger created in this process
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// getSessionID returns or creates the session ID for this process
func getSessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

// SetDirectory overrides the log directory. It must be called before the
// first NewLogger call to take effect.
func SetDirectory(dir string) {
	if dir != "" {
		logDir = dir
	}
}

// SetLevel parses and applies a level name (debug, info, warn, error).
func SetLevel(name string) error {
	if name == "" {
		return nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	level.SetLevel(l)
	return nil
}

// initLogDirectory ensures the log directory exists
func initLogDirectory() error {
	initOnce.Do(func() {
		if logDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				initErr = fmt.Errorf("failed to get home directory: %w", err)
				return
			}
			logDir = filepath.Join(homeDir, ".playback", "logs")
		}

		if err := os.MkdirAll(logDir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
	})
	return initErr
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " "
	return cfg
}

// NewLogger creates a new logger for a specific component.
// The logger writes to <log dir>/<session-id>-playback.log
//
// If the log directory cannot be created or the log file cannot be opened,
// it returns a fallback logger that writes to stderr along with the error.
func NewLogger(component string) (*Logger, error) {
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, err), err
	}

	sessID := getSessionID()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-playback.log", sessID))

	// Append mode: every component of the process writes to the same file
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		err = fmt.Errorf("failed to open log file: %w", err)
		return newFallbackLogger(component, err), err
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.AddSync(file), level)

	return &Logger{
		sessionID: sessID,
		component: component,
		file:      file,
		sugar:     zap.New(core).Named(component).Sugar(),
		logPath:   logPath,
		owner:     true,
	}, nil
}

// newFallbackLogger creates a logger that writes to stderr when file logging fails
func newFallbackLogger(component string, err error) *Logger {
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.Lock(os.Stderr), level)
	sugar := zap.New(core, zap.AddCaller()).Named(component).Sugar()
	sugar.Warnf("failed to initialize file logging: %v", err)
	sugar.Warnf("falling back to stderr logging")

	return &Logger{
		sessionID: getSessionID(),
		component: component,
		sugar:     sugar,
	}
}

// NewWithWriter creates a logger that writes to w. Used by tests and by
// callers that manage their own sinks.
func NewWithWriter(component string, w io.Writer) *Logger {
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.AddSync(w), level)
	return &Logger{
		sessionID: getSessionID(),
		component: component,
		sugar:     zap.New(core).Named(component).Sugar(),
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{
		component: "nop",
		sugar:     zap.NewNop().Sugar(),
	}
}

// Named returns a child logger for a sub-component sharing the same sink.
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		sessionID: l.sessionID,
		component: l.component + "." + name,
		sugar:     l.sugar.Named(name),
		logPath:   l.logPath,
	}
}

// With returns a child logger that adds key/value context to every entry.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		sessionID: l.sessionID,
		component: l.component,
		sugar:     l.sugar.With(keysAndValues...),
		logPath:   l.logPath,
	}
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// SessionID returns the current session ID
func (l *Logger) SessionID() string {
	return l.sessionID
}

// LogPath returns the path to the log file
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close flushes and closes the log file. Safe to call multiple times.
// Child loggers created with Named or With never close the shared file.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		_ = l.sugar.Sync()
		if l.owner && l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}
