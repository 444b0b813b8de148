package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/arthur-debert/modkit/pkg/paths"
)

const (
	// EnvStateDir points the log file at another directory
	EnvStateDir = paths.EnvStateDir
	// LogFileName is the file the JSON log is appended to
	LogFileName = paths.LogFileName
)

// SetupLogger installs the global logger on stderr plus the log file.
func SetupLogger(verbosity int) {
	SetupLoggerWithOutput(verbosity, os.Stderr)
}

// SetupLoggerWithOutput installs the global logger. Human readable lines go
// to console and JSON lines are appended to the log file when it can be
// opened. -vv and above also record the caller.
func SetupLoggerWithOutput(verbosity int, console io.Writer) {
	zerolog.SetGlobalLevel(levelFor(verbosity))

	path := logFilePath()
	sink, openErr := openLogFile(path)

	var w io.Writer = zerolog.ConsoleWriter{Out: console, TimeFormat: time.Kitchen}
	if openErr == nil {
		w = zerolog.MultiLevelWriter(w, sink)
	}

	ctx := zerolog.New(w).With().Timestamp()
	if verbosity >= 2 {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()

	if openErr != nil {
		log.Warn().Err(openErr).Str("path", path).Msg("Log file unavailable, console only")
		return
	}
	log.Debug().Int("verbosity", verbosity).Str("logFile", path).Msg("Logger initialized")
}

// levelFor maps the -v count: none is warn, then info, debug and trace.
func levelFor(verbosity int) zerolog.Level {
	levels := []zerolog.Level{zerolog.WarnLevel, zerolog.InfoLevel, zerolog.DebugLevel}
	if verbosity < 0 {
		verbosity = 0
	}
	if verbosity < len(levels) {
		return levels[verbosity]
	}
	return zerolog.TraceLevel
}

// GetLogger returns the global logger tagged with component=name
func GetLogger(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// TimeOperation logs op at debug and returns a func that logs its duration.
// Typical use is defer TimeOperation(logger, "install")().
func TimeOperation(logger zerolog.Logger, op string) func() {
	began := time.Now()
	logger.Debug().Str("operation", op).Msg("Operation started")
	return func() {
		logger.Debug().
			Str("operation", op).
			Dur("duration", time.Since(began)).
			Msg("Operation completed")
	}
}

func logFilePath() string {
	return paths.New().LogFilePath()
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}
