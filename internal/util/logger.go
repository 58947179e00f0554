// Package util collects small platform and logging helpers shared across
// the relay engine and its ambient stack.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string
	Directory  string
	MaxSizeMB  int
	MaxBackups int
	Console    bool
	// ConsoleLevel overrides the console writer's minimum level independently
	// of Level, used to implement quiet mode (-q) without silencing the file
	// sink.
	ConsoleLevel string
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "INFO",
		Directory:  "logs",
		MaxSizeMB:  10,
		MaxBackups: 5,
		Console:    true,
	}
}

// InitLogger initializes the zerolog global logger with file and console
// output, mirroring the split-sink approach quiet mode relies on: the file
// sink always logs at the configured level, the console sink may be raised
// independently.
func InitLogger(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(normalizeLevel(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
	}

	logFileName := fmt.Sprintf("wookiee-unicaster_%s.log", time.Now().Format("2006-01-02"))
	logFilePath := filepath.Join(cfg.Directory, logFileName)

	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}

	var writers []io.Writer
	writers = append(writers, logFile)

	if cfg.Console {
		consoleLevel := level
		if cfg.ConsoleLevel != "" {
			if l, err := zerolog.ParseLevel(normalizeLevel(cfg.ConsoleLevel)); err == nil {
				consoleLevel = l
			}
		}
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
		writers = append(writers, levelFilterWriter{w: consoleWriter, min: consoleLevel})
	}

	multi := zerolog.MultiLevelWriter(writers...)

	log.Logger = zerolog.New(multi).
		With().
		Timestamp().
		Logger()

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	go cleanOldLogs(cfg.Directory, cfg.MaxBackups)

	return nil
}

func normalizeLevel(level string) string {
	switch level {
	case "WARNING":
		return "warn"
	case "CRITICAL":
		return "fatal"
	default:
		return level
	}
}

// levelFilterWriter drops events below min before they reach the wrapped
// writer, used to raise the console sink's floor in quiet mode while the
// file sink keeps recording at the configured level.
type levelFilterWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (lw levelFilterWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

func (lw levelFilterWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < lw.min {
		return len(p), nil
	}
	if wl, ok := lw.w.(zerolog.LevelWriter); ok {
		return wl.WriteLevel(level, p)
	}
	return lw.w.Write(p)
}

// cleanOldLogs removes log files older than the retention limit.
func cleanOldLogs(directory string, maxBackups int) {
	if maxBackups <= 0 {
		return
	}

	entries, err := os.ReadDir(directory)
	if err != nil {
		return
	}

	var logFiles []os.DirEntry
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".log" {
			logFiles = append(logFiles, entry)
		}
	}

	sort.Slice(logFiles, func(i, j int) bool {
		ii, _ := logFiles[i].Info()
		jj, _ := logFiles[j].Info()
		if ii == nil || jj == nil {
			return false
		}
		return ii.ModTime().Before(jj.ModTime())
	})

	if len(logFiles) > maxBackups {
		for i := 0; i < len(logFiles)-maxBackups; i++ {
			path := filepath.Join(directory, logFiles[i].Name())
			os.Remove(path)
			log.Debug().Str("file", path).Msg("removed old log file")
		}
	}
}

// ComponentLogger creates a logger with a "component" name field; the relay
// engine adds per-line fields such as "slot" and "peer" on top of it.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
