// Package log configures the process-wide zerolog logger.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config captures options for configuring the global logger.
type Config struct {
	Level  string    // "debug", "info", ...; empty keeps debug
	Output io.Writer // console output (defaults to os.Stderr)
	File   string    // optional JSON log file, rotated at local midnight

	MaxAgeDays int // rotated files older than this are removed; 0 keeps them
	MaxBackups int // rotated files kept; 0 keeps all
}

var (
	mu        sync.Mutex
	base      = zerolog.New(os.Stderr).With().Timestamp().Logger()
	file      *lumberjack.Logger
	stopDaily chan struct{}
	dailyDone chan struct{}
)

// Configure replaces the base logger. The returned close function flushes
// and closes the log file, if one was opened.
func Configure(cfg Config) (func() error, error) {
	mu.Lock()
	defer mu.Unlock()

	level := zerolog.DebugLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		f := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			LocalTime:  true,
		}
		// Open now so a bad path fails at startup rather than on first write.
		if _, err := f.Write(nil); err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		_ = stopLocked()
		file = f
		stopDaily = make(chan struct{})
		dailyDone = make(chan struct{})
		go rotateDaily(f, stopDaily, dailyDone)
		writers = append(writers, f)
	}

	base = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().
		Timestamp().
		Str("service", "book-kiosk").
		Logger()

	return closeFile, nil
}

func closeFile() error {
	mu.Lock()
	defer mu.Unlock()
	return stopLocked()
}

func stopLocked() error {
	if file == nil {
		return nil
	}
	close(stopDaily)
	<-dailyDone
	err := file.Close()
	file = nil
	return err
}

// Rotate moves the current log file aside and starts a new one.
func Rotate() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	return file.Rotate()
}

func rotateDaily(f *lumberjack.Logger, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		timer := time.NewTimer(untilMidnight(time.Now()))
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
			if err := f.Rotate(); err != nil {
				fmt.Fprintf(os.Stderr, "rotate log file: %v\n", err)
			}
		}
	}
}

// untilMidnight returns the time from now to the next local midnight.
func untilMidnight(now time.Time) time.Duration {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location()).Sub(now)
}

// Base returns the configured base logger.
func Base() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}
