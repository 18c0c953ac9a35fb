package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLogLevel maps a level name to its slog level
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	}
	return 0, fmt.Errorf("unknown log level %q", level)
}

// InitLog installs the default logger. When LogFile is set, output also goes
// to a size-rotated file; the returned closer releases it.
func InitLog(c *Config) (io.Closer, error) {
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	var output io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if c.LogFile != "" {
		file := &lumberjack.Logger{
			Filename: c.LogFile,
			MaxSize:  c.LogMaxSizeMB,
			MaxAge:   c.LogMaxAgeDays,
			Compress: true,
		}
		output = io.MultiWriter(os.Stderr, file)
		closer = file
	}

	glogger := log.NewGlogHandler(log.NewTerminalHandlerWithLevel(output, level, c.LogFile == ""))
	glogger.Verbosity(level)
	log.SetDefault(log.NewLogger(glogger))
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
