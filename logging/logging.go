// Package logging builds the zap logger from configuration.
package logging

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/ssh/terminal"
)

// Formats.
const (
	FormatAuto    = "auto"
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config holds configuration for the logger.
type Config struct {
	// Level is the minimum enabled level: debug, info, warn or error.
	Level string `mapstructure:"level" default:"info" validate:"oneof=debug info warn error"`
	// Format is the output encoding. With auto, console output is used when
	// stderr is a terminal and json otherwise.
	Format string `mapstructure:"format" default:"auto" validate:"oneof=auto json console"`
}

// New creates a new zap logger based on the configuration.
func New(cfg Config) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, errors.Wrap(err, "parse level")
	}

	var zc zap.Config
	if level == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	if Encoding(cfg.Format, terminal.IsTerminal(int(os.Stderr.Fd()))) == FormatConsole {
		zc.Encoding = FormatConsole
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.DisableStacktrace = true
	} else {
		zc.Encoding = FormatJSON
	}

	zc.EncoderConfig.LevelKey = "level"
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.MessageKey = "message"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger, nil
}

// Encoding returns the zap encoding for a format.
func Encoding(format string, tty bool) string {
	switch format {
	case FormatJSON, FormatConsole:
		return format
	default:
		if tty {
			return FormatConsole
		}
		return FormatJSON
	}
}
