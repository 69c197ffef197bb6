package logx

import (
	"io"
	"os"
	"strings"

	"github.com/agentic-pharmacy/server/internal/core"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var DefaultLoggerOpts = &LoggerOpts{
	Environment: core.Development,
}

type LoggerOpts struct {
	Environment core.Environment
	// Level overrides the environment default (debug outside production, info in production).
	Level  string
	Output io.Writer
}

func safe(opts ...LoggerOpts) *LoggerOpts {
	if len(opts) == 0 {
		return DefaultLoggerOpts
	}
	return &opts[0]
}

// Init configures the global zerolog logger for the given environment.
func Init(opts ...LoggerOpts) {
	o := safe(opts...)
	out := o.Output
	if out == nil {
		out = os.Stderr
	}

	level := zerolog.DebugLevel
	if o.Environment.IsProduction() {
		log.Logger = zerolog.New(out).With().Timestamp().Str("service", "pharmacy-agent").Logger()
		level = zerolog.InfoLevel
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Caller().Logger()
	}
	if o.Level != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(o.Level)); err == nil {
			level = parsed
		}
	}
	log.Logger = log.Logger.Level(level)
}

func Debug() *zerolog.Event {
	return log.Debug()
}

func Info() *zerolog.Event {
	return log.Info()
}

func Warn() *zerolog.Event {
	return log.Warn()
}

func Error() *zerolog.Event {
	return log.Error()
}

func Panic() *zerolog.Event {
	return log.Panic()
}

func Fatal() *zerolog.Event {
	return log.Fatal()
}
