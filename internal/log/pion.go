package log

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// LoggerFactory implements logging.LoggerFactory on top of zerolog so that
// our components and pion internals share one sink.
type LoggerFactory struct {
	Logger zerolog.Logger
}

// NewLoggerFactory returns a factory writing through l.
func NewLoggerFactory(l zerolog.Logger) *LoggerFactory {
	return &LoggerFactory{Logger: l}
}

// NewLogger implements logging.LoggerFactory.
func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveled{l: f.Logger.With().Str("component", scope).Logger()}
}

type leveled struct {
	l zerolog.Logger
}

func (z *leveled) Trace(msg string) { z.l.Trace().Msg(msg) }
func (z *leveled) Tracef(format string, args ...interface{}) {
	z.l.Trace().Msg(fmt.Sprintf(format, args...))
}
func (z *leveled) Debug(msg string) { z.l.Debug().Msg(msg) }
func (z *leveled) Debugf(format string, args ...interface{}) {
	z.l.Debug().Msg(fmt.Sprintf(format, args...))
}
func (z *leveled) Info(msg string) { z.l.Info().Msg(msg) }
func (z *leveled) Infof(format string, args ...interface{}) {
	z.l.Info().Msg(fmt.Sprintf(format, args...))
}
func (z *leveled) Warn(msg string) { z.l.Warn().Msg(msg) }
func (z *leveled) Warnf(format string, args ...interface{}) {
	z.l.Warn().Msg(fmt.Sprintf(format, args...))
}
func (z *leveled) Error(msg string) { z.l.Error().Msg(msg) }
func (z *leveled) Errorf(format string, args ...interface{}) {
	z.l.Error().Msg(fmt.Sprintf(format, args...))
}

// Scoped returns a leveled logger for scope, falling back to pion's
// default factory when f is nil.
func Scoped(f logging.LoggerFactory, scope string) logging.LeveledLogger {
	if f == nil {
		f = logging.NewDefaultLoggerFactory()
	}
	return f.NewLogger(scope)
}
