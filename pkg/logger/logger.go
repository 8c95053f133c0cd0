package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/rs/zerolog"
)

const (
	permission = 0664
)

// Logger is the structured logger used throughout the relay.
// Arguments after the message are alternating key/value pairs, as in log/slog.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// New returns a Logger backed by the given slog handler.
func New(h slog.Handler) Logger {
	return slog.New(h)
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &ZerologLogger{logger: zerolog.Nop()}
}

// With returns a Logger that adds args to every entry, when the underlying
// implementation supports it.
func With(l Logger, args ...any) Logger {
	switch v := l.(type) {
	case *slog.Logger:
		return v.With(args...)
	case *ZerologLogger:
		return &ZerologLogger{logger: v.logger.With().Fields(pairs(args)).Logger()}
	default:
		return l
	}
}

// ZerologLogger adapts a zerolog.Logger to Logger.
type ZerologLogger struct {
	logger zerolog.Logger
}

// Zerolog wraps l.
func Zerolog(l zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: l}
}

func (z *ZerologLogger) Error(msg string, args ...any) {
	z.logger.Error().Fields(pairs(args)).Msg(msg)
}

func (z *ZerologLogger) Warn(msg string, args ...any) {
	z.logger.Warn().Fields(pairs(args)).Msg(msg)
}

func (z *ZerologLogger) Info(msg string, args ...any) {
	z.logger.Info().Fields(pairs(args)).Msg(msg)
}

func (z *ZerologLogger) Debug(msg string, args ...any) {
	z.logger.Debug().Fields(pairs(args)).Msg(msg)
}

// pairs converts slog-style alternating arguments into a zerolog field map.
// A trailing key without a value is recorded under "!BADKEY".
func pairs(args []any) map[string]any {
	fields := make(map[string]any, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fields["!BADKEY"] = args[i]
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if err, isErr := args[i+1].(error); isErr {
			fields[key] = err.Error()
			continue
		}
		fields[key] = args[i+1]
	}
	return fields
}

type LogBuild struct {
	writer  io.Writer
	path    string
	level   zerolog.Level
	console bool
}

type LogData struct {
	writer  io.Writer
	LogFile *os.File
	Logger  zerolog.Logger
}

func NewBuild() *LogBuild {
	return &LogBuild{level: zerolog.InfoLevel}
}

func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromBuffer(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

// Level sets the minimum level; unknown names fall back to info.
func (build *LogBuild) Level(name string) *LogBuild {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	build.level = lvl
	return build
}

// Console switches to zerolog's human readable console writer.
func (build *LogBuild) Console(console bool) *LogBuild {
	build.console = console
	return build
}

func (build *LogBuild) Make() (logData *LogData, err error) {
	logData = new(LogData)
	logData.writer = os.Stderr
	if build.writer != nil {
		logData.writer = build.writer
	}
	if build.path != "" {
		logData.LogFile, err = os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		logData.writer = zerolog.SyncWriter(logData.LogFile)
	}
	if build.console {
		logData.writer = zerolog.ConsoleWriter{Out: logData.writer}
	}
	logData.Logger = zerolog.New(logData.writer).Level(build.level).With().Timestamp().Logger()
	return
}

// Close releases the log file, if one was opened.
func (logData *LogData) Close() error {
	if logData.LogFile == nil {
		return nil
	}
	return logData.LogFile.Close()
}
