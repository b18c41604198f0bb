package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/offlinefirst/visionfix/pkg/config"
)

// Options describe how to configure a logger instance.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// FromConfig maps the logging section of the configuration onto Options.
func FromConfig(cfg config.LoggingConfig, out io.Writer) Options {
	return Options{Level: cfg.Level, Format: cfg.Format, Output: out}
}

// Logger wraps an slog.Logger whose level can be changed after creation,
// so configuration reloads take effect without rebuilding handlers.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New creates a structured logger backed by Go's slog package.
func New(opts Options) (*Logger, error) {
	lvl, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(lvl)
	handlerOpts := slog.HandlerOptions{
		Level:       levelVar,
		ReplaceAttr: replaceTimeAttr,
	}

	format, err := config.NormalizeFormat(opts.Format)
	if err != nil {
		return nil, err
	}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(out, &handlerOpts)
	default:
		handler = slog.NewTextHandler(out, &handlerOpts)
	}

	return &Logger{Logger: slog.New(handler), level: levelVar}, nil
}

// SetLevel changes the minimum level of the logger and every logger derived from it.
func (l *Logger) SetLevel(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	l.level.Set(lvl)
	return nil
}

// Component returns a child logger tagged with the subsystem name.
func (l *Logger) Component(name string) *slog.Logger {
	return l.With(slog.String("component", strings.TrimSpace(name)))
}

func parseLevel(level string) (slog.Level, error) {
	normalized, err := config.NormalizeLogLevel(level)
	if err != nil {
		return 0, err
	}

	switch normalized {
	case "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unhandled log level %q", normalized)
	}
}

func replaceTimeAttr(_ []string, attr slog.Attr) slog.Attr {
	if attr.Key == slog.TimeKey && attr.Value.Kind() == slog.KindTime {
		attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339))
	}
	return attr
}
