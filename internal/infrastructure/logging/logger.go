package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/vigil-core/internal/infrastructure/config"
)

// Logger is the structured logger handed to every Vigil component. It embeds
// *slog.Logger, so Info/Warn/Error/Debug take alternating key-value args.
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of config.yaml. Every entry
// carries service=vigil and the running version so log aggregators can tell
// deployments apart.
func New(cfg config.LoggingConfig, version string) *Logger {
	return build(cfg, version, destination(cfg.Output))
}

// NewWithWriter is New with an explicit output, for capturing log lines in
// tests.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	return build(cfg, version, w)
}

func build(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: levelFrom(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	base := slog.New(handler).With(
		slog.String("service", "vigil"),
		slog.String("version", version),
	)
	return &Logger{Logger: base}
}

// destination maps the configured output name to a writer. Anything other
// than "stderr" goes to stdout, which keeps a misconfigured value visible
// rather than swallowed.
func destination(output string) io.Writer {
	if strings.EqualFold(output, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

// levelFrom maps a config level string to slog. Unknown values fall back to
// info so a typo in config.yaml never silences the log.
func levelFrom(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child logger carrying extra default attributes, typically
// a component tag:
//
//	bridgeLog := log.With("component", "ingest")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the bootstrap logger used before config.yaml has been read:
// JSON to stdout at info level, version "dev".
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
