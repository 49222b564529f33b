// Package observability provides structured logging and Prometheus
// metrics for the assistant runtime.
package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format specifies output format: "json" or "text".
	// JSON is recommended for production; text for development.
	Format string

	// Output is the writer for log output (defaults to os.Stdout)
	Output io.Writer

	// AddSource includes file and line number in log records
	AddSource bool
}

// DefaultRedactPatterns covers secrets that must never reach log output.
var DefaultRedactPatterns = []string{
	// Anthropic API keys
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	// OpenAI API keys
	`sk-[a-zA-Z0-9]{48,}`,
	// Generic assignments of keys/tokens/passwords
	`(?i)(api[_-]?key|token|secret|password)[\s:=]+["']?([^\s"']{8,})["']?`,
}

var redactRegexps = compileRedactPatterns()

func compileRedactPatterns() []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(DefaultRedactPatterns))
	for _, p := range DefaultRedactPatterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// NewLogger creates a structured slog logger with secret redaction.
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	level := slog.LevelInfo
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindString {
				a.Value = slog.StringValue(redact(a.Value.String()))
			}
			return a
		},
	}

	var handler slog.Handler
	if strings.EqualFold(config.Format, "text") {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}
	return slog.New(handler)
}

func redact(s string) string {
	for _, re := range redactRegexps {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
