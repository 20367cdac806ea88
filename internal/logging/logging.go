// Package logging configures the process-wide slog logger: a text handler on
// the console, an optional file handler and an optional OpenTelemetry bridge,
// all fed by one MultiHandler.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Options select the handlers Setup installs.
type Options struct {
	Level    string
	Console  io.Writer // defaults to os.Stdout
	File     io.Writer // optional
	Provider *sdklog.LoggerProvider
	Name     string // instrumentation scope for the OTel bridge
}

// Manager owns the configured logger.
type Manager struct {
	logger   *slog.Logger
	level    slog.LevelVar
	provider *sdklog.LoggerProvider
}

func NewManager() *Manager {
	return &Manager{}
}

// ParseLevel maps DEBUG, INFO, WARN or ERROR (any case) to a level.
// Anything else is INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func handlerOptions(level slog.Leveler) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}
}

// Setup builds the logger and installs it as slog's default.
func (m *Manager) Setup(opts Options) *slog.Logger {
	m.level.Set(ParseLevel(opts.Level))
	m.provider = opts.Provider

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	hopts := handlerOptions(&m.level)

	handlers := []slog.Handler{slog.NewTextHandler(console, hopts)}
	if opts.File != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.File, hopts))
	}
	if opts.Provider != nil {
		name := opts.Name
		if name == "" {
			name = "dashsim"
		}
		handlers = append(handlers, otelslog.NewHandler(name, otelslog.WithLoggerProvider(opts.Provider)))
	}

	m.logger = slog.New(NewMultiHandler(handlers...))
	slog.SetDefault(m.logger)
	m.logger.Debug("logging initialized", "level", m.level.Level().String())
	return m.logger
}

// SetLevel changes the console and file level at runtime.
func (m *Manager) SetLevel(level string) {
	m.level.Set(ParseLevel(level))
}

// Logger returns the configured logger, or slog's default before Setup.
func (m *Manager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush pushes buffered OTel records out.
func (m *Manager) Flush(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.ForceFlush(ctx)
}
