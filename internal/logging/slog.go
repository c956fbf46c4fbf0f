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

// SlogManager manages slog-based logging with optional OTel integration.
type SlogManager struct {
	logger *slog.Logger

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupOptions configures the logging outputs.
type SetupOptions struct {
	Level string

	// File receives a text copy of every record. Optional.
	File io.Writer

	// Gelf receives a text copy of every record for Graylog ingestion.
	// Optional; typically a *gelf.Writer.
	Gelf io.Writer

	// OtelProvider enables the otelslog bridge when set.
	OtelProvider *sdklog.LoggerProvider

	// Context supplies dynamic attributes (run id, tick) added to every
	// record. Optional.
	Context ContextProvider
}

// Setup initializes the logging system with console, file, GELF, and
// optional OTel outputs.
func (m *SlogManager) Setup(opts SetupOptions) {
	lvl := parseLevel(opts.Level)
	m.logProvider = opts.OtelProvider

	// Common handler options with RFC3339 time formatting
	handlerOpts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	// Build list of handlers
	var handlers []slog.Handler

	// Console handler
	handlers = append(handlers, slog.NewTextHandler(os.Stdout, handlerOpts))

	// File handler
	if opts.File != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.File, handlerOpts))
	}

	// GELF handler
	if opts.Gelf != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.Gelf, handlerOpts))
	}

	// OTel handler (if provider is available)
	if opts.OtelProvider != nil {
		otelHandler := otelslog.NewHandler("trafficsimd", otelslog.WithLoggerProvider(opts.OtelProvider))
		handlers = append(handlers, otelHandler)
	}

	// Combine all handlers
	var handler slog.Handler = NewMultiHandler(handlers...)

	// Inject dynamic run context into every record
	if opts.Context != nil {
		handler = NewContextHandler(handler, opts.Context)
	}

	m.logger = slog.New(handler)
	m.logger.Info("Logging initialized", "level", opts.Level)
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		// Return a default logger if Setup hasn't been called
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}
