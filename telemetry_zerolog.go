package sdk

import (
	"context"

	"github.com/rs/zerolog"
)

// ZerologTelemetry returns hooks that write SDK log entries to logger.
// Metrics are not forwarded; chain a metrics adapter for OnMetric.
func ZerologTelemetry(logger zerolog.Logger) TelemetryHooks {
	l := logger.With().Str("component", "mixlab-sdk").Logger()
	return TelemetryHooks{
		OnLogEntry: func(_ context.Context, entry LogEntry) {
			evt := l.WithLevel(zerologLevel(entry.Level))
			if len(entry.Fields) > 0 {
				evt = evt.Fields(entry.Fields)
			}
			evt.Msg(entry.Message)
		},
	}
}

func zerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
