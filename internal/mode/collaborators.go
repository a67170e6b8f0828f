package mode

import "log/slog"

// Severity classifies a notification for the host's display layer.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notifier is the host's notification surface. Fire and forget; the engine
// never consumes a result.
type Notifier interface {
	Notify(message string, severity Severity)
}

// Telemetry records mode-related friction for the host's metrics pipeline.
type Telemetry interface {
	RecordBlocked(category string)
}

// Settings is a read-only lookup the coordinator queries at construction to
// select optional behaviors.
type Settings interface {
	GetBool(key string, def bool) bool
}

// Settings keys consulted by the coordinator.
const (
	// SettingStrictAssertions makes contract violations panic instead of
	// being logged and tolerated.
	SettingStrictAssertions = "strict_assertions"
	// SettingMergeTasks enables kind-based merging of queued work items.
	SettingMergeTasks = "merge_tasks"
)

// LogNotifier routes notifications to a slog.Logger. The default when a host
// has no UI surface.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(message string, severity Severity) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch severity {
	case SeverityError:
		logger.Error(message)
	case SeverityWarning:
		logger.Warn(message)
	default:
		logger.Info(message)
	}
}

// NopTelemetry discards all measurements.
type NopTelemetry struct{}

func (NopTelemetry) RecordBlocked(string) {}

// MapSettings is a Settings backed by a plain map, used in tests and for
// hosts without a registry.
type MapSettings map[string]bool

func (m MapSettings) GetBool(key string, def bool) bool {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}
