// Package errors - telemetry integration (optional)
package errors

import (
	"regexp"
	"sync"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

var (
	reporterMu              sync.RWMutex
	globalTelemetryReporter TelemetryReporter
)

// SetTelemetryReporter sets the global telemetry reporter. Passing nil disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	globalTelemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

// GetTelemetryReporter returns the current telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	reporterMu.RLock()
	defer reporterMu.RUnlock()
	return globalTelemetryReporter
}

func reportToTelemetry(ee *EnhancedError) {
	reporter := GetTelemetryReporter()
	if reporter == nil || !reporter.IsEnabled() || ee.IsReported() {
		return
	}
	reporter.ReportError(ee)
	ee.MarkReported()
}

var (
	urlQueryRegex = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	urlAuthRegex  = regexp.MustCompile(`([a-z][a-z0-9+.-]*://)[^@/\s]+@`)
	secretRegexes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)api[_-]?key[=:]\S+`),
		regexp.MustCompile(`(?i)token[=:]\S+`),
		regexp.MustCompile(`(?i)password[=:]\S+`),
	}
	userIDRegex = regexp.MustCompile(`(?i)user[_-]?id[=:]\S+`)
	coordRegex  = regexp.MustCompile(`-?\d{1,3}\.\d{3,},\s*-?\d{1,3}\.\d{3,}`)
)

// ScrubMessage removes credentials, user identifiers and coordinates from a message
// before it leaves the process.
func ScrubMessage(message string) string {
	scrubbed := urlAuthRegex.ReplaceAllString(message, "$1[REDACTED]@")
	scrubbed = urlQueryRegex.ReplaceAllString(scrubbed, "$1?[REDACTED]")
	for _, re := range secretRegexes {
		scrubbed = re.ReplaceAllString(scrubbed, "[SECRET_REDACTED]")
	}
	scrubbed = userIDRegex.ReplaceAllString(scrubbed, "[ID_REDACTED]")
	return coordRegex.ReplaceAllString(scrubbed, "[LOCATION_REDACTED]")
}
