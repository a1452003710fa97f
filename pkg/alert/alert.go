// Package alert carries monitoring events to operators. The log dispatcher
// is always on; the webhook dispatcher forwards alerts as JSON to an
// operator-supplied endpoint.
package alert

import (
	"context"
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	Severity  Severity  `json:"severity"`
	Type      string    `json:"type"`
	Validator string    `json:"validator,omitempty"`
	Network   string    `json:"network,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher delivers alerts. Implementations must not block the monitoring
// loop on slow sinks; failures are logged, never returned to the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert Alert)
}
