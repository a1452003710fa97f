package api

import (
	"time"

	"github.com/monad-tools/activeset-monitor/pkg/crossval"
)

// ValidatorStatus is one validator's row on the status surface.
type ValidatorStatus struct {
	Name           string  `json:"name"`
	Key            string  `json:"key"`
	Network        string  `json:"network"`
	LifecycleState string  `json:"lifecycle_state"`
	IsActive       bool    `json:"is_active"`
	Confidence     string  `json:"confidence"`
	RoundDiff      *int64  `json:"round_diff,omitempty"`
	NetworkRound   *int64  `json:"network_round,omitempty"`
	UptimePercent  float64 `json:"uptime_percent"`
	SourcesAgree   bool    `json:"sources_agree"`

	LastCheck time.Time `json:"last_check"`
}

// BreakerStatus reports one endpoint's circuit breaker.
type BreakerStatus struct {
	State        string `json:"state"`
	FailureCount int    `json:"failure_count"`
}

// Status is the full JSON document served at /status.
type Status struct {
	Network         string                   `json:"network"`
	Validators      []ValidatorStatus        `json:"validators"`
	CrossValidation crossval.Summary         `json:"cross_validation"`
	Breakers        map[string]BreakerStatus `json:"breakers"`
	GeneratedAt     time.Time                `json:"generated_at"`
}
