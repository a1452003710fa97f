package config

import (
	"time"

	"github.com/monad-tools/activeset-monitor/pkg/api"
	"github.com/monad-tools/activeset-monitor/pkg/registry"
	"github.com/monad-tools/activeset-monitor/pkg/resilient"
	"github.com/monad-tools/activeset-monitor/pkg/uptime"
)

type NetworkConfig struct {
	Name string `yaml:"name"`
}

// ValidatorConfig identifies one validator to watch. Key is the secp256k1
// public key in any accepted hex form.
type ValidatorConfig struct {
	Name    string `yaml:"name"`
	Key     string `yaml:"key"`
	Network string `yaml:"network"`
}

type MonitorConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	StateDir      string        `yaml:"state_dir"`
	PostgresDSN   string        `yaml:"postgres_dsn"`
}

type AlertConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

type MetricsConfig struct {
	Prefix string `yaml:"prefix"`
}

type Config struct {
	Network    *NetworkConfig    `yaml:"network"`
	Validators []ValidatorConfig `yaml:"validators"`
	Monitor    *MonitorConfig    `yaml:"monitor"`
	Uptime     *uptime.Config    `yaml:"uptime"`
	Registry   *registry.Config  `yaml:"registry"`
	Resilience *resilient.Config `yaml:"resilience"`
	Alerts     *AlertConfig      `yaml:"alerts"`
	Api        *api.Config       `yaml:"api"`
	Metrics    *MetricsConfig    `yaml:"metrics"`
}
