// Package monitor wires the telemetry clients, cross-validation, lifecycle
// machines, persistence, alerting and the HTTP surface into the periodic
// check loop.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/monad-tools/activeset-monitor/pkg/alert"
	"github.com/monad-tools/activeset-monitor/pkg/api"
	"github.com/monad-tools/activeset-monitor/pkg/config"
	"github.com/monad-tools/activeset-monitor/pkg/crossval"
	"github.com/monad-tools/activeset-monitor/pkg/keys"
	"github.com/monad-tools/activeset-monitor/pkg/lifecycle"
	"github.com/monad-tools/activeset-monitor/pkg/metrics"
	"github.com/monad-tools/activeset-monitor/pkg/registry"
	"github.com/monad-tools/activeset-monitor/pkg/resilient"
	"github.com/monad-tools/activeset-monitor/pkg/store"
	"github.com/monad-tools/activeset-monitor/pkg/types"
	"github.com/monad-tools/activeset-monitor/pkg/uptime"
)

const (
	defaultCheckInterval = time.Minute
	defaultStateDir      = "./state"
)

// validatorEntry is the monitor's working state for one watched validator.
type validatorEntry struct {
	name    string
	key     string
	network types.Network

	machine *lifecycle.Machine
	seeded  bool

	lastRecord       *uptime.StatusRecord
	lastResult       crossval.Result
	lastCheck        time.Time
	lastTimeoutCount *int64
	sourcesDown      bool
}

type Monitor struct {
	logger *zap.Logger

	networkName   string
	checkInterval time.Duration

	uptimeClient   *uptime.Client
	registryClient *registry.Client
	crossValidator *crossval.Validator
	storer         store.Storer
	dispatcher     alert.Dispatcher
	exporter       *metrics.Exporter
	apiServer      *api.Server

	mu         sync.Mutex
	validators []*validatorEntry
}

func New(cfg *config.Config, zapLogger *zap.Logger) (*Monitor, error) {
	logger := zapLogger.Sugar()

	apiCaller := resilient.NewCaller(cfg.Resilience, zapLogger)

	registryClient := registry.NewClient(cfg.Registry, zapLogger)
	var hinter uptime.ActiveHinter
	if registryClient.Enabled() {
		hinter = registryClient
	}
	uptimeClient := uptime.NewClient(cfg.Uptime, apiCaller, hinter, zapLogger)

	storer, err := newStorer(cfg.Monitor, zapLogger)
	if err != nil {
		return nil, err
	}

	dispatcher := newDispatcher(cfg.Alerts, zapLogger)

	metricsPrefix := ""
	if cfg.Metrics != nil {
		metricsPrefix = cfg.Metrics.Prefix
	}
	exporter := metrics.NewExporter(metricsPrefix)

	networkName := "testnet"
	if cfg.Network != nil && cfg.Network.Name != "" {
		networkName = cfg.Network.Name
	}

	checkInterval := defaultCheckInterval
	if cfg.Monitor != nil && cfg.Monitor.CheckInterval != 0 {
		checkInterval = cfg.Monitor.CheckInterval
	}

	monitor := &Monitor{
		logger:         zapLogger,
		networkName:    networkName,
		checkInterval:  checkInterval,
		uptimeClient:   uptimeClient,
		registryClient: registryClient,
		crossValidator: crossval.New(zapLogger),
		storer:         storer,
		dispatcher:     dispatcher,
		exporter:       exporter,
	}

	for _, validatorConfig := range cfg.Validators {
		key := validatorConfig.Key
		if normalized, err := keys.Normalize(key); err == nil {
			key = normalized
		} else {
			logger.Warnw("could not normalize validator key, using raw value",
				"validator", validatorConfig.Name, "error", err)
		}

		network := types.ParseNetwork(validatorConfig.Network)
		if validatorConfig.Network == "" {
			network = types.ParseNetwork(networkName)
		}

		monitor.validators = append(monitor.validators, &validatorEntry{
			name:    validatorConfig.Name,
			key:     key,
			network: network,
			machine: lifecycle.NewMachine(validatorConfig.Name),
		})
	}
	if len(monitor.validators) == 0 {
		logger.Warn("no validators configured, please check configuration")
	}

	if cfg.Api != nil {
		monitor.apiServer = api.New(cfg.Api, monitor, exporter, zapLogger)
	}
	return monitor, nil
}

func newStorer(cfg *config.MonitorConfig, zapLogger *zap.Logger) (store.Storer, error) {
	if cfg != nil && cfg.PostgresDSN != "" {
		return store.NewPostgresStore(cfg.PostgresDSN, zapLogger)
	}
	stateDir := defaultStateDir
	if cfg != nil && cfg.StateDir != "" {
		stateDir = cfg.StateDir
	}
	return store.NewFileStore(stateDir, zapLogger)
}

func newDispatcher(cfg *config.AlertConfig, zapLogger *zap.Logger) alert.Dispatcher {
	dispatchers := alert.MultiDispatcher{alert.NewLogDispatcher(zapLogger)}
	if cfg != nil && cfg.WebhookURL != "" {
		timeout := cfg.Timeout
		dispatchers = append(dispatchers, alert.NewWebhookDispatcher(cfg.WebhookURL, timeout, zapLogger))
	}
	return dispatchers
}

// Run drives the check loop until the context is cancelled, then persists
// all lifecycle snapshots and shuts the API server down.
func (m *Monitor) Run(ctx context.Context) {
	logger := m.logger.Sugar()
	logger.Infof("starting active-set monitor for %s network with %d validators",
		m.networkName, len(m.validators))

	m.restoreSnapshots(ctx)

	if m.apiServer != nil {
		go func() {
			if err := m.apiServer.Run(); err != nil {
				logger.Warnf("error running API server: %v", err)
			}
		}()
	}

	m.checkAll(ctx)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *Monitor) shutdown() {
	logger := m.logger.Sugar()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m.persistAll(shutdownCtx)
	if m.apiServer != nil {
		if err := m.apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("error shutting down API server: %v", err)
		}
	}
	if err := m.storer.Close(); err != nil {
		logger.Warnf("error closing snapshot store: %v", err)
	}
}

// restoreSnapshots adopts persisted lifecycle machines whose validator name
// matches a configured validator. Snapshots that decayed to "unknown" during
// decoding match nothing and are discarded.
func (m *Monitor) restoreSnapshots(ctx context.Context) {
	logger := m.logger.Sugar()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.validators {
		snapshot, found, err := m.storer.GetSnapshot(ctx, entry.name)
		if err != nil {
			logger.Warnw("could not load lifecycle snapshot", "validator", entry.name, "error", err)
			continue
		}
		if !found || snapshot.ValidatorName != entry.name {
			continue
		}
		entry.machine = lifecycle.FromSnapshot(snapshot)
		if entry.machine.State() != lifecycle.StateNew {
			entry.seeded = true
		}
		logger.Infow("restored lifecycle state",
			"validator", entry.name, "state", entry.machine.State())
	}
}

func (m *Monitor) persistAll(ctx context.Context) {
	logger := m.logger.Sugar()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.validators {
		if err := m.storer.PutSnapshot(ctx, entry.machine.Snapshot()); err != nil {
			logger.Warnw("could not persist lifecycle snapshot", "validator", entry.name, "error", err)
		}
	}
}

func (m *Monitor) checkAll(ctx context.Context) {
	started := time.Now()

	m.mu.Lock()
	entries := make([]*validatorEntry, len(m.validators))
	copy(entries, m.validators)
	m.mu.Unlock()

	networks := make(map[types.Network]bool)
	for _, entry := range entries {
		m.checkValidator(ctx, entry)
		networks[entry.network] = true
	}
	for network := range networks {
		state, failures := m.uptimeClient.BreakerState(network)
		m.exporter.SetBreaker(network, state, failures)
	}
	m.exporter.ObserveCheck(time.Since(started))
}

// checkValidator runs one full pipeline pass for one validator: fetch both
// sources, reconcile, fold into the lifecycle machine, and fan out alerts,
// metrics and persistence.
func (m *Monitor) checkValidator(ctx context.Context, entry *validatorEntry) {
	record := m.uptimeClient.GetStatus(ctx, entry.key, entry.network)

	var sourceA *bool
	if record != nil && record.Confidence != types.ConfidenceUnknown {
		active := record.IsActive
		sourceA = &active
	}

	var sourceB *bool
	if registryActive, known := m.registryClient.IsValidatorActive(ctx, entry.key, entry.network); known {
		sourceB = &registryActive
	}

	result := m.crossValidator.Reconcile(entry.key, sourceA, sourceB)
	isActive := result.RecommendedStatus
	everActive := inferEverActive(entry.machine, record)

	m.handleSourceAvailability(ctx, entry, sourceA == nil && sourceB == nil)

	metadata := map[string]interface{}{"confidence": string(result.Confidence)}
	if record != nil && record.RoundDiff != nil {
		metadata["round_diff"] = *record.RoundDiff
	}

	// The first check with a usable verdict seeds the machine directly, so a
	// validator that was already active before the process started does not
	// raise a spurious "entered active set" alert. Seeding requires
	// participation history: a validator with no recorded events that shows
	// up active is genuinely entering the set and must announce it.
	if !entry.seeded && (sourceA != nil || sourceB != nil) {
		if everActive {
			entry.machine.Seed(isActive)
			m.putSnapshot(ctx, entry)
		}
		entry.seeded = true
	}

	if transition := entry.machine.Update(isActive, everActive, metadata); transition != nil {
		m.dispatchTransition(ctx, entry, transition)
		m.exporter.RecordTransition(entry.network, transition)
		m.putSnapshot(ctx, entry)
	}

	m.handleTimeouts(ctx, entry, record)

	m.mu.Lock()
	entry.lastRecord = record
	entry.lastResult = result
	entry.lastCheck = time.Now()
	m.mu.Unlock()

	m.exporter.SetStatus(entry.network, entry.name, record, entry.machine.State())
}

// inferEverActive recovers participation history the telemetry source may
// have lost: a machine that has left NEW was active at some point.
func inferEverActive(machine *lifecycle.Machine, record *uptime.StatusRecord) bool {
	if record != nil && record.IsEverActive {
		return true
	}
	return machine.State() != lifecycle.StateNew
}

func (m *Monitor) dispatchTransition(ctx context.Context, entry *validatorEntry, transition *lifecycle.Transition) {
	severity := alert.SeverityInfo
	if transition.To == lifecycle.StateInactive {
		severity = alert.SeverityCritical
	}
	m.dispatch(ctx, alert.Alert{
		Severity:  severity,
		Type:      "lifecycle_transition",
		Validator: entry.name,
		Network:   entry.network.String(),
		Message:   transition.AlertMessage(),
		Timestamp: time.Now(),
	})
}

// handleTimeouts alerts on growth of the cumulative consensus timeout
// counter, gated by the lifecycle alert policy.
func (m *Monitor) handleTimeouts(ctx context.Context, entry *validatorEntry, record *uptime.StatusRecord) {
	if record == nil {
		return
	}
	previous := entry.lastTimeoutCount
	current := record.TimeoutCount
	entry.lastTimeoutCount = &current

	if previous == nil || current <= *previous {
		return
	}
	if !entry.machine.ShouldAlertOn(lifecycle.AlertLocalTimeout) {
		m.logger.Sugar().Debugw("suppressing timeout alert outside active set",
			"validator", entry.name, "new_timeouts", current-*previous)
		return
	}
	m.dispatch(ctx, alert.Alert{
		Severity:  alert.SeverityCritical,
		Type:      string(lifecycle.AlertLocalTimeout),
		Validator: entry.name,
		Network:   entry.network.String(),
		Message:   entry.name + ": new consensus timeout events observed",
		Timestamp: time.Now(),
	})
}

// handleSourceAvailability alerts once when both telemetry sources stop
// yielding verdicts, and once more when they recover.
func (m *Monitor) handleSourceAvailability(ctx context.Context, entry *validatorEntry, down bool) {
	if down == entry.sourcesDown {
		return
	}
	entry.sourcesDown = down

	if down {
		m.dispatch(ctx, alert.Alert{
			Severity:  alert.SeverityCritical,
			Type:      string(lifecycle.AlertConnectionFailed),
			Validator: entry.name,
			Network:   entry.network.String(),
			Message:   entry.name + ": all telemetry sources unavailable, status is stale",
			Timestamp: time.Now(),
		})
		return
	}
	m.dispatch(ctx, alert.Alert{
		Severity:  alert.SeverityInfo,
		Type:      string(lifecycle.AlertConnectionFailed),
		Validator: entry.name,
		Network:   entry.network.String(),
		Message:   entry.name + ": telemetry sources recovered",
		Timestamp: time.Now(),
	})
}

func (m *Monitor) dispatch(ctx context.Context, a alert.Alert) {
	m.dispatcher.Dispatch(ctx, a)
	m.exporter.RecordAlert(a.Type)
}

func (m *Monitor) putSnapshot(ctx context.Context, entry *validatorEntry) {
	if err := m.storer.PutSnapshot(ctx, entry.machine.Snapshot()); err != nil {
		m.logger.Sugar().Warnw("could not persist lifecycle snapshot",
			"validator", entry.name, "error", err)
	}
}

// Status builds the document served at /status.
func (m *Monitor) Status(ctx context.Context) *api.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := &api.Status{
		Network:     m.networkName,
		Breakers:    make(map[string]api.BreakerStatus),
		GeneratedAt: time.Now(),
	}

	var results []crossval.Result
	for _, entry := range m.validators {
		validatorStatus := api.ValidatorStatus{
			Name:           entry.name,
			Key:            entry.key,
			Network:        entry.network.String(),
			LifecycleState: string(entry.machine.State()),
			IsActive:       entry.lastResult.RecommendedStatus,
			Confidence:     string(entry.lastResult.Confidence),
			SourcesAgree:   entry.lastResult.SourcesAgree,
			LastCheck:      entry.lastCheck,
		}
		if entry.lastRecord != nil {
			validatorStatus.RoundDiff = entry.lastRecord.RoundDiff
			validatorStatus.NetworkRound = entry.lastRecord.NetworkRound
			validatorStatus.UptimePercent = entry.lastRecord.UptimePercent
		}
		status.Validators = append(status.Validators, validatorStatus)
		if !entry.lastCheck.IsZero() {
			results = append(results, entry.lastResult)
		}

		if _, ok := status.Breakers[entry.network.String()]; !ok {
			state, failures := m.uptimeClient.BreakerState(entry.network)
			status.Breakers[entry.network.String()] = api.BreakerStatus{
				State:        string(state),
				FailureCount: failures,
			}
		}
	}
	status.CrossValidation = crossval.Summarize(results)
	return status
}
