package lifecycle

// AlertType classifies the conditions the monitor can alert on. The
// lifecycle state decides which of them actually page: infrastructure
// failures always do, block-production noise only while the validator is in
// the active set.
type AlertType string

const (
	AlertNodeDown         AlertType = "node_down"
	AlertConnectionFailed AlertType = "connection_failed"
	AlertRPCError         AlertType = "rpc_error"

	AlertLocalTimeout     AlertType = "local_timeout"
	AlertTSValidationFail AlertType = "ts_validation_fail"
	AlertExecutionLagging AlertType = "execution_lagging"
)

var alwaysAlert = map[AlertType]bool{
	AlertNodeDown:         true,
	AlertConnectionFailed: true,
	AlertRPCError:         true,
}

// ShouldAlertOn reports whether an alert of the given type should fire given
// the current lifecycle state. Everything outside the always-alert set,
// including unclassified types, is treated as production-related and
// suppressed outside the active set.
func (m *Machine) ShouldAlertOn(alertType AlertType) bool {
	if alwaysAlert[alertType] {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateActive
}
