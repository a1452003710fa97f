package lifecycle

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Snapshot is the persisted form of a machine. Timestamps are unix seconds.
type Snapshot struct {
	ValidatorName   string  `json:"validator_name"`
	CurrentState    string  `json:"current_state"`
	StateEnteredAt  float64 `json:"state_entered_at"`
	TransitionCount int     `json:"transition_count"`
}

// Snapshot captures the machine's persistable state. Transition history is
// not persisted; only the count survives a restart.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		ValidatorName:   m.validatorName,
		CurrentState:    string(m.state),
		StateEnteredAt:  float64(m.stateEnteredAt.UnixNano()) / float64(time.Second),
		TransitionCount: len(m.history),
	}
}

// SnapshotFromJSON decodes a persisted snapshot. It never fails: corrupted
// or missing fields decay to a NEW machine named "unknown", so a damaged
// state file costs at most one spurious lifecycle re-discovery.
func SnapshotFromJSON(data []byte, logger *zap.Logger) Snapshot {
	snapshot := Snapshot{ValidatorName: "unknown", CurrentState: string(StateNew)}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		logger.Sugar().Warnw("corrupted lifecycle snapshot, starting fresh", "error", err)
		return snapshot
	}

	var name string
	if value, ok := raw["validator_name"]; ok && json.Unmarshal(value, &name) == nil && name != "" {
		snapshot.ValidatorName = name
	}
	var state string
	if value, ok := raw["current_state"]; ok && json.Unmarshal(value, &state) == nil {
		if parsed, ok := ParseState(state); ok {
			snapshot.CurrentState = string(parsed)
		} else {
			logger.Sugar().Warnw("unrecognized lifecycle state in snapshot, starting fresh",
				"validator", snapshot.ValidatorName, "state", state)
		}
	}
	var enteredAt float64
	if value, ok := raw["state_entered_at"]; ok && json.Unmarshal(value, &enteredAt) == nil {
		snapshot.StateEnteredAt = enteredAt
	}
	var count int
	if value, ok := raw["transition_count"]; ok && json.Unmarshal(value, &count) == nil {
		snapshot.TransitionCount = count
	}
	return snapshot
}

// FromSnapshot rebuilds a machine from its persisted form. Like
// SnapshotFromJSON it is total: any invalid field falls back to the NEW
// defaults.
func FromSnapshot(snapshot Snapshot) *Machine {
	state, _ := ParseState(snapshot.CurrentState)
	name := snapshot.ValidatorName
	if name == "" {
		name = "unknown"
	}
	enteredAt := time.Now()
	if snapshot.StateEnteredAt > 0 {
		enteredAt = time.Unix(0, int64(snapshot.StateEnteredAt*float64(time.Second)))
	}
	return &Machine{
		validatorName:  name,
		state:          state,
		stateEnteredAt: enteredAt,
	}
}
