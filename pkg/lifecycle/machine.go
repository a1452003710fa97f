// Package lifecycle tracks a validator's membership lifecycle: NEW (never in
// the active set), ACTIVE (currently producing), INACTIVE (was active, has
// dropped out). Transitions between these states are what the alerting layer
// cares about; raw per-check status is noise.
package lifecycle

import (
	"fmt"
	"sync"
	"time"
)

// State is a validator lifecycle state.
type State string

const (
	StateNew      State = "new"
	StateActive   State = "active"
	StateInactive State = "inactive"
)

// ParseState returns the state for its serialized form.
func ParseState(s string) (State, bool) {
	switch State(s) {
	case StateNew:
		return StateNew, true
	case StateActive:
		return StateActive, true
	case StateInactive:
		return StateInactive, true
	}
	return StateNew, false
}

// Transition records one lifecycle state change.
type Transition struct {
	From          State
	To            State
	ValidatorName string
	Timestamp     time.Time
	Metadata      map[string]interface{}
}

// Significant reports whether the transition is alert-worthy. Every real
// state change is.
func (t *Transition) Significant() bool {
	return t.From != t.To
}

// AlertMessage renders the transition for the alert dispatcher.
func (t *Transition) AlertMessage() string {
	switch {
	case t.From == StateNew && t.To == StateActive:
		return fmt.Sprintf("%s ENTERED ACTIVE SET: validator is now in the active set and producing blocks", t.ValidatorName)
	case t.From == StateActive && t.To == StateInactive:
		msg := fmt.Sprintf("%s LEFT ACTIVE SET: validator is no longer in the active set", t.ValidatorName)
		if diff, ok := t.Metadata["round_diff"]; ok && diff != nil {
			msg += fmt.Sprintf(" (round difference: %v)", diff)
		}
		return msg + "; block production alerts disabled until re-entry"
	case t.From == StateInactive && t.To == StateActive:
		return fmt.Sprintf("%s RE-ENTERED ACTIVE SET: block production alerts re-enabled", t.ValidatorName)
	}
	return fmt.Sprintf("%s: state changed from %s to %s", t.ValidatorName, t.From, t.To)
}

// Machine is the per-validator lifecycle state machine. Successive Update
// calls for one validator must not run concurrently; the internal lock only
// protects readers (status surface, metrics) racing a writer.
type Machine struct {
	mu sync.Mutex

	validatorName  string
	state          State
	stateEnteredAt time.Time
	history        []Transition
}

func NewMachine(validatorName string) *Machine {
	return &Machine{
		validatorName:  validatorName,
		state:          StateNew,
		stateEnteredAt: time.Now(),
	}
}

// Update folds one observation into the machine and returns the resulting
// transition, or nil when the state is unchanged.
func (m *Machine) Update(isActive, isEverActive bool, metadata map[string]interface{}) *Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := StateNew
	switch {
	case isActive:
		target = StateActive
	case isEverActive:
		target = StateInactive
	}
	// NEW is unreachable once left: an inactive observation with no
	// participation history after the machine has moved on still means
	// "previously active".
	if target == StateNew && m.state != StateNew {
		target = StateInactive
	}

	if target == m.state {
		return nil
	}

	transition := Transition{
		From:          m.state,
		To:            target,
		ValidatorName: m.validatorName,
		Timestamp:     time.Now(),
		Metadata:      metadata,
	}
	m.state = target
	m.stateEnteredAt = transition.Timestamp
	m.history = append(m.history, transition)
	return &transition
}

// Seed assigns the state directly from the first observation after a
// restart, without emitting a transition. Only meaningful while the machine
// is still NEW; it is a no-op otherwise. This avoids a spurious "entered
// active set" alert for a validator that was already active before the
// process restarted.
func (m *Machine) Seed(isActive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateNew {
		return
	}
	if isActive {
		m.state = StateActive
	} else {
		m.state = StateInactive
	}
	m.stateEnteredAt = time.Now()
}

func (m *Machine) ValidatorName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validatorName
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StateDuration is how long the machine has been in its current state.
func (m *Machine) StateDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.stateEnteredAt)
}

func (m *Machine) TransitionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// History returns a copy of all recorded transitions.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}
