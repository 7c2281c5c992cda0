// Package escalation tracks each subject's crisis state over the stream of
// assessments.
package escalation

import (
	"time"

	"crisis-engine/internal/models"
)

// State is a subject's escalation state.
type State string

const (
	StateNormal             State = "normal"
	StateMonitoring         State = "monitoring"
	StateElevated           State = "elevated"
	StateHighRisk           State = "high_risk"
	StateCriticalEscalation State = "critical_escalation"
	StateResolved           State = "resolved"
)

var stateRank = map[State]int{
	StateNormal:             0,
	StateResolved:           0,
	StateMonitoring:         1,
	StateElevated:           2,
	StateHighRisk:           3,
	StateCriticalEscalation: 4,
}

// Rank orders states by severity. Resolved ranks with normal.
func (s State) Rank() int {
	return stateRank[s]
}

// IsHighRisk reports whether s is high_risk or critical_escalation.
func (s State) IsHighRisk() bool {
	return s.Rank() >= StateHighRisk.Rank()
}

// StateFor maps a risk level onto the state it supports.
func StateFor(level models.RiskLevel) State {
	switch level {
	case models.RiskImminent:
		return StateCriticalEscalation
	case models.RiskCritical:
		return StateHighRisk
	case models.RiskHigh:
		return StateElevated
	case models.RiskModerate:
		return StateMonitoring
	default:
		return StateNormal
	}
}

// Reason explains a transition.
type Reason string

const (
	ReasonConfident       Reason = "confident_assessment"
	ReasonPersisted       Reason = "persisted_level"
	ReasonEmergencyBypass Reason = "emergency_bypass"
	ReasonDeEscalated     Reason = "de_escalated"
	ReasonManualResolve   Reason = "manual_resolve"
)

// Transition is one change of state.
type Transition struct {
	SubjectID    string    `json:"subjectId"`
	From         State     `json:"from"`
	To           State     `json:"to"`
	Reason       Reason    `json:"reason"`
	AssessmentID string    `json:"assessmentId,omitempty"`
	At           time.Time `json:"at"`
}

// Snapshot is a read-only view of a machine.
type Snapshot struct {
	SubjectID   string       `json:"subjectId"`
	State       State        `json:"state"`
	Since       time.Time    `json:"since"`
	Transitions []Transition `json:"transitions"`
}

const maxTransitions = 50

// Machine is the escalation state of one subject. It is not safe for
// concurrent use; callers serialise access per subject.
type Machine struct {
	subjectID        string
	confidenceBypass float64
	state            State
	since            time.Time
	previous         *models.CrisisRiskAssessment
	transitions      []Transition
}

// NewMachine starts a subject in the normal state.
func NewMachine(subjectID string, confidenceBypass float64) *Machine {
	return &Machine{
		subjectID:        subjectID,
		confidenceBypass: confidenceBypass,
		state:            StateNormal,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Observe feeds the next assessment to the machine and returns the
// transition it caused, if any.
//
// Moving up needs the assessment to be confident, or the previous
// assessment to have been at the same level or higher. An imminent
// assessment moves straight to critical_escalation. Moving down needs the
// two most recent assessments to both sit below the current state.
func (m *Machine) Observe(a *models.CrisisRiskAssessment) (*Transition, bool) {
	prev := m.previous
	m.previous = a

	target := StateFor(a.RiskLevel)
	switch {
	case target.Rank() > m.state.Rank():
		if a.RiskLevel == models.RiskImminent {
			return m.move(target, ReasonEmergencyBypass, a), true
		}
		if a.Confidence >= m.confidenceBypass {
			return m.move(target, ReasonConfident, a), true
		}
		if prev == nil {
			return nil, false
		}
		persisted := StateFor(lower(prev.RiskLevel, a.RiskLevel))
		if persisted.Rank() > m.state.Rank() {
			return m.move(persisted, ReasonPersisted, a), true
		}
		return nil, false

	case target.Rank() < m.state.Rank():
		if prev == nil {
			return nil, false
		}
		prevTarget := StateFor(prev.RiskLevel)
		if prevTarget.Rank() >= m.state.Rank() {
			return nil, false
		}
		next := target
		if prevTarget.Rank() > next.Rank() {
			next = prevTarget
		}
		if next == StateNormal && m.state.Rank() >= StateElevated.Rank() {
			next = StateResolved
		}
		return m.move(next, ReasonDeEscalated, a), true
	}
	return nil, false
}

// Resolve closes the current episode by hand. Subjects already at normal
// or resolved are left alone.
func (m *Machine) Resolve(at time.Time) (*Transition, bool) {
	if m.state.Rank() == 0 {
		return nil, false
	}
	t := m.record(StateResolved, ReasonManualResolve, "", at)
	return t, true
}

// Snapshot returns a copy of the machine's state and recent transitions.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		SubjectID:   m.subjectID,
		State:       m.state,
		Since:       m.since,
		Transitions: append([]Transition(nil), m.transitions...),
	}
}

func (m *Machine) move(to State, reason Reason, a *models.CrisisRiskAssessment) *Transition {
	return m.record(to, reason, a.ID, a.Timestamp)
}

func (m *Machine) record(to State, reason Reason, assessmentID string, at time.Time) *Transition {
	t := Transition{
		SubjectID:    m.subjectID,
		From:         m.state,
		To:           to,
		Reason:       reason,
		AssessmentID: assessmentID,
		At:           at,
	}
	m.state = to
	m.since = at
	m.transitions = append(m.transitions, t)
	if len(m.transitions) > maxTransitions {
		m.transitions = m.transitions[len(m.transitions)-maxTransitions:]
	}
	return &t
}

func lower(a, b models.RiskLevel) models.RiskLevel {
	if a.Rank() < b.Rank() {
		return a
	}
	return b
}
