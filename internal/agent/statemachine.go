package agent

import (
	"log/slog"
	"sync"
	"time"
)

// State is a step of the qualification conversation.
type State string

const (
	StateGreeting      State = "greeting"
	StateQualifying    State = "qualifying"
	StateGatheringInfo State = "gathering_info"
	StateClosing       State = "closing"
	StateEnded         State = "ended"
)

var transitions = map[State][]State{
	StateGreeting:      {StateQualifying, StateEnded},
	StateQualifying:    {StateGatheringInfo, StateClosing, StateEnded},
	StateGatheringInfo: {StateClosing, StateEnded},
	StateClosing:       {StateEnded},
	StateEnded:         {},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"timestamp"`
}

// StateMachine tracks one call's conversation state. It does no I/O besides logging.
type StateMachine struct {
	log   *slog.Logger
	clock func() time.Time

	mu        sync.Mutex
	current   State
	enteredAt time.Time
	history   []Transition
}

func NewStateMachine(initial State, log *slog.Logger, clock func() time.Time) *StateMachine {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	log.Debug("state machine initialized", "initial_state", initial)
	return &StateMachine{log: log, clock: clock, current: initial, enteredAt: clock()}
}

func (m *StateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// EnteredAt is when the current state was entered.
func (m *StateMachine) EnteredAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enteredAt
}

// Attempt commits the transition to target when the table allows it. A rejected
// transition is an expected outcome: state is unchanged and false is returned.
func (m *StateMachine) Attempt(target State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !CanTransition(m.current, target) {
		m.log.Warn("invalid state transition attempted", "from", m.current, "to", target)
		return false
	}
	m.commit(target)
	return true
}

// Force moves to target without consulting the table. Used only to end a call.
func (m *StateMachine) Force(target State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commit(target)
}

func (m *StateMachine) commit(target State) {
	from := m.current
	now := m.clock()
	m.current = target
	m.enteredAt = now
	m.history = append(m.history, Transition{From: from, To: target, At: now})
	m.log.Info("state transition", "from", from, "to", target)
}

// History returns a copy of every transition taken so far.
func (m *StateMachine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}
