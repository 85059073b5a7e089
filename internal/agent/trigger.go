package agent

import (
	"time"

	"voice-lead-agent/internal/realtime"
)

// AdvanceTrigger decides when a call moves to its next state.
//
// Next is consulted on every conversation update. When ok is true the agent schedules
// an attempt to move to next once after has elapsed since the current state was entered.
type AdvanceTrigger interface {
	Next(current State, ev realtime.Event) (next State, after time.Duration, ok bool)
}

// FixedDelayTrigger advances on a fixed schedule regardless of what was said.
type FixedDelayTrigger struct {
	Greeting      time.Duration
	Qualifying    time.Duration
	GatheringInfo time.Duration
}

// DefaultTrigger advances 5s after greeting, 10s after qualifying and 15s after gathering info.
func DefaultTrigger() FixedDelayTrigger {
	return FixedDelayTrigger{
		Greeting:      5 * time.Second,
		Qualifying:    10 * time.Second,
		GatheringInfo: 15 * time.Second,
	}
}

func (t FixedDelayTrigger) Next(current State, _ realtime.Event) (State, time.Duration, bool) {
	switch current {
	case StateGreeting:
		return StateQualifying, t.Greeting, true
	case StateQualifying:
		return StateGatheringInfo, t.Qualifying, true
	case StateGatheringInfo:
		return StateClosing, t.GatheringInfo, true
	default:
		return "", 0, false
	}
}
