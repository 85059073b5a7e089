// Package agent orchestrates one qualification call: it owns the call's state machine,
// its endpoint connection and its lead record.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"voice-lead-agent/internal/lead"
	"voice-lead-agent/internal/realtime"
	"voice-lead-agent/pkg/logger"
)

var ErrNotConnected = errors.New("agent: not connected")

// Endpoint is the conversational endpoint connection driven by an agent.
// *realtime.Client implements it.
type Endpoint interface {
	Connect(ctx context.Context) error
	SendAudio(frame []byte) error
	UpdateInstructions(instructions string) error
	Disconnect() error
}

// EndpointFactory builds an endpoint wired to the agent's handlers.
type EndpointFactory func(h realtime.Handlers) Endpoint

// AudioSink plays endpoint audio back into the call.
type AudioSink interface {
	SendAudio(audio []byte) error
}

// Timer is the part of *time.Timer the agent uses.
type Timer interface {
	Stop() bool
}

type Options struct {
	Store    lead.Store
	Endpoint EndpointFactory
	// Trigger defaults to DefaultTrigger().
	Trigger AdvanceTrigger
	// Sink receives output audio; may be nil.
	Sink AudioSink
	Log  *slog.Logger

	// Clock and AfterFunc default to time.Now and time.AfterFunc.
	Clock     func() time.Time
	AfterFunc func(d time.Duration, f func()) Timer
}

// Agent is the per-call orchestrator. It is not shared between calls.
type Agent struct {
	store       lead.Store
	newEndpoint EndpointFactory
	trigger     AdvanceTrigger
	log         *slog.Logger
	clock       func() time.Time
	afterFunc   func(time.Duration, func()) Timer

	sm *StateMachine

	mu       sync.Mutex
	lead     lead.Lead
	endpoint Endpoint
	ready    bool
	sink     AudioSink
	pending  Timer
	onEnd    []func(*Agent)

	// writeMu keeps durable writes in the same order as in-memory merges.
	writeMu sync.Mutex
	ending  atomic.Bool
}

func New(phoneNumber string, opts Options) *Agent {
	if opts.Trigger == nil {
		opts.Trigger = DefaultTrigger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}

	l := lead.New(phoneNumber, opts.Clock())
	log := logger.Component(opts.Log, "agent").With("lead_id", l.ID)

	a := &Agent{
		store:       opts.Store,
		newEndpoint: opts.Endpoint,
		trigger:     opts.Trigger,
		log:         log,
		clock:       opts.Clock,
		afterFunc:   opts.AfterFunc,
		sm:          NewStateMachine(StateGreeting, log, opts.Clock),
		lead:        l,
		sink:        opts.Sink,
	}
	log.Info("agent created", "phone_number", phoneNumber)
	return a
}

// Initialize persists the initial lead and connects the endpoint. On failure the lead
// is marked failed (best effort) and the agent can no longer be used.
func (a *Agent) Initialize(ctx context.Context) error {
	if a.store == nil || a.newEndpoint == nil {
		return errors.New("agent: store and endpoint factory are required")
	}

	if err := a.store.Append(ctx, a.Lead()); err != nil {
		a.ending.Store(true)
		a.log.Error("failed to save initial lead", "err", err)
		return fmt.Errorf("agent: save initial lead: %w", err)
	}

	ep := a.newEndpoint(realtime.Handlers{
		OnMessage:    a.handleMessage,
		OnAudioDelta: a.handleAudio,
		OnError:      a.handleError,
	})
	if err := ep.Connect(ctx); err != nil {
		a.ending.Store(true)
		a.log.Error("failed to connect endpoint", "err", err)
		if uerr := a.ApplyLeadUpdate(context.WithoutCancel(ctx), lead.StatusPatch(lead.StatusFailed)); uerr != nil {
			a.log.Error("failed to mark lead failed", "err", uerr)
		}
		return fmt.Errorf("agent: connect endpoint: %w", err)
	}

	a.mu.Lock()
	a.endpoint = ep
	a.ready = true
	a.mu.Unlock()

	a.log.Info("agent initialized")
	return nil
}

// SubmitAudioFrame forwards one caller audio frame to the endpoint.
func (a *Agent) SubmitAudioFrame(frame []byte) error {
	a.mu.Lock()
	ep, ok := a.endpoint, a.ready
	a.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	if err := ep.SendAudio(frame); err != nil {
		return fmt.Errorf("agent: send audio: %w", err)
	}
	return nil
}

// ApplyLeadUpdate merges p into the lead and writes the whole merged record.
// A failed write keeps the in-memory merge; the next successful write carries it.
func (a *Agent) ApplyLeadUpdate(ctx context.Context, p lead.Patch) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	if err := a.lead.Apply(p); err != nil {
		a.mu.Unlock()
		a.log.Warn("lead update rejected", "err", err)
		return err
	}
	snapshot := a.lead.Clone()
	a.mu.Unlock()

	if err := a.store.Upsert(ctx, snapshot); err != nil {
		a.log.Error("failed to persist lead", "err", err)
		return fmt.Errorf("agent: persist lead: %w", err)
	}
	a.log.Info("lead updated", "status", snapshot.CallStatus)
	return nil
}

// EndCall finalizes the call: state ENDED, end time and duration recorded, status
// completed, endpoint disconnected. Only the first call does anything; later calls
// return nil without recomputing the duration.
func (a *Agent) EndCall(ctx context.Context) error {
	if !a.ending.CompareAndSwap(false, true) {
		a.log.Debug("end call skipped, already ending")
		return nil
	}

	a.mu.Lock()
	if a.pending != nil {
		a.pending.Stop()
		a.pending = nil
	}
	ep := a.endpoint
	a.ready = false
	started := a.lead.CallStartedAt
	a.mu.Unlock()

	a.sm.Force(StateEnded)

	endedAt := a.clock().UTC()
	duration := lead.DurationSeconds(started, endedAt)
	status := lead.StatusCompleted

	var errs []error
	if err := a.ApplyLeadUpdate(ctx, lead.Patch{
		CallEndedAt:  &endedAt,
		CallDuration: &duration,
		CallStatus:   &status,
	}); err != nil {
		errs = append(errs, err)
	}
	if ep != nil {
		if err := ep.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("agent: disconnect endpoint: %w", err))
		}
	}

	a.mu.Lock()
	hooks := a.onEnd
	a.onEnd = nil
	a.mu.Unlock()
	for _, h := range hooks {
		h(a)
	}

	if err := errors.Join(errs...); err != nil {
		a.log.Error("call ended with errors", "duration_seconds", duration, "err", err)
		return err
	}
	a.log.Info("call ended", "duration_seconds", duration)
	return nil
}

// OnEnd registers fn to run once EndCall has finished.
func (a *Agent) OnEnd(fn func(*Agent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onEnd = append(a.onEnd, fn)
}

// SetAudioSink routes endpoint audio to s.
func (a *Agent) SetAudioSink(s AudioSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = s
}

func (a *Agent) ID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lead.ID
}

// Lead returns a snapshot of the in-memory lead.
func (a *Agent) Lead() lead.Lead {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lead.Clone()
}

func (a *Agent) State() State { return a.sm.Current() }

func (a *Agent) History() []Transition { return a.sm.History() }

func (a *Agent) handleMessage(ev realtime.Event) {
	a.log.Debug("conversation update", "type", ev.Type)
	a.recordTranscript(ev)
	a.scheduleAdvance(ev)
}

func (a *Agent) recordTranscript(ev realtime.Event) {
	var role lead.Role
	switch ev.Type {
	case realtime.TypeInputTranscriptionCompleted:
		role = lead.RoleUser
	case realtime.TypeResponseAudioTranscriptDone:
		role = lead.RoleAssistant
	default:
		return
	}
	if ev.Transcript == "" {
		return
	}

	entry := lead.TranscriptEntry{Role: role, Content: ev.Transcript, Timestamp: a.clock().UTC()}
	if err := a.ApplyLeadUpdate(context.Background(), lead.Patch{Transcript: []lead.TranscriptEntry{entry}}); err != nil {
		a.log.Error("failed to record transcript", "err", err)
	}
}

// scheduleAdvance arms at most one timer per state. The timer fires no sooner than the
// trigger's delay after the current state was entered.
func (a *Agent) scheduleAdvance(ev realtime.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ending.Load() || a.pending != nil {
		return
	}
	from := a.sm.Current()
	if from == StateEnded {
		return
	}
	next, after, ok := a.trigger.Next(from, ev)
	if !ok {
		return
	}

	wait := after - a.clock().Sub(a.sm.EnteredAt())
	if wait < 0 {
		wait = 0
	}
	a.pending = a.afterFunc(wait, func() { a.advance(from, next) })
	a.log.Debug("state advance scheduled", "from", from, "to", next, "in", wait)
}

func (a *Agent) advance(from, next State) {
	a.mu.Lock()
	a.pending = nil
	if a.ending.Load() || a.sm.Current() != from {
		a.mu.Unlock()
		return
	}
	moved := a.sm.Attempt(next)
	ep := a.endpoint
	a.mu.Unlock()

	if !moved || ep == nil {
		return
	}
	if err := ep.UpdateInstructions(realtime.InstructionsForState(string(next))); err != nil {
		a.log.Warn("failed to update instructions", "state", next, "err", err)
	}
}

func (a *Agent) handleAudio(audio []byte) {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	if sink == nil {
		a.log.Debug("dropping output audio, no sink")
		return
	}
	if err := sink.SendAudio(audio); err != nil {
		a.log.Warn("failed to relay output audio", "err", err)
	}
}

func (a *Agent) handleError(err error) {
	a.log.Error("endpoint error", "err", err)
}
