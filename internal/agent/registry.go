package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"voice-lead-agent/pkg/logger"
)

var ErrAtCapacity = errors.New("agent: concurrent call limit reached")

// Limiter caps the number of calls in flight. Holders are lead IDs.
type Limiter interface {
	Acquire(ctx context.Context, holder string) (bool, error)
	Release(ctx context.Context, holder string) error
}

// CallInfo is a read-only view of an active call.
type CallInfo struct {
	LeadID      string    `json:"leadId"`
	PhoneNumber string    `json:"phoneNumber"`
	State       State     `json:"state"`
	StartedAt   time.Time `json:"callStartedAt"`
}

// Registry tracks the agents of calls in progress. Each Start builds a fresh agent from
// the template options; agents remove themselves when their call ends.
type Registry struct {
	template Options
	limiter  Limiter
	log      *slog.Logger

	mu    sync.RWMutex
	calls map[string]*Agent
}

// NewRegistry returns a registry. limiter may be nil for no cap.
func NewRegistry(template Options, limiter Limiter) *Registry {
	return &Registry{
		template: template,
		limiter:  limiter,
		log:      logger.Component(template.Log, "registry"),
		calls:    make(map[string]*Agent),
	}
}

// Start creates and initializes an agent for a new call. The agent is only registered
// once it is initialized.
func (r *Registry) Start(ctx context.Context, phoneNumber string, sink AudioSink) (*Agent, error) {
	opts := r.template
	opts.Sink = sink
	a := New(phoneNumber, opts)
	id := a.ID()

	if r.limiter != nil {
		ok, err := r.limiter.Acquire(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("agent: acquire call slot: %w", err)
		}
		if !ok {
			r.log.Warn("call rejected at capacity", "phone_number", phoneNumber)
			return nil, ErrAtCapacity
		}
	}

	if err := a.Initialize(ctx); err != nil {
		r.release(id)
		return nil, err
	}

	r.mu.Lock()
	r.calls[id] = a
	r.mu.Unlock()

	a.OnEnd(func(*Agent) {
		r.mu.Lock()
		delete(r.calls, id)
		r.mu.Unlock()
		r.release(id)
	})
	r.log.Info("call registered", "lead_id", id)
	return a, nil
}

func (r *Registry) Get(id string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.calls[id]
	return a, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// Active lists calls in progress, oldest first.
func (r *Registry) Active() []CallInfo {
	r.mu.RLock()
	agents := make([]*Agent, 0, len(r.calls))
	for _, a := range r.calls {
		agents = append(agents, a)
	}
	r.mu.RUnlock()

	out := make([]CallInfo, 0, len(agents))
	for _, a := range agents {
		l := a.Lead()
		out = append(out, CallInfo{
			LeadID:      l.ID,
			PhoneNumber: l.PhoneNumber,
			State:       a.State(),
			StartedAt:   l.CallStartedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Shutdown ends every active call.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	agents := make([]*Agent, 0, len(r.calls))
	for _, a := range r.calls {
		agents = append(agents, a)
	}
	r.mu.RUnlock()

	var errs []error
	for _, a := range agents {
		if err := a.EndCall(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) release(id string) {
	if r.limiter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.limiter.Release(ctx, id); err != nil {
		r.log.Error("failed to release call slot", "lead_id", id, "err", err)
	}
}
