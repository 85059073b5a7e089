package lead

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lead is the durable outcome of one call.
//
// Invariants:
// - ID never changes once assigned.
// - CallEndedAt and CallDuration are set at most once, and only after CallStartedAt.
// - CallStatus only moves forward: initiated -> in-progress -> completed|failed.
//
// JSON field names match the record log layout on disk.
type Lead struct {
	ID          string `json:"id"`
	PhoneNumber string `json:"phoneNumber"`

	Name       *string `json:"name,omitempty"`
	Email      *string `json:"email,omitempty"`
	Company    *string `json:"company,omitempty"`
	Interested *bool   `json:"interested,omitempty"`
	Budget     *string `json:"budget,omitempty"`
	Timeline   *string `json:"timeline,omitempty"`
	Notes      *string `json:"notes,omitempty"`

	CallStartedAt time.Time  `json:"callStartedAt"`
	CallEndedAt   *time.Time `json:"callEndedAt,omitempty"`
	// CallDuration is in whole seconds.
	CallDuration *int   `json:"callDuration,omitempty"`
	CallStatus   Status `json:"callStatus"`

	Transcript []TranscriptEntry `json:"conversationTranscript,omitempty"`
}

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// rank orders statuses for the forward-only rule. Completed and failed share
// the terminal rank so neither can replace the other.
func (s Status) rank() int {
	switch s {
	case StatusInitiated:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

func (s Status) Valid() bool { return s.rank() >= 0 }

// Terminal reports whether no further status change is possible.
func (s Status) Terminal() bool { return s.rank() == 2 }

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type TranscriptEntry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates a lead for a call that starts at now.
// IDs are UUIDv7 so they sort by creation time and stay unique across concurrent calls.
func New(phoneNumber string, now time.Time) Lead {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Lead{
		ID:            "lead_" + id.String(),
		PhoneNumber:   phoneNumber,
		CallStartedAt: now.UTC(),
		CallStatus:    StatusInitiated,
	}
}

// DurationSeconds is the whole-second span between start and end.
func DurationSeconds(start, end time.Time) int {
	d := int(end.Sub(start) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

var ErrInvalidPatch = errors.New("lead: invalid patch")

// Patch is a partial update. Nil fields are left untouched; transcript entries are appended.
type Patch struct {
	Name       *string `json:"name,omitempty"`
	Email      *string `json:"email,omitempty"`
	Company    *string `json:"company,omitempty"`
	Interested *bool   `json:"interested,omitempty"`
	Budget     *string `json:"budget,omitempty"`
	Timeline   *string `json:"timeline,omitempty"`
	Notes      *string `json:"notes,omitempty"`

	CallEndedAt  *time.Time `json:"callEndedAt,omitempty"`
	CallDuration *int       `json:"callDuration,omitempty"`
	CallStatus   *Status    `json:"callStatus,omitempty"`

	Transcript []TranscriptEntry `json:"conversationTranscript,omitempty"`
}

// StatusPatch is shorthand for a patch that only moves the call status.
func StatusPatch(s Status) Patch { return Patch{CallStatus: &s} }

// Apply merges p into l. The patch is validated as a whole first; on error l is unchanged.
func (l *Lead) Apply(p Patch) error {
	if err := l.check(p); err != nil {
		return err
	}

	setString(&l.Name, p.Name)
	setString(&l.Email, p.Email)
	setString(&l.Company, p.Company)
	setString(&l.Budget, p.Budget)
	setString(&l.Timeline, p.Timeline)
	setString(&l.Notes, p.Notes)
	if p.Interested != nil {
		v := *p.Interested
		l.Interested = &v
	}
	if p.CallEndedAt != nil {
		v := p.CallEndedAt.UTC()
		l.CallEndedAt = &v
	}
	if p.CallDuration != nil {
		v := *p.CallDuration
		l.CallDuration = &v
	}
	if p.CallStatus != nil {
		l.CallStatus = *p.CallStatus
	}
	if len(p.Transcript) > 0 {
		l.Transcript = append(l.Transcript, p.Transcript...)
	}
	return nil
}

func (l *Lead) check(p Patch) error {
	if p.CallStatus != nil {
		next := *p.CallStatus
		if !next.Valid() {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidPatch, next)
		}
		if next != l.CallStatus && next.rank() <= l.CallStatus.rank() {
			return fmt.Errorf("%w: status %q cannot follow %q", ErrInvalidPatch, next, l.CallStatus)
		}
	}

	endedAt := l.CallEndedAt
	if p.CallEndedAt != nil {
		if l.CallEndedAt != nil {
			return fmt.Errorf("%w: callEndedAt already set", ErrInvalidPatch)
		}
		if l.CallStartedAt.IsZero() {
			return fmt.Errorf("%w: callEndedAt without callStartedAt", ErrInvalidPatch)
		}
		if p.CallEndedAt.Before(l.CallStartedAt) {
			return fmt.Errorf("%w: callEndedAt before callStartedAt", ErrInvalidPatch)
		}
		endedAt = p.CallEndedAt
	}

	if p.CallDuration != nil {
		if l.CallDuration != nil {
			return fmt.Errorf("%w: callDuration already set", ErrInvalidPatch)
		}
		if endedAt == nil {
			return fmt.Errorf("%w: callDuration without callEndedAt", ErrInvalidPatch)
		}
		if want := DurationSeconds(l.CallStartedAt, *endedAt); *p.CallDuration != want {
			return fmt.Errorf("%w: callDuration %d, want %d", ErrInvalidPatch, *p.CallDuration, want)
		}
	}

	for _, e := range p.Transcript {
		if e.Role != RoleUser && e.Role != RoleAssistant {
			return fmt.Errorf("%w: unknown transcript role %q", ErrInvalidPatch, e.Role)
		}
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate shared pointers or slices.
func (l Lead) Clone() Lead {
	out := l
	out.Name = cloneString(l.Name)
	out.Email = cloneString(l.Email)
	out.Company = cloneString(l.Company)
	out.Budget = cloneString(l.Budget)
	out.Timeline = cloneString(l.Timeline)
	out.Notes = cloneString(l.Notes)
	if l.Interested != nil {
		v := *l.Interested
		out.Interested = &v
	}
	if l.CallEndedAt != nil {
		v := *l.CallEndedAt
		out.CallEndedAt = &v
	}
	if l.CallDuration != nil {
		v := *l.CallDuration
		out.CallDuration = &v
	}
	if l.Transcript != nil {
		out.Transcript = make([]TranscriptEntry, len(l.Transcript))
		copy(out.Transcript, l.Transcript)
	}
	return out
}

func setString(dst **string, src *string) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
