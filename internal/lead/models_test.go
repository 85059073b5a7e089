package lead

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNew_StartsInitiated(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	l := New("+15551234567", now)

	if l.CallStatus != StatusInitiated {
		t.Fatalf("expected initiated, got %q", l.CallStatus)
	}
	if !strings.HasPrefix(l.ID, "lead_") {
		t.Fatalf("unexpected id %q", l.ID)
	}
	if !l.CallStartedAt.Equal(now) {
		t.Fatalf("expected start %v, got %v", now, l.CallStartedAt)
	}
	if l.CallEndedAt != nil || l.CallDuration != nil {
		t.Fatalf("expected no end fields")
	}
}

func TestNew_UniqueIDs(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New("+1", now).ID
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestApply_StatusMovesForwardOnly(t *testing.T) {
	l := New("+1", time.Now())

	if err := l.Apply(StatusPatch(StatusInProgress)); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := l.Apply(StatusPatch(StatusInitiated)); !errors.Is(err, ErrInvalidPatch) {
		t.Fatalf("expected ErrInvalidPatch, got %v", err)
	}
	if err := l.Apply(StatusPatch(StatusInProgress)); err != nil {
		t.Fatalf("same status should be a no-op, got %v", err)
	}
	if err := l.Apply(StatusPatch(StatusCompleted)); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := l.Apply(StatusPatch(StatusFailed)); !errors.Is(err, ErrInvalidPatch) {
		t.Fatalf("expected terminal status to stick, got %v", err)
	}
	if l.CallStatus != StatusCompleted {
		t.Fatalf("expected completed, got %q", l.CallStatus)
	}
}

func TestApply_EndFieldsSetOnce(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	l := New("+1", start)

	end := start.Add(30 * time.Second)
	d := 30
	if err := l.Apply(Patch{CallEndedAt: &end, CallDuration: &d}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if *l.CallDuration != 30 {
		t.Fatalf("expected duration 30, got %d", *l.CallDuration)
	}

	later := end.Add(time.Minute)
	if err := l.Apply(Patch{CallEndedAt: &later}); !errors.Is(err, ErrInvalidPatch) {
		t.Fatalf("expected second callEndedAt to fail, got %v", err)
	}
	if !l.CallEndedAt.Equal(end) {
		t.Fatalf("callEndedAt changed")
	}
}

func TestApply_RejectsInconsistentDuration(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	l := New("+1", start)

	end := start.Add(10 * time.Second)
	d := 99
	if err := l.Apply(Patch{CallEndedAt: &end, CallDuration: &d}); !errors.Is(err, ErrInvalidPatch) {
		t.Fatalf("expected ErrInvalidPatch, got %v", err)
	}
	if l.CallEndedAt != nil {
		t.Fatalf("failed patch must leave lead untouched")
	}

	before := start.Add(-time.Second)
	if err := l.Apply(Patch{CallEndedAt: &before}); !errors.Is(err, ErrInvalidPatch) {
		t.Fatalf("expected end before start to fail, got %v", err)
	}
}

func TestApply_MergesFieldsAndAppendsTranscript(t *testing.T) {
	l := New("+1", time.Now())
	name := "Ada"
	yes := true
	at := time.Now().UTC()

	err := l.Apply(Patch{
		Name:       &name,
		Interested: &yes,
		Transcript: []TranscriptEntry{{Role: RoleUser, Content: "hello", Timestamp: at}},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	err = l.Apply(Patch{Transcript: []TranscriptEntry{{Role: RoleAssistant, Content: "hi there", Timestamp: at}}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if l.Name == nil || *l.Name != "Ada" {
		t.Fatalf("expected name merged")
	}
	if l.Interested == nil || !*l.Interested {
		t.Fatalf("expected interested merged")
	}
	if len(l.Transcript) != 2 || l.Transcript[1].Role != RoleAssistant {
		t.Fatalf("unexpected transcript: %+v", l.Transcript)
	}

	name = "changed"
	if *l.Name != "Ada" {
		t.Fatalf("lead must not alias patch pointers")
	}
}

func TestClone_IsDeep(t *testing.T) {
	l := New("+1", time.Now())
	n := "Ada"
	l.Name = &n
	l.Transcript = []TranscriptEntry{{Role: RoleUser, Content: "a"}}

	c := l.Clone()
	*c.Name = "Bob"
	c.Transcript[0].Content = "b"

	if *l.Name != "Ada" || l.Transcript[0].Content != "a" {
		t.Fatalf("clone shares state with original")
	}
}
