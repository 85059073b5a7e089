package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"voice-lead-agent/internal/lead"
)

type sliceSource []lead.Lead

func (s sliceSource) ReadAll(context.Context) ([]lead.Lead, error) { return s, nil }

type failingSource struct{}

func (failingSource) ReadAll(context.Context) ([]lead.Lead, error) {
	return nil, errors.New("read failed")
}

func finished(start time.Time, seconds int, interested *bool, name string) lead.Lead {
	l := lead.New("+1", start)
	end := start.Add(time.Duration(seconds) * time.Second)
	status := lead.StatusCompleted
	p := lead.Patch{CallEndedAt: &end, CallDuration: &seconds, CallStatus: &status, Interested: interested}
	if name != "" {
		p.Name = &name
	}
	if err := l.Apply(p); err != nil {
		panic(err)
	}
	return l
}

func TestLeadsSummary_Aggregates(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	yes, no := true, false

	failed := lead.New("+2", now)
	_ = failed.Apply(lead.StatusPatch(lead.StatusFailed))

	svc := NewService(sliceSource{
		finished(now, 30, &yes, "Ada"),
		finished(now, 90, &no, ""),
		finished(now, 60, nil, ""),
		failed,
		lead.New("+3", now),
	})

	out, err := svc.LeadsSummary(context.Background(), LeadsSummaryRequest{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalLeads != 5 || out.CompletedCalls != 3 || out.FailedCalls != 1 || out.InitiatedCalls != 1 {
		t.Fatalf("unexpected counts: %+v", out)
	}
	if out.Interested != 1 || out.NotInterested != 1 || out.WithContact != 1 {
		t.Fatalf("unexpected outcome counts: %+v", out)
	}
	if out.TotalDurationSeconds != 180 || out.AverageDurationSeconds != 60 {
		t.Fatalf("unexpected durations: total=%d avg=%d", out.TotalDurationSeconds, out.AverageDurationSeconds)
	}
	if out.InterestRate < 0.333 || out.InterestRate > 0.334 {
		t.Fatalf("expected interest rate 1/3, got %f", out.InterestRate)
	}
}

func TestLeadsSummary_FiltersByRange(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	svc := NewService(sliceSource{
		lead.New("+1", now.Add(-2*time.Hour)),
		lead.New("+2", now),
		lead.New("+3", now.Add(time.Hour)),
	})

	out, err := svc.LeadsSummary(context.Background(), LeadsSummaryRequest{Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalLeads != 1 {
		t.Fatalf("expected 1 lead in range, got %d", out.TotalLeads)
	}
}

func TestLeadsSummary_InvalidRange(t *testing.T) {
	now := time.Now()
	svc := NewService(sliceSource{})
	_, err := svc.LeadsSummary(context.Background(), LeadsSummaryRequest{Range: TimeRange{From: now, To: now}})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestLeadsSummary_SourceError(t *testing.T) {
	svc := NewService(failingSource{})
	if _, err := svc.LeadsSummary(context.Background(), LeadsSummaryRequest{}); err == nil {
		t.Fatalf("expected error")
	}
}
