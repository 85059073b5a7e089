// Package reporting aggregates stored leads for operators.
package reporting

import (
	"context"
	"errors"

	"voice-lead-agent/internal/lead"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Source is where leads are read from. lead.Store implements it.
type Source interface {
	ReadAll(ctx context.Context) ([]lead.Lead, error)
}

type Service struct {
	src Source
}

func NewService(src Source) *Service { return &Service{src: src} }

func (s *Service) LeadsSummary(ctx context.Context, req LeadsSummaryRequest) (LeadsSummary, error) {
	if !req.Range.valid() {
		return LeadsSummary{}, ErrInvalidRequest
	}
	if s.src == nil {
		return LeadsSummary{}, errors.New("reporting: lead source not configured")
	}

	leads, err := s.src.ReadAll(ctx)
	if err != nil {
		return LeadsSummary{}, err
	}

	out := LeadsSummary{Range: req.Range}
	durations := 0
	for _, l := range leads {
		if !req.Range.contains(l.CallStartedAt) {
			continue
		}
		out.TotalLeads++

		switch l.CallStatus {
		case lead.StatusInitiated:
			out.InitiatedCalls++
		case lead.StatusInProgress:
			out.InProgressCalls++
		case lead.StatusCompleted:
			out.CompletedCalls++
		case lead.StatusFailed:
			out.FailedCalls++
		}

		if l.Interested != nil {
			if *l.Interested {
				out.Interested++
			} else {
				out.NotInterested++
			}
		}
		if nonEmpty(l.Name) || nonEmpty(l.Email) {
			out.WithContact++
		}
		if l.CallDuration != nil {
			out.TotalDurationSeconds += *l.CallDuration
			durations++
		}
	}

	if durations > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / durations
	}
	if out.CompletedCalls > 0 {
		out.InterestRate = float64(out.Interested) / float64(out.CompletedCalls)
	}
	return out, nil
}

func nonEmpty(s *string) bool { return s != nil && *s != "" }
