package reporting

import "time"

// TimeRange bounds reports by call start time, half-open [From, To).
// A zero bound is open.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) valid() bool {
	return r.From.IsZero() || r.To.IsZero() || r.To.After(r.From)
}

func (r TimeRange) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

type LeadsSummaryRequest struct {
	Range TimeRange `json:"range"`
}

// LeadsSummary aggregates lead outcomes.
type LeadsSummary struct {
	Range TimeRange `json:"range"`

	TotalLeads      int `json:"totalLeads"`
	InitiatedCalls  int `json:"initiatedCalls"`
	InProgressCalls int `json:"inProgressCalls"`
	CompletedCalls  int `json:"completedCalls"`
	FailedCalls     int `json:"failedCalls"`

	Interested    int `json:"interested"`
	NotInterested int `json:"notInterested"`
	// WithContact counts leads that gave a name or an email.
	WithContact int `json:"withContact"`

	TotalDurationSeconds   int `json:"totalDurationSeconds"`
	AverageDurationSeconds int `json:"averageDurationSeconds"`

	// InterestRate is interested leads over completed calls.
	InterestRate float64 `json:"interestRate"`
}
