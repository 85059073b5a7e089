package lead

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("lead: not found")
	ErrDuplicate = errors.New("lead: duplicate id")
)

// Store is the persistence contract for leads.
//
// Records are never deleted. Corrections are new writes.
type Store interface {
	// Append records a new lead.
	Append(ctx context.Context, l Lead) error
	// ReadAll returns every lead. A store with no backing data returns an empty slice.
	ReadAll(ctx context.Context) ([]Lead, error)
	FindByID(ctx context.Context, id string) (Lead, error)
	// UpdateByID merges p into the stored lead and returns the merged record.
	UpdateByID(ctx context.Context, id string, p Patch) (Lead, error)
	// Upsert replaces the whole record keyed by l.ID, appending it when absent.
	Upsert(ctx context.Context, l Lead) error
}
