package module

import (
	"context"
	"fmt"

	"github.com/kingrea/fieldops/internal/domain"
	"github.com/kingrea/fieldops/internal/history"
	"github.com/kingrea/fieldops/internal/upsert"
)

// Info describes a field domain's identity and how it writes.
type Info struct {
	ID          string
	Name        string
	Description string
	Version     string
	WriteMode   upsert.Mode
	// InputLabel names the number a user types against an item.
	InputLabel string
	// UnscopedItems is set when items do not belong to a work description;
	// selecting one then leaves the item list whole.
	UnscopedItems bool
}

// Validate ensures the info block is well-formed.
func (i Info) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("module: id is required")
	}
	if i.Name == "" {
		return fmt.Errorf("module: name is required for %s", i.ID)
	}
	if i.Version == "" {
		return fmt.Errorf("module: version is required for %s", i.ID)
	}
	switch i.WriteMode {
	case upsert.ModeAppend, upsert.ModeUpsert:
	default:
		return fmt.Errorf("module: write mode %q is invalid for %s", i.WriteMode, i.ID)
	}
	return nil
}

// Scope is the part of the selection chain a site-level fetch depends on.
type Scope struct {
	Company domain.Company
	Project domain.Project
	Site    domain.Site
}

// Status is the display state of one leaf item.
type Status string

const (
	StatusPending      Status = "Pending"
	StatusInProgress   Status = "In Progress"
	StatusCompleted    Status = "Completed"
	StatusExceeded     Status = "Exceeded"
	StatusAcknowledged Status = "Acknowledged"
)

// Module is implemented by every field domain. The selection chain, history
// aggregation and submission flow are shared; a module only supplies its
// endpoints and leaf schema.
type Module interface {
	Info() Info
	WorkDescriptions(ctx context.Context, scope Scope) ([]domain.WorkDescription, error)
	Items(ctx context.Context, scope Scope) ([]domain.LeafItem, error)
}

// Tracker is implemented by domains that keep per-item history and accept
// per-item submissions.
type Tracker interface {
	History(ctx context.Context, item domain.LeafItem, date domain.Date) (history.Raw, error)
	Fallback(item domain.LeafItem, date domain.Date) domain.History
	upsert.Writer
}

// Opener is implemented by domains that must poke the backend once when the
// user enters them.
type Opener interface {
	Open(ctx context.Context) error
}

// StatusReporter derives an item's display status.
type StatusReporter interface {
	Status(item domain.LeafItem, h domain.History) Status
}

// Assignment books a set of labourers against a work description for a
// date range.
type Assignment struct {
	ProjectID domain.ID   `validate:"required"`
	SiteID    domain.ID   `validate:"required"`
	DescID    domain.ID   `validate:"required"`
	LabourIDs []domain.ID `validate:"min=1,dive,required"`
	From      domain.Date
	To        domain.Date
	UserID    int64 `validate:"gt=0"`
}

// Assigner is implemented by domains whose write is a batch assignment
// rather than a per-item entry.
type Assigner interface {
	Assign(ctx context.Context, a Assignment) error
}

// Usage records consumption of a dispatched item on a date.
type Usage struct {
	Item     domain.LeafItem
	Quantity string
	Remarks  string
	Date     domain.Date
	UserID   int64
}

// UsageRecorder is implemented by domains that track consumption separately
// from receipt.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, u Usage) error
}
