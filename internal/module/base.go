package module

import (
	"context"

	"github.com/kingrea/fieldops/internal/domain"
)

// Base provides common plumbing for field domains (identity and the
// no-history defaults).
type Base struct {
	info Info
}

// NewBase seeds the helper with module info.
func NewBase(info Info) Base {
	return Base{info: info}
}

// Info implements Module.Info.
func (b *Base) Info() Info {
	return b.info
}

// WorkDescriptions returns none; domains without a description level
// override it.
func (b *Base) WorkDescriptions(context.Context, Scope) ([]domain.WorkDescription, error) {
	return []domain.WorkDescription{}, nil
}

// Fallback is the history shown when an item's fetch fails: nothing.
func (b *Base) Fallback(domain.LeafItem, domain.Date) domain.History {
	return domain.History{Entries: []domain.HistoryEntry{}}
}
