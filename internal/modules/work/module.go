package work

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kingrea/fieldops/internal/api"
	"github.com/kingrea/fieldops/internal/domain"
	"github.com/kingrea/fieldops/internal/history"
	"github.com/kingrea/fieldops/internal/module"
	"github.com/kingrea/fieldops/internal/upsert"
)

const (
	moduleID      = "work"
	moduleVersion = "1.0.0"
)

// ErrAppendOnly is returned by Update; completion entries are never edited.
var ErrAppendOnly = errors.New("work: completion entries are append-only")

// Module books completed area against reckoner lines.
type Module struct {
	*module.Base
	client *api.Client
	log    logrus.FieldLogger
}

// Register installs the work module factory.
func Register(reg *module.Registry) {
	if reg == nil {
		return
	}
	reg.MustRegister(moduleID, func(deps module.Deps) (module.Module, error) {
		return New(deps)
	})
}

// New constructs the work module.
func New(deps module.Deps) (*Module, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("work: api client is required")
	}
	info := module.Info{
		ID:          moduleID,
		Name:        "Work Completion",
		Description: "Record completed area against reckoner lines.",
		Version:     moduleVersion,
		WriteMode:   upsert.ModeAppend,
		InputLabel:  "Area added",
	}
	base := module.NewBase(info)
	return &Module{Base: &base, client: deps.Client, log: deps.Logger(moduleID)}, nil
}

type reckonerRow struct {
	RecID           domain.ID       `json:"rec_id"`
	ItemID          domain.ID       `json:"item_id"`
	CategoryName    string          `json:"category_name"`
	SubcategoryName string          `json:"subcategory_name"`
	Description     string          `json:"work_descriptions"`
	DescID          domain.ID       `json:"desc_id"`
	Unit            string          `json:"unit"`
	Rate            decimal.Decimal `json:"rate"`
	POQuantity      decimal.Decimal `json:"po_quantity"`
	AreaCompleted   decimal.Decimal `json:"area_completed"`
	Value           decimal.Decimal `json:"value"`
	CompletionValue decimal.Decimal `json:"completion_value"`
	SiteID          domain.ID       `json:"site_id"`
}

func (r reckonerRow) item() domain.LeafItem {
	return domain.LeafItem{
		ID:             r.RecID,
		Category:       r.CategoryName,
		Subcategory:    r.SubcategoryName,
		Name:           r.ItemID.String(),
		Description:    r.Description,
		DescriptionID:  r.DescID,
		Unit:           r.Unit,
		Rate:           r.Rate,
		POQuantity:     r.POQuantity,
		Completed:      r.AreaCompleted,
		Value:          r.Value,
		CompletedValue: r.CompletionValue,
	}
}

// WorkDescriptions lists the site's work descriptions.
func (m *Module) WorkDescriptions(ctx context.Context, scope module.Scope) ([]domain.WorkDescription, error) {
	q := url.Values{"site_id": {scope.Site.ID.String()}}
	return api.FetchList[domain.WorkDescription](ctx, m.client, "/site-incharge/work-descriptions", q)
}

// Items lists the reckoner lines of the selected site.
func (m *Module) Items(ctx context.Context, scope module.Scope) ([]domain.LeafItem, error) {
	rows, err := api.FetchList[reckonerRow](ctx, m.client, "/reckoner/reckoner/", nil)
	if err != nil {
		return []domain.LeafItem{}, err
	}
	items := make([]domain.LeafItem, 0, len(rows))
	for _, row := range rows {
		if row.SiteID != scope.Site.ID {
			continue
		}
		items = append(items, row.item())
	}
	m.log.WithFields(logrus.Fields{"site": scope.Site.ID.String(), "rows": len(rows), "kept": len(items)}).Debug("reckoner loaded")
	return items, nil
}

type completionEntry struct {
	ID        domain.ID       `json:"id"`
	AreaAdded decimal.Decimal `json:"area_added"`
	Value     decimal.Decimal `json:"value"`
	Remarks   string          `json:"remarks"`
	CreatedAt string          `json:"created_at"`
}

type completionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		CumulativeArea decimal.NullDecimal `json:"cumulative_area"`
		Entries        []completionEntry   `json:"entries"`
	} `json:"data"`
}

// History loads the completion entries booked against item on date.
func (m *Module) History(ctx context.Context, item domain.LeafItem, date domain.Date) (history.Raw, error) {
	q := url.Values{"rec_id": {item.ID.String()}, "date": {date.String()}}
	var resp completionResponse
	if err := m.client.Get(ctx, "/site-incharge/completion-entries", q, &resp); err != nil {
		return history.Raw{}, err
	}
	if resp.Status != "" && !strings.EqualFold(resp.Status, "success") {
		return history.Raw{}, fmt.Errorf("work: completion entries for %s: %s", item.ID, firstNonEmpty(resp.Message, resp.Status))
	}
	raw := history.Raw{Cumulative: resp.Data.CumulativeArea, Entries: make([]domain.HistoryEntry, 0, len(resp.Data.Entries))}
	for _, e := range resp.Data.Entries {
		entry := domain.HistoryEntry{ID: e.ID, Amount: e.AreaAdded, Value: e.Value, Remarks: e.Remarks}
		if e.CreatedAt != "" {
			at, err := domain.ParseTimestamp(e.CreatedAt)
			if err != nil {
				m.log.WithField("rec_id", item.ID.String()).WithError(err).Warn("skipping entry timestamp")
			}
			entry.CreatedAt = at
		}
		raw.Entries = append(raw.Entries, entry)
	}
	return raw, nil
}

// Exists reports whether any entry has been booked on the loaded date.
func (m *Module) Exists(h domain.History) bool { return len(h.Entries) > 0 }

type completionPayload struct {
	RecID     int64       `json:"rec_id"`
	AreaAdded json.Number `json:"area_added"`
	Rate      json.Number `json:"rate"`
	Value     json.Number `json:"value"`
	CreatedBy int64       `json:"created_by"`
	EntryDate string      `json:"entry_date"`
}

// Create posts a completion entry.
func (m *Module) Create(ctx context.Context, e upsert.Entry) error {
	recID, err := e.Item.ID.Int()
	if err != nil {
		return fmt.Errorf("work: rec_id %q: %w", e.Item.ID, err)
	}
	payload := completionPayload{
		RecID:     recID,
		AreaAdded: json.Number(e.Quantity.String()),
		Rate:      json.Number(e.Item.Rate.String()),
		Value:     json.Number(e.Value.StringFixed(2)),
		CreatedBy: e.UserID,
		EntryDate: e.Date.String(),
	}
	return m.client.Post(ctx, "/site-incharge/completion-status", payload, nil)
}

// Update always fails; see ErrAppendOnly.
func (m *Module) Update(context.Context, domain.History, upsert.Entry) error {
	return ErrAppendOnly
}

// Status reports Completed once the booked value matches the contract value
// to the cent.
func (m *Module) Status(item domain.LeafItem, h domain.History) module.Status {
	switch {
	case item.CompletedValue.IsPositive() && item.CompletedValue.Round(2).Equal(item.Value.Round(2)):
		return module.StatusCompleted
	case item.Completed.IsPositive() || h.Cumulative.IsPositive():
		return module.StatusInProgress
	default:
		return module.StatusPending
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
