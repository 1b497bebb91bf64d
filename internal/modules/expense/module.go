package expense

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kingrea/fieldops/internal/api"
	"github.com/kingrea/fieldops/internal/domain"
	"github.com/kingrea/fieldops/internal/history"
	"github.com/kingrea/fieldops/internal/module"
	"github.com/kingrea/fieldops/internal/upsert"
)

const (
	moduleID      = "expense"
	moduleVersion = "1.0.0"
)

// Overheads handled by the material and labour domains.
var hiddenOverheads = map[domain.ID]bool{"1": true, "2": true}

// completedTolerance is how close actual must be to the split budget to
// count as spent.
var completedTolerance = decimal.RequireFromString("0.01")

// ErrAppendOnly is returned by Update; expense entries are never edited.
var ErrAppendOnly = errors.New("expense: entries are append-only")

// Module books actual expenses against budget allocations.
type Module struct {
	*module.Base
	client *api.Client
	log    logrus.FieldLogger
}

// Register installs the expense module factory.
func Register(reg *module.Registry) {
	if reg == nil {
		return
	}
	reg.MustRegister(moduleID, func(deps module.Deps) (module.Module, error) {
		return New(deps)
	})
}

// New constructs the expense module.
func New(deps module.Deps) (*Module, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("expense: api client is required")
	}
	info := module.Info{
		ID:          moduleID,
		Name:        "Expense Entry",
		Description: "Book actual expenses against split site budgets.",
		Version:     moduleVersion,
		WriteMode:   upsert.ModeAppend,
		InputLabel:  "Actual value",
	}
	base := module.NewBase(info)
	return &Module{Base: &base, client: deps.Client, log: deps.Logger(moduleID)}, nil
}

// Open asks the backend to recompute labour budgets. Failures are logged
// and never block the domain.
func (m *Module) Open(ctx context.Context) error {
	if err := m.client.Get(ctx, "/site-incharge/calculate-labour-budget", nil, nil); err != nil {
		m.log.WithError(err).Warn("labour budget calculation failed")
		return err
	}
	m.log.Info("labour budget calculation triggered")
	return nil
}

type budgetRow struct {
	ID             domain.ID       `json:"id"`
	OverheadID     domain.ID       `json:"overhead_id"`
	OverheadType   string          `json:"overhead_type"`
	ExpenseName    string          `json:"expense_name"`
	WorkDescID     domain.ID       `json:"work_desc_id"`
	WorkDescName   string          `json:"work_desc_name"`
	SplittedBudget decimal.Decimal `json:"splitted_budget"`
	ActualValue    decimal.Decimal `json:"actual_value"`
}

func (r budgetRow) item() domain.LeafItem {
	category := r.OverheadType
	if category == "" {
		category = "Expenses"
	}
	return domain.LeafItem{
		ID:             r.ID,
		Category:       category,
		Name:           r.ExpenseName,
		Description:    r.WorkDescName,
		DescriptionID:  r.WorkDescID,
		Rate:           decimal.NewFromInt(1),
		Budget:         r.SplittedBudget,
		Value:          r.SplittedBudget,
		Completed:      r.ActualValue,
		CompletedValue: r.ActualValue,
	}
}

// WorkDescriptions lists the site's budgeted work descriptions.
func (m *Module) WorkDescriptions(ctx context.Context, scope module.Scope) ([]domain.WorkDescription, error) {
	path := "/site-incharge/budget-work-descriptions/" + url.PathEscape(scope.Site.ID.String())
	return api.FetchList[domain.WorkDescription](ctx, m.client, path, nil)
}

// Items lists the site's budget allocations.
func (m *Module) Items(ctx context.Context, scope module.Scope) ([]domain.LeafItem, error) {
	q := url.Values{"site_id": {scope.Site.ID.String()}}
	rows, err := api.FetchList[budgetRow](ctx, m.client, "/site-incharge/budget-details", q)
	if err != nil {
		return []domain.LeafItem{}, err
	}
	items := make([]domain.LeafItem, 0, len(rows))
	for _, row := range rows {
		if hiddenOverheads[row.OverheadID] {
			continue
		}
		items = append(items, row.item())
	}
	return items, nil
}

type expenseEntry struct {
	ID          domain.ID       `json:"id"`
	ActualValue decimal.Decimal `json:"actual_value"`
	Remarks     string          `json:"remarks"`
	CreatedAt   string          `json:"created_at"`
}

type expenseDetails struct {
	Cumulative struct {
		ActualValue decimal.NullDecimal `json:"actual_value"`
	} `json:"cumulative"`
	Entries []expenseEntry `json:"entries"`
}

// History loads the expenses booked against item on date.
func (m *Module) History(ctx context.Context, item domain.LeafItem, date domain.Date) (history.Raw, error) {
	q := url.Values{"actual_budget_id": {item.ID.String()}, "date": {date.String()}}
	details, err := api.FetchObject[expenseDetails](ctx, m.client, "/site-incharge/budget-expense-details", q)
	if err != nil {
		return history.Raw{}, err
	}
	raw := history.Raw{
		Cumulative: details.Cumulative.ActualValue,
		Entries:    make([]domain.HistoryEntry, 0, len(details.Entries)),
	}
	for _, e := range details.Entries {
		entry := domain.HistoryEntry{ID: e.ID, Amount: e.ActualValue, Value: e.ActualValue, Remarks: e.Remarks}
		if e.CreatedAt != "" {
			at, err := domain.ParseTimestamp(e.CreatedAt)
			if err != nil {
				m.log.WithField("budget", item.ID.String()).WithError(err).Warn("skipping entry timestamp")
			}
			entry.CreatedAt = at
		}
		raw.Entries = append(raw.Entries, entry)
	}
	return raw, nil
}

// Fallback shows the allocation's last known actual value as one entry
// dated mid-morning on date.
func (m *Module) Fallback(item domain.LeafItem, date domain.Date) domain.History {
	at := time.Time{}
	if d, err := time.ParseInLocation(domain.DateLayout, date.String(), time.Local); err == nil {
		at = d.Add(10*time.Hour + 6*time.Minute)
	}
	return domain.History{
		Cumulative: item.CompletedValue,
		Entries: []domain.HistoryEntry{{
			ID:        item.ID,
			Amount:    item.CompletedValue,
			Value:     item.CompletedValue,
			Remarks:   "No remarks",
			CreatedAt: at,
		}},
	}
}

// Exists reports whether any expense has been booked on the loaded date.
func (m *Module) Exists(h domain.History) bool { return len(h.Entries) > 0 && !h.Fallback }

type expensePayload struct {
	BudgetID    int64       `json:"actual_budget_id"`
	EntryDate   string      `json:"entry_date"`
	ActualValue json.Number `json:"actual_value"`
	Remarks     string      `json:"remarks"`
	CreatedBy   int64       `json:"created_by"`
}

// Create posts an expense entry.
func (m *Module) Create(ctx context.Context, e upsert.Entry) error {
	id, err := e.Item.ID.Int()
	if err != nil {
		return fmt.Errorf("expense: budget id %q: %w", e.Item.ID, err)
	}
	return m.client.Post(ctx, "/site-incharge/save-budget-expense", expensePayload{
		BudgetID:    id,
		EntryDate:   e.Date.String(),
		ActualValue: json.Number(e.Quantity.String()),
		Remarks:     e.Remarks,
		CreatedBy:   e.UserID,
	}, nil)
}

// Update always fails; see ErrAppendOnly.
func (m *Module) Update(context.Context, domain.History, upsert.Entry) error {
	return ErrAppendOnly
}

// Status compares the actual spend with the split budget.
func (m *Module) Status(item domain.LeafItem, h domain.History) module.Status {
	actual := item.CompletedValue
	if h.Fallback || len(h.Entries) > 0 || !h.Cumulative.IsZero() {
		actual = h.Cumulative
	}
	return BudgetStatus(actual, item.Budget)
}

// BudgetStatus classifies actual spend against split.
func BudgetStatus(actual, split decimal.Decimal) module.Status {
	switch {
	case actual.GreaterThan(split):
		return module.StatusExceeded
	case actual.Sub(split).Abs().LessThan(completedTolerance):
		return module.StatusCompleted
	default:
		return module.StatusInProgress
	}
}
