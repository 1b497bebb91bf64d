package material

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kingrea/fieldops/internal/api"
	"github.com/kingrea/fieldops/internal/domain"
	"github.com/kingrea/fieldops/internal/history"
	"github.com/kingrea/fieldops/internal/module"
	"github.com/kingrea/fieldops/internal/upsert"
)

const (
	moduleID      = "material"
	moduleVersion = "1.0.0"
	ackPath       = "/site-incharge/acknowledge-material"
)

// Module acknowledges receipt of dispatched material.
type Module struct {
	*module.Base
	client   *api.Client
	log      logrus.FieldLogger
	validate *validator.Validate
}

// Register installs the material module factory.
func Register(reg *module.Registry) {
	if reg == nil {
		return
	}
	reg.MustRegister(moduleID, func(deps module.Deps) (module.Module, error) {
		return New(deps)
	})
}

// New constructs the material module.
func New(deps module.Deps) (*Module, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("material: api client is required")
	}
	info := module.Info{
		ID:          moduleID,
		Name:        "Material Dispatch",
		Description: "Acknowledge dispatched material and record usage.",
		Version:     moduleVersion,
		WriteMode:   upsert.ModeUpsert,
		InputLabel:  "Received quantity",
	}
	base := module.NewBase(info)
	return &Module{
		Base:     &base,
		client:   deps.Client,
		log:      deps.Logger(moduleID),
		validate: validator.New(),
	}, nil
}

type dispatchRow struct {
	ID           domain.ID       `json:"id"`
	ItemID       domain.ID       `json:"item_id"`
	ItemName     string          `json:"item_name"`
	CategoryName string          `json:"category_name"`
	DescID       domain.ID       `json:"desc_id"`
	DescName     string          `json:"desc_name"`
	DispatchQty  decimal.Decimal `json:"dispatch_qty"`
	Unit         string          `json:"uom_name"`
	Rate         decimal.Decimal `json:"rate"`
}

func (r dispatchRow) item() domain.LeafItem {
	category := r.CategoryName
	if category == "" {
		category = "Dispatched"
	}
	return domain.LeafItem{
		ID:            r.ID,
		Category:      category,
		Name:          r.ItemName,
		Description:   r.DescName,
		DescriptionID: r.DescID,
		Unit:          r.Unit,
		Rate:          r.Rate,
		POQuantity:    r.DispatchQty,
	}
}

// WorkDescriptions lists the site's material work descriptions.
func (m *Module) WorkDescriptions(ctx context.Context, scope module.Scope) ([]domain.WorkDescription, error) {
	q := url.Values{"site_id": {scope.Site.ID.String()}}
	return api.FetchList[domain.WorkDescription](ctx, m.client, "/material/work-descriptions", q)
}

// Items lists the dispatches for the selected project and site.
func (m *Module) Items(ctx context.Context, scope module.Scope) ([]domain.LeafItem, error) {
	q := url.Values{"pd_id": {scope.Project.ID.String()}, "site_id": {scope.Site.ID.String()}}
	rows, err := api.FetchList[dispatchRow](ctx, m.client, "/material/dispatch-details/", q)
	if err != nil {
		return []domain.LeafItem{}, err
	}
	seen := make(map[domain.ID]bool, len(rows))
	items := make([]domain.LeafItem, 0, len(rows))
	for _, row := range rows {
		if seen[row.ID] {
			continue
		}
		seen[row.ID] = true
		items = append(items, row.item())
	}
	if dupes := len(rows) - len(items); dupes > 0 {
		m.log.WithFields(logrus.Fields{"site": scope.Site.ID.String(), "dropped": dupes}).Debug("deduplicated dispatches")
	}
	return items, nil
}

// History loads the dispatch's acknowledgement, if any.
func (m *Module) History(ctx context.Context, item domain.LeafItem, _ domain.Date) (history.Raw, error) {
	q := url.Values{"material_dispatch_id": {item.ID.String()}}
	rows, err := api.FetchList[json.RawMessage](ctx, m.client, "/site-incharge/acknowledgement-details", q)
	if err != nil {
		return history.Raw{}, err
	}
	if len(rows) == 0 {
		return history.Raw{}, nil
	}
	ack, err := decodeAck(rows[0])
	if err != nil {
		return history.Raw{}, err
	}
	raw := history.Raw{Ack: ack}
	if qty, ok := ack.Quantity(); ok {
		raw.Entries = []domain.HistoryEntry{{ID: ack.ID, Amount: qty, Remarks: ack.Remarks()}}
	}
	return raw, nil
}

func decodeAck(row json.RawMessage) (*domain.Acknowledgement, error) {
	if bytes.Equal(bytes.TrimSpace(row), []byte("null")) {
		return nil, nil
	}
	var wrapped struct {
		Acknowledgement *domain.Acknowledgement `json:"acknowledgement"`
	}
	if err := json.Unmarshal(row, &wrapped); err == nil && wrapped.Acknowledgement != nil {
		return wrapped.Acknowledgement, nil
	}
	var ack domain.Acknowledgement
	if err := json.Unmarshal(row, &ack); err != nil {
		return nil, &api.Error{Kind: api.KindDecode, Path: "/site-incharge/acknowledgement-details", Err: err}
	}
	return &ack, nil
}

// Fallback maps a failed acknowledgement fetch to "no record".
func (m *Module) Fallback(domain.LeafItem, domain.Date) domain.History {
	return domain.History{Entries: []domain.HistoryEntry{}}
}

// Exists reports whether the dispatch already has an acknowledgement record.
func (m *Module) Exists(h domain.History) bool { return h.Ack != nil }

type ackPayload struct {
	DispatchID   int64        `json:"material_dispatch_id"`
	CompAQty     *json.Number `json:"comp_a_qty"`
	CompBQty     *json.Number `json:"comp_b_qty"`
	CompCQty     *json.Number `json:"comp_c_qty"`
	CompARemarks *string      `json:"comp_a_remarks"`
	CompBRemarks *string      `json:"comp_b_remarks"`
	CompCRemarks *string      `json:"comp_c_remarks"`
}

func newAckPayload(e upsert.Entry) (ackPayload, error) {
	id, err := e.Item.ID.Int()
	if err != nil {
		return ackPayload{}, fmt.Errorf("material: dispatch id %q: %w", e.Item.ID, err)
	}
	qty := json.Number(e.Quantity.String())
	payload := ackPayload{DispatchID: id, CompAQty: &qty}
	if remarks := strings.TrimSpace(e.Remarks); remarks != "" {
		payload.CompARemarks = &remarks
	}
	return payload, nil
}

// Create posts the first acknowledgement for a dispatch.
func (m *Module) Create(ctx context.Context, e upsert.Entry) error {
	payload, err := newAckPayload(e)
	if err != nil {
		return err
	}
	return m.client.Post(ctx, ackPath, payload, nil)
}

// Update replaces the existing acknowledgement of a dispatch.
func (m *Module) Update(ctx context.Context, _ domain.History, e upsert.Entry) error {
	payload, err := newAckPayload(e)
	if err != nil {
		return err
	}
	return m.client.Put(ctx, ackPath+"/"+url.PathEscape(e.Item.ID.String()), payload, nil)
}

type usagePayload struct {
	DispatchID int64       `json:"material_dispatch_id"`
	OverallQty json.Number `json:"overall_qty"`
	Remarks    string      `json:"remarks"`
	CreatedBy  int64       `json:"created_by"`
	EntryDate  string      `json:"entry_date"`
}

// RecordUsage reports consumption of a dispatch on a date.
func (m *Module) RecordUsage(ctx context.Context, u module.Usage) error {
	input := strings.TrimSpace(u.Quantity)
	if err := m.validate.Var(input, "required,numeric"); err != nil {
		return &upsert.ValidationError{Field: "Quantity", Message: "Enter a valid usage quantity"}
	}
	qty, err := decimal.NewFromString(input)
	if err != nil || !qty.IsPositive() {
		return &upsert.ValidationError{Field: "Quantity", Message: "Enter a usage quantity greater than zero"}
	}
	if u.UserID <= 0 {
		return &upsert.ValidationError{Field: "UserID", Message: "Sign in before saving"}
	}
	if u.Date.IsZero() {
		return &upsert.ValidationError{Field: "Date", Message: "Select a date"}
	}
	id, err := u.Item.ID.Int()
	if err != nil {
		return fmt.Errorf("material: dispatch id %q: %w", u.Item.ID, err)
	}
	return m.client.Post(ctx, "/site-incharge/usage-material", usagePayload{
		DispatchID: id,
		OverallQty: json.Number(qty.String()),
		Remarks:    strings.TrimSpace(u.Remarks),
		CreatedBy:  u.UserID,
		EntryDate:  u.Date.String(),
	}, nil)
}

// Status reports Acknowledged once any component quantity is recorded.
func (m *Module) Status(_ domain.LeafItem, h domain.History) module.Status {
	if h.Ack.Acknowledged() {
		return module.StatusAcknowledged
	}
	return module.StatusPending
}
