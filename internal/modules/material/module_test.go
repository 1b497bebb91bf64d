package material

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/fieldops/internal/api"
	"github.com/kingrea/fieldops/internal/domain"
	"github.com/kingrea/fieldops/internal/history"
	"github.com/kingrea/fieldops/internal/module"
	"github.com/kingrea/fieldops/internal/upsert"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	body  map[string]json.RawMessage
}

func (r *recorder) add(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req.Method+" "+req.URL.Path)
	if req.Body != nil && req.Method != http.MethodGet {
		_ = json.NewDecoder(req.Body).Decode(&r.body)
	}
}

func newMaterialModule(t *testing.T, handler http.HandlerFunc) *Module {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := api.New(api.Options{BaseURL: srv.URL + "/api", RetryAttempts: -1})
	require.NoError(t, err)
	mod, err := New(module.NewDeps(client, nil))
	require.NoError(t, err)
	return mod
}

func TestItemsDeduplicateDispatches(t *testing.T) {
	mod := newMaterialModule(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/material/dispatch-details/", r.URL.Path)
		require.Equal(t, "10", r.URL.Query().Get("pd_id"))
		require.Equal(t, "100", r.URL.Query().Get("site_id"))
		_, _ = io.WriteString(w, `{"data":[
			{"id":41,"item_name":"Cement","dispatch_qty":"50","desc_name":"Plastering"},
			{"id":41,"item_name":"Cement (dup)"},
			{"id":42,"item_name":"Sand","dispatch_qty":12}
		]}`)
	})
	items, err := mod.Items(context.Background(), module.Scope{
		Project: domain.Project{ID: "10"},
		Site:    domain.Site{ID: "100"},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "Cement", items[0].Name)
	require.Equal(t, "50", items[0].POQuantity.String())
	require.Equal(t, "Dispatched", items[1].Category)
}

func TestHistoryReadsFlatAndWrappedAcknowledgements(t *testing.T) {
	mod := newMaterialModule(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("material_dispatch_id") {
		case "41":
			_, _ = io.WriteString(w, `{"data":[{"id":9,"material_dispatch_id":41,"comp_a_qty":null,"comp_b_qty":"7","comp_b_remarks":"short"}]}`)
		case "42":
			_, _ = io.WriteString(w, `{"data":[{"acknowledgement":{"id":10,"material_dispatch_id":42,"comp_a_qty":3}}]}`)
		default:
			_, _ = io.WriteString(w, `{"data":[]}`)
		}
	})
	ctx := context.Background()
	raw, err := mod.History(ctx, domain.LeafItem{ID: "41"}, domain.Today())
	require.NoError(t, err)
	require.Equal(t, domain.ID("9"), raw.Ack.ID)
	require.Len(t, raw.Entries, 1)
	require.Equal(t, "7", raw.Entries[0].Amount.String())
	require.Equal(t, "short", raw.Entries[0].Remarks)

	raw, err = mod.History(ctx, domain.LeafItem{ID: "42"}, domain.Today())
	require.NoError(t, err)
	require.Equal(t, domain.ID("42"), raw.Ack.DispatchID)

	raw, err = mod.History(ctx, domain.LeafItem{ID: "43"}, domain.Today())
	require.NoError(t, err)
	require.Nil(t, raw.Ack)
	require.Equal(t, module.StatusPending, mod.Status(domain.LeafItem{}, domain.History{Ack: raw.Ack}))
}

func TestSaveUpdatesExistingAcknowledgement(t *testing.T) {
	rec := &recorder{}
	mod := newMaterialModule(t, func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
	})
	existing := domain.History{Ack: &domain.Acknowledgement{ID: "9", DispatchID: "42"}}
	flow := upsert.NewFlow(mod.Info().WriteMode, upsert.Rules{}, mod, nil, nil)
	out, err := flow.Submit(context.Background(), upsert.Request{
		Item:    domain.LeafItem{ID: "42"},
		Input:   "15",
		Remarks: "all received",
		Date:    domain.NewDate(2024, 1, 1),
		UserID:  1,
	}, existing)
	require.NoError(t, err)
	require.True(t, out.Updated)
	require.Equal(t, []string{"PUT /api/site-incharge/acknowledge-material/42"}, rec.calls)
	require.Equal(t, "42", string(rec.body["material_dispatch_id"]))
	require.Equal(t, "15", string(rec.body["comp_a_qty"]))
	require.Equal(t, "null", string(rec.body["comp_b_qty"]))
	require.Equal(t, `"all received"`, string(rec.body["comp_a_remarks"]))
}

func TestSaveCreatesWhenNoRecord(t *testing.T) {
	rec := &recorder{}
	mod := newMaterialModule(t, func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
	})
	require.False(t, mod.Exists(domain.History{}))
	err := mod.Create(context.Background(), upsert.Entry{Item: domain.LeafItem{ID: "42"}, Quantity: decimal.NewFromInt(4)})
	require.NoError(t, err)
	require.Equal(t, []string{"POST /api/site-incharge/acknowledge-material"}, rec.calls)
	require.Equal(t, "null", string(rec.body["comp_a_remarks"]))
}

func TestPartialAcknowledgementFailureFallsBack(t *testing.T) {
	mod := newMaterialModule(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("material_dispatch_id") == "42" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"data":[{"id":1,"material_dispatch_id":`+r.URL.Query().Get("material_dispatch_id")+`,"comp_a_qty":1}]}`)
	})
	items := []domain.LeafItem{{ID: "41"}, {ID: "42"}, {ID: "43"}}
	agg := history.NewAggregator(history.ModeExactDate, nil)
	res := agg.Load(context.Background(), items, domain.NewDate(2024, 1, 1), mod.History, mod.Fallback)
	require.Len(t, res.History, 3)
	require.Nil(t, res.History["42"].Ack)
	require.True(t, res.History["42"].Fallback)
	require.Equal(t, api.KindServer, api.KindOf(res.Failed["42"]))
	require.Equal(t, module.StatusAcknowledged, mod.Status(items[0], res.History["41"]))
	require.Equal(t, module.StatusAcknowledged, mod.Status(items[2], res.History["43"]))
}

func TestRecordUsageValidatesBeforePosting(t *testing.T) {
	rec := &recorder{}
	mod := newMaterialModule(t, func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
	})
	usage := module.Usage{Item: domain.LeafItem{ID: "42"}, Quantity: "abc", Date: domain.NewDate(2024, 1, 1), UserID: 1}
	err := mod.RecordUsage(context.Background(), usage)
	require.True(t, upsert.IsValidation(err))
	usage.Quantity = "-1"
	require.True(t, upsert.IsValidation(mod.RecordUsage(context.Background(), usage)))
	require.Empty(t, rec.calls)

	usage.Quantity = "2.5"
	usage.Remarks = " used for slab "
	require.NoError(t, mod.RecordUsage(context.Background(), usage))
	require.Equal(t, []string{"POST /api/site-incharge/usage-material"}, rec.calls)
	require.Equal(t, "2.5", string(rec.body["overall_qty"]))
	require.Equal(t, `"used for slab"`, string(rec.body["remarks"]))
	require.Equal(t, `"2024-01-01"`, string(rec.body["entry_date"]))
}
