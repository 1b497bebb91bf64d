package cascade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/fieldops/internal/api"
	"github.com/kingrea/fieldops/internal/domain"
	"github.com/kingrea/fieldops/internal/history"
	"github.com/kingrea/fieldops/internal/module"
	"github.com/kingrea/fieldops/internal/modules/labour"
	"github.com/kingrea/fieldops/internal/modules/material"
	"github.com/kingrea/fieldops/internal/modules/work"
	"github.com/kingrea/fieldops/internal/upsert"
)

var newYear = domain.NewDate(2024, 1, 1)

// backend is an in-memory stand-in for the field-operations API.
type backend struct {
	t        *testing.T
	mu       sync.Mutex
	calls    []string
	bodies   []map[string]json.RawMessage
	entries  map[string][]string
	acks     map[string]string
	failAcks map[string]bool
	// hold, when set, parks every write until release is closed.
	hold *writeGate
}

type writeGate struct {
	entered chan struct{}
	release chan struct{}
}

func newBackend(t *testing.T) *backend {
	return &backend{t: t, entries: map[string][]string{}, acks: map[string]string{}, failAcks: map[string]bool{}}
}

func (b *backend) callLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *backend) setFailAck(id string, fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failAcks[id] = fail
}

func (b *backend) holdWrites() *writeGate {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hold = &writeGate{entered: make(chan struct{}, 8), release: make(chan struct{})}
	return b.hold
}

func (b *backend) writes() []string {
	var out []string
	for _, call := range b.callLog() {
		if !strings.HasPrefix(call, "GET") {
			out = append(out, call)
		}
	}
	return out
}

func (b *backend) lastBody() map[string]json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bodies[len(b.bodies)-1]
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		b.mu.Lock()
		gate := b.hold
		b.mu.Unlock()
		if gate != nil {
			gate.entered <- struct{}{}
			<-gate.release
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	path := strings.TrimPrefix(r.URL.Path, "/api")
	call := r.Method + " " + path
	if r.URL.RawQuery != "" {
		call += "?" + r.URL.RawQuery
	}
	b.calls = append(b.calls, call)
	if r.Method != http.MethodGet {
		var body map[string]json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.bodies = append(b.bodies, body)
	}
	q := r.URL.Query()
	switch {
	case path == "/project/companies":
		_, _ = io.WriteString(w, `[{"company_id":1,"company_name":"Acme"},{"company_id":2,"company_name":"Globex"}]`)
	case strings.HasPrefix(path, "/project/projects-with-sites/"):
		_, _ = io.WriteString(w, `{"data":[
			{"project_id":10,"project_name":"Tower-1","company_id":1,"sites":[{"site_id":100,"site_name":"Site A"},{"site_id":101,"site_name":"Site B","po_number":"PO-9"}]},
			{"project_id":20,"project_name":"Globex HQ","company_id":2,"sites":[]}
		]}`)
	case path == "/site-incharge/work-descriptions":
		_, _ = io.WriteString(w, `{"data":[{"desc_id":1,"desc_name":"Plastering"},{"desc_id":2,"desc_name":"Painting"}]}`)
	case path == "/reckoner/reckoner/":
		_, _ = io.WriteString(w, `{"success":true,"data":[
			{"rec_id":1,"category_name":"Civil","work_descriptions":"Plastering","rate":"5.5","site_id":100},
			{"rec_id":2,"category_name":"Civil","work_descriptions":"Plastering","rate":"4","site_id":100},
			{"rec_id":3,"category_name":"Finishes","work_descriptions":"Painting","rate":"2","site_id":100},
			{"rec_id":4,"category_name":"Civil","work_descriptions":"Plastering","rate":"3","site_id":100},
			{"rec_id":5,"category_name":"Finishes","work_descriptions":"Painting","rate":"2.5","site_id":100},
			{"rec_id":6,"category_name":"Civil","work_descriptions":"Painting","rate":"1","site_id":101}
		]}`)
	case path == "/site-incharge/completion-entries":
		key := q.Get("rec_id") + "@" + q.Get("date")
		entries := make([]string, 0, len(b.entries[key]))
		for i, area := range b.entries[key] {
			entries = append(entries, fmt.Sprintf(`{"id":%d,"area_added":%s,"created_at":"%sT10:00:00"}`, i+1, area, q.Get("date")))
		}
		_, _ = fmt.Fprintf(w, `{"status":"success","data":{"entries":[%s]}}`, strings.Join(entries, ","))
	case path == "/site-incharge/completion-status":
		body := b.bodies[len(b.bodies)-1]
		var date string
		_ = json.Unmarshal(body["entry_date"], &date)
		key := string(body["rec_id"]) + "@" + date
		b.entries[key] = append(b.entries[key], string(body["area_added"]))
		w.WriteHeader(http.StatusCreated)
	case path == "/material/work-descriptions":
		_, _ = io.WriteString(w, `{"data":[]}`)
	case path == "/material/dispatch-details/":
		_, _ = io.WriteString(w, `{"data":[{"id":41,"item_name":"Cement"},{"id":42,"item_name":"Sand"},{"id":43,"item_name":"Steel"}]}`)
	case path == "/site-incharge/acknowledgement-details":
		id := q.Get("material_dispatch_id")
		if b.failAcks[id] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if qty, ok := b.acks[id]; ok {
			_, _ = fmt.Fprintf(w, `{"data":[{"id":9,"material_dispatch_id":%s,"comp_a_qty":%s}]}`, id, qty)
			return
		}
		_, _ = io.WriteString(w, `{"data":[]}`)
	case path == "/site-incharge/acknowledge-material" && r.Method == http.MethodPost:
		body := b.bodies[len(b.bodies)-1]
		b.acks[string(body["material_dispatch_id"])] = string(body["comp_a_qty"])
	case strings.HasPrefix(path, "/site-incharge/acknowledge-material/") && r.Method == http.MethodPut:
		body := b.bodies[len(b.bodies)-1]
		b.acks[strings.TrimPrefix(path, "/site-incharge/acknowledge-material/")] = string(body["comp_a_qty"])
	case path == "/site-incharge/labours":
		_, _ = io.WriteString(w, `{"data":[{"id":3,"full_name":"Ravi Kumar"},{"id":5,"full_name":"Meena Das"}]}`)
	case path == "/site-incharge/save-labour-assignment":
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type harness struct {
	ctrl    *Controller
	backend *backend
	notices []Notice
	mu      sync.Mutex
}

func (h *harness) notes() []Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Notice(nil), h.notices...)
}

func newHarness(t *testing.T, build func(module.Deps) (module.Module, error), mode history.Mode) *harness {
	t.Helper()
	b := newBackend(t)
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	client, err := api.New(api.Options{BaseURL: srv.URL + "/api", RetryAttempts: -1})
	require.NoError(t, err)
	mod, err := build(module.NewDeps(client, nil))
	require.NoError(t, err)
	h := &harness{backend: b}
	h.ctrl, err = New(Options{
		Client:      client,
		Module:      mod,
		HistoryMode: mode,
		UserID:      func() (int64, error) { return 1, nil },
		Notify: func(n Notice) {
			h.mu.Lock()
			h.notices = append(h.notices, n)
			h.mu.Unlock()
		},
		Today: func() domain.Date { return newYear },
	})
	require.NoError(t, err)
	return h
}

func workModule(deps module.Deps) (module.Module, error)     { return work.New(deps) }
func materialModule(deps module.Deps) (module.Module, error) { return material.New(deps) }
func labourModule(deps module.Deps) (module.Module, error)   { return labour.New(deps) }

func (h *harness) selectSite(t *testing.T, site domain.ID) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.ctrl.Open(ctx))
	require.NoError(t, h.ctrl.SelectCompany(ctx, "1"))
	require.NoError(t, h.ctrl.SelectProject("10"))
	require.NoError(t, h.ctrl.SelectSite(ctx, site))
}

func TestProjectSelectionUsesNestedSitesWithoutFetching(t *testing.T) {
	h := newHarness(t, workModule, history.ModeExactDate)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Open(ctx))
	require.NoError(t, h.ctrl.SelectCompany(ctx, "1"))

	v := h.ctrl.View()
	require.Len(t, v.ProjectOptions, 1, "only Acme's projects are offered")
	require.Equal(t, "Tower-1", v.ProjectOptions[0].Label)

	before := len(h.backend.callLog())
	require.NoError(t, h.ctrl.SelectProject("10"))
	require.Equal(t, before, len(h.backend.callLog()), "selecting a project must not hit the network")
	labels := []string{}
	for _, o := range h.ctrl.View().SiteOptions {
		labels = append(labels, o.Label)
	}
	require.Equal(t, []string{"Site A", "Site B (PO: PO-9)"}, labels)
}

func TestSelectingWorkDescriptionFiltersItems(t *testing.T) {
	h := newHarness(t, workModule, history.ModeExactDate)
	h.selectSite(t, "100")

	v := h.ctrl.View()
	require.Len(t, v.State.WorkDescriptions, 2)
	require.Len(t, v.Rows(), 5)
	require.Len(t, v.State.History, 5, "history is loaded for every item")

	painting := domain.ID("2")
	require.NoError(t, h.ctrl.SelectWorkDescription(context.Background(), &painting))
	rows := h.ctrl.View().Rows()
	require.Len(t, rows, 2)
	for _, row := range rows {
		require.Equal(t, "Painting", row.Item.Description)
	}
	require.Equal(t, []string{"Finishes"}, h.ctrl.View().Categories)
}

func TestSubmitPostsDerivedValueThenReloadsItem(t *testing.T) {
	h := newHarness(t, workModule, history.ModeExactDate)
	h.selectSite(t, "100")
	require.NoError(t, h.ctrl.SetDate(context.Background(), newYear))

	h.ctrl.SetInput("1", "10")
	before := len(h.backend.callLog())
	out, err := h.ctrl.Submit(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, "55", out.Entry.Value.String())

	calls := h.backend.callLog()[before:]
	require.Equal(t, []string{
		"POST /site-incharge/completion-status",
		"GET /site-incharge/completion-entries?date=2024-01-01&rec_id=1",
	}, calls)
	body := h.backend.lastBody()
	require.Equal(t, "55.00", string(body["value"]))
	require.Equal(t, "10", string(body["area_added"]))

	v := h.ctrl.View()
	var row Row
	for _, r := range v.Rows() {
		if r.Item.ID == "1" {
			row = r
		}
	}
	require.Len(t, row.History.Entries, 1)
	require.Equal(t, "10", row.History.Cumulative.String())
	require.Equal(t, "10", row.Item.Completed.String(), "the saved area is booked locally")
	require.Empty(t, row.Input, "input is cleared after a successful save")
	require.Equal(t, NoticeSuccess, h.notes()[len(h.notes())-1].Level)
}

func TestSubmitValidationKeepsInputAndSkipsNetwork(t *testing.T) {
	h := newHarness(t, workModule, history.ModeExactDate)
	h.selectSite(t, "100")
	h.ctrl.SetInput("1", "-3")
	before := len(h.backend.callLog())
	_, err := h.ctrl.Submit(context.Background(), "1")
	require.True(t, upsert.IsValidation(err))
	require.Len(t, h.backend.callLog(), before)
	require.Equal(t, "-3", h.ctrl.Input("1"))
	require.Equal(t, NoticeError, h.notes()[len(h.notes())-1].Level)
}

func TestSubmitTwiceCreatesThenUpdates(t *testing.T) {
	h := newHarness(t, materialModule, history.ModeExactDate)
	h.selectSite(t, "100")

	h.ctrl.SetInput("42", "5")
	first, err := h.ctrl.Submit(context.Background(), "42")
	require.NoError(t, err)
	require.False(t, first.Updated)

	h.ctrl.SetInput("42", "6")
	second, err := h.ctrl.Submit(context.Background(), "42")
	require.NoError(t, err)
	require.True(t, second.Updated)

	require.Equal(t, []string{
		"POST /site-incharge/acknowledge-material",
		"PUT /site-incharge/acknowledge-material/42",
	}, h.backend.writes())
	q, ok := h.ctrl.Snapshot().History["42"].Ack.Quantity()
	require.True(t, ok)
	require.Equal(t, "6", q.String())
}

func TestCreateIsRememberedWhenReloadFails(t *testing.T) {
	h := newHarness(t, materialModule, history.ModeExactDate)
	h.selectSite(t, "100")
	h.backend.setFailAck("42", true)

	h.ctrl.SetInput("42", "5")
	first, err := h.ctrl.Submit(context.Background(), "42")
	require.NoError(t, err)
	require.False(t, first.Updated)
	require.Error(t, first.ReloadErr)
	require.True(t, h.ctrl.Snapshot().History["42"].Written)

	h.ctrl.SetInput("42", "6")
	second, err := h.ctrl.Submit(context.Background(), "42")
	require.NoError(t, err)
	require.True(t, second.Updated)
	require.Equal(t, []string{
		"POST /site-incharge/acknowledge-material",
		"PUT /site-incharge/acknowledge-material/42",
	}, h.backend.writes())
}

func TestUnknownAcknowledgementIsCheckedBeforeWriting(t *testing.T) {
	h := newHarness(t, materialModule, history.ModeExactDate)
	h.backend.failAcks["42"] = true
	h.backend.acks["42"] = "2"
	h.selectSite(t, "100")
	require.True(t, h.ctrl.Snapshot().History["42"].Fallback)

	h.ctrl.SetInput("42", "5")
	_, err := h.ctrl.Submit(context.Background(), "42")
	require.ErrorIs(t, err, upsert.ErrRecordUnknown)
	require.Empty(t, h.backend.writes())
	require.Equal(t, "5", h.ctrl.Input("42"), "input is kept for a retry")
	require.Equal(t, NoticeError, h.notes()[len(h.notes())-1].Level)

	h.backend.setFailAck("42", false)
	out, err := h.ctrl.Submit(context.Background(), "42")
	require.NoError(t, err)
	require.True(t, out.Updated, "the record the server already holds is updated")
	require.Equal(t, []string{"PUT /site-incharge/acknowledge-material/42"}, h.backend.writes())
}

func TestConcurrentSubmitsForOneItemWriteOnce(t *testing.T) {
	h := newHarness(t, materialModule, history.ModeExactDate)
	h.selectSite(t, "100")
	gate := h.backend.holdWrites()

	h.ctrl.SetInput("42", "5")
	first := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Submit(context.Background(), "42")
		first <- err
	}()
	<-gate.entered

	h.ctrl.SetInput("42", "5")
	_, err := h.ctrl.Submit(context.Background(), "42")
	require.ErrorIs(t, err, ErrSaveInProgress)
	require.Equal(t, NoticeInfo, h.notes()[len(h.notes())-1].Level)

	close(gate.release)
	require.NoError(t, <-first)
	require.Equal(t, []string{"POST /site-incharge/acknowledge-material"}, h.backend.writes())

	h.ctrl.SetInput("42", "7")
	out, err := h.ctrl.Submit(context.Background(), "42")
	require.NoError(t, err)
	require.True(t, out.Updated)
}

func TestLabourStaysAssignableAfterChoosingWorkDescription(t *testing.T) {
	h := newHarness(t, labourModule, history.ModeExactDate)
	h.selectSite(t, "100")
	ctx := context.Background()
	require.Len(t, h.ctrl.View().Rows(), 2)

	plastering := domain.ID("1")
	require.NoError(t, h.ctrl.SelectWorkDescription(ctx, &plastering))
	rows := h.ctrl.View().Rows()
	require.Len(t, rows, 2, "labourers are not scoped by work description")
	for _, row := range rows {
		h.ctrl.ToggleLabour(row.Item.ID)
	}
	require.Equal(t, 2, h.ctrl.View().Selected)

	h.ctrl.SetRange(newYear, domain.NewDate(2024, 1, 5))
	require.NoError(t, h.ctrl.Assign(ctx))
	require.Equal(t, []string{"POST /site-incharge/save-labour-assignment"}, h.backend.writes())
	body := h.backend.lastBody()
	require.Equal(t, "[3,5]", string(body["labour_ids"]))
	require.Equal(t, "1", string(body["desc_id"]))
	require.Equal(t, "100", string(body["site_id"]))
	require.Equal(t, "10", string(body["project_id"]))
	require.Equal(t, `"2024-01-05"`, string(body["to_date"]))
	require.Equal(t, 0, h.ctrl.View().Selected)
	require.Equal(t, NoticeSuccess, h.notes()[len(h.notes())-1].Level)
}

func TestOneFailedAcknowledgementDoesNotBlockTheRest(t *testing.T) {
	h := newHarness(t, materialModule, history.ModeExactDate)
	h.backend.failAcks["42"] = true
	h.backend.acks["41"] = "3"
	h.selectSite(t, "100")

	hist := h.ctrl.Snapshot().History
	require.Len(t, hist, 3)
	require.NotNil(t, hist["41"].Ack)
	require.Nil(t, hist["42"].Ack)
	require.True(t, hist["42"].Fallback)
	require.Nil(t, hist["43"].Ack)
	require.False(t, hist["43"].Fallback)
	require.Equal(t, NoticeInfo, h.notes()[len(h.notes())-1].Level)
}

func TestCompanyChangeResetsEverythingBelow(t *testing.T) {
	h := newHarness(t, workModule, history.ModeExactDate)
	h.selectSite(t, "100")
	h.ctrl.SetInput("1", "4")
	require.NoError(t, h.ctrl.SelectCompany(context.Background(), "2"))

	v := h.ctrl.View()
	require.Equal(t, "Globex", v.State.Company.Name)
	require.Nil(t, v.State.Project)
	require.Nil(t, v.State.Site)
	require.Empty(t, v.State.Items)
	require.Empty(t, v.State.History)
	require.Empty(t, v.Rows())
	require.Empty(t, h.ctrl.Input("1"))
}

// gatedModule blocks Items for one site until released.
type gatedModule struct {
	*module.Base
	gate    chan struct{}
	blocked domain.ID
	entered chan struct{}
}

func (g *gatedModule) Items(_ context.Context, scope module.Scope) ([]domain.LeafItem, error) {
	if scope.Site.ID == g.blocked {
		close(g.entered)
		<-g.gate
	}
	return []domain.LeafItem{{ID: domain.ID("from-" + scope.Site.ID.String())}}, nil
}

func TestStaleSiteResponseIsDropped(t *testing.T) {
	base := module.NewBase(module.Info{ID: "gated", Name: "Gated", Version: "1", WriteMode: upsert.ModeAppend})
	gated := &gatedModule{Base: &base, gate: make(chan struct{}), blocked: "100", entered: make(chan struct{})}
	h := newHarness(t, func(module.Deps) (module.Module, error) { return gated, nil }, history.ModeExactDate)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Open(ctx))
	require.NoError(t, h.ctrl.SelectCompany(ctx, "1"))
	require.NoError(t, h.ctrl.SelectProject("10"))

	slow := make(chan error, 1)
	go func() { slow <- h.ctrl.SelectSite(ctx, "100") }()
	<-gated.entered
	require.NoError(t, h.ctrl.SelectSite(ctx, "101"))
	close(gated.gate)
	require.True(t, errors.Is(<-slow, ErrStale))

	s := h.ctrl.Snapshot()
	require.Equal(t, "Site B", s.Site.Name)
	require.Equal(t, []domain.LeafItem{{ID: "from-101"}}, s.Items)
}

func TestUnsupportedOperations(t *testing.T) {
	h := newHarness(t, workModule, history.ModeExactDate)
	require.ErrorIs(t, h.ctrl.Assign(context.Background()), ErrNotSupported)
	require.ErrorIs(t, h.ctrl.RecordUsage(context.Background(), "1", "1", ""), ErrNotSupported)
}
