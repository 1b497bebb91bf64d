package tui

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/fieldops/internal/api"
	"github.com/kingrea/fieldops/internal/config"
	"github.com/kingrea/fieldops/internal/domain"
	"github.com/kingrea/fieldops/internal/history"
	"github.com/kingrea/fieldops/internal/logbook"
	"github.com/kingrea/fieldops/internal/module"
	"github.com/kingrea/fieldops/internal/upsert"
)

func TestMainMenuListsRegisteredDomains(t *testing.T) {
	app, _ := newTestApp(t)
	items := app.mainMenu.Items()
	if len(items) != 2 {
		t.Fatalf("expected stub domain plus exit, got %d items", len(items))
	}
	if got := items[0].(menuItem).title; got != "Stub Domain" {
		t.Fatalf("first item = %q", got)
	}
	if got := items[1].(menuItem).title; got != "Exit" {
		t.Fatalf("last item = %q", got)
	}
}

func TestDomainFlowSubmitsThroughOverlays(t *testing.T) {
	app, stub := newTestApp(t)
	app = press(t, app, "enter")
	if app.state != stateDomain || app.domainView == nil {
		t.Fatalf("expected domain view, got state %d", app.state)
	}
	view := app.domainView
	if len(view.snapshot.CompanyOptions) != 2 {
		t.Fatalf("expected companies after open, got %d", len(view.snapshot.CompanyOptions))
	}

	app = press(t, app, "c", "a", "c")
	if view.overlay != overlayCompany {
		t.Fatalf("typing in a picker must not open another overlay, got %d", view.overlay)
	}
	if n := len(view.picker.Items()); n != 1 {
		t.Fatalf("expected search to narrow to one company, got %d", n)
	}
	app = press(t, app, "enter")
	if view.overlay != overlayNone {
		t.Fatalf("overlay should close after choosing")
	}
	if c := view.snapshot.State.Company; c == nil || c.Name != "Acme" {
		t.Fatalf("expected Acme selected, got %+v", c)
	}

	app = press(t, app, "p", "enter", "s", "enter")
	if s := view.snapshot.State.Site; s == nil || s.Name != "Site A" {
		t.Fatalf("expected Site A selected, got %+v", s)
	}
	if rows := view.snapshot.Rows(); len(rows) != 1 {
		t.Fatalf("expected one item, got %d", len(rows))
	}

	app = press(t, app, "enter", "4", "enter")
	if got := stub.created(); len(got) != 1 || got[0].Quantity.String() != "4" || got[0].UserID != 7 {
		t.Fatalf("unexpected writes: %+v", got)
	}
	row := view.snapshot.Rows()[0]
	if len(row.History.Entries) != 1 {
		t.Fatalf("expected reloaded history, got %d entries", len(row.History.Entries))
	}
	if !strings.Contains(app.status(), "Entry saved") {
		t.Fatalf("status = %q", app.status())
	}
	lines, _ := app.logbook.Tail(20)
	if !containsLine(lines, "SUCCESS") {
		t.Fatalf("journal missing success toast: %v", lines)
	}
}

func TestInvalidInputStaysLocal(t *testing.T) {
	app, stub := newTestApp(t)
	app = press(t, app, "enter", "c", "enter", "p", "enter", "s", "enter")
	app = press(t, app, "enter", "-", "2", "enter")
	if got := stub.created(); len(got) != 0 {
		t.Fatalf("invalid input must not be written: %+v", got)
	}
	lines, _ := app.logbook.Tail(20)
	if !containsLine(lines, "ERROR") {
		t.Fatalf("journal missing error toast: %v", lines)
	}
}

func TestEscClosesOverlayBeforeLeavingDomain(t *testing.T) {
	app, _ := newTestApp(t)
	app = press(t, app, "enter", "c")
	if app.domainView.overlay != overlayCompany {
		t.Fatalf("expected company picker")
	}
	app = press(t, app, "esc")
	if app.state != stateDomain || app.domainView.overlay != overlayNone {
		t.Fatalf("first esc must only close the overlay")
	}
	app = press(t, app, "esc")
	if app.state != stateMainMenu || app.domainView != nil {
		t.Fatalf("second esc must return to the menu")
	}
}

func TestMessagesFromClosedViewAreDropped(t *testing.T) {
	app, _ := newTestApp(t)
	app = press(t, app, "enter")
	old := app.domainView
	app = press(t, app, "esc", "enter")
	if app.domainView == old {
		t.Fatalf("expected a fresh view")
	}
	app.domainView.status = "fresh"
	model, cmd := app.Update(actionDoneMsg{view: old, action: "late"})
	if cmd != nil || model.(*App).domainView.status != "fresh" {
		t.Fatalf("late message from a closed view must be ignored")
	}
}

func TestEveryOverlayRenders(t *testing.T) {
	app, _ := newTestApp(t)
	app = press(t, app, "enter")
	view := app.domainView
	for o := overlayNone; o <= overlayTo; o++ {
		if o.title(view.ctrl.Info()) == "unknown overlay" {
			t.Fatalf("overlay %d has no title", o)
		}
		view.overlay = o
		out := view.View()
		if o != overlayNone && !strings.Contains(out, o.title(view.ctrl.Info())) {
			t.Fatalf("overlay %d not rendered", o)
		}
	}
	view.overlay = overlayNone
	if !strings.Contains(app.View(), "FIELD OPS") {
		t.Fatalf("expected header in app view")
	}
}

func TestInitialDomainOpensDirectly(t *testing.T) {
	app, _ := newTestApp(t, WithInitialDomain("stub"))
	app = runCommands(t, app, app.Init())
	if app.state != stateDomain {
		t.Fatalf("expected initial domain to open")
	}
}

func newTestApp(t *testing.T, opts ...AppOption) (*App, *stubModule) {
	t.Helper()
	projectDir := t.TempDir()
	if err := config.InitDir(projectDir); err != nil {
		t.Fatalf("init fieldops dir: %v", err)
	}
	cfg, err := config.New(projectDir)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/project/companies":
			_, _ = io.WriteString(w, `[{"company_id":1,"company_name":"Acme"},{"company_id":2,"company_name":"Globex"}]`)
		case strings.HasPrefix(r.URL.Path, "/api/project/projects-with-sites/"):
			_, _ = io.WriteString(w, `[{"project_id":10,"project_name":"Tower-1","company_id":1,"sites":[{"site_id":100,"site_name":"Site A"}]}]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	client, err := api.New(api.Options{BaseURL: srv.URL + "/api", RetryAttempts: -1})
	if err != nil {
		t.Fatalf("api client: %v", err)
	}
	lb, err := logbook.New(filepath.Join(projectDir, ".fieldops", "logs", "journal.log"))
	if err != nil {
		t.Fatalf("logbook: %v", err)
	}
	stub := newStubModule()
	reg := module.NewRegistry()
	reg.MustRegister("stub", func(module.Deps) (module.Module, error) { return stub, nil })
	base := []AppOption{
		WithRegistry(reg),
		WithLogbook(lb),
		WithUserID(func() (int64, error) { return 7, nil }),
		WithClock(func() domain.Date { return domain.NewDate(2024, 1, 1) }),
	}
	app, err := NewApp(cfg, client, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return app, stub
}

func press(t *testing.T, app *App, keys ...string) *App {
	t.Helper()
	for _, k := range keys {
		model, cmd := app.Update(keyMsg(k))
		app = runCommands(t, model, cmd)
	}
	return app
}

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
}

func runCommands(t *testing.T, model tea.Model, cmd tea.Cmd) *App {
	t.Helper()
	app, ok := model.(*App)
	if !ok {
		t.Fatalf("unexpected model type: %T", model)
	}
	queue := []tea.Cmd{cmd}
	for steps := 0; len(queue) > 0; steps++ {
		if steps > 100 {
			t.Fatalf("command loop did not settle")
		}
		next := queue[0]
		queue = queue[1:]
		if next == nil {
			continue
		}
		msg := next()
		switch m := msg.(type) {
		case nil:
			continue
		case tea.BatchMsg:
			queue = append(queue, m...)
			continue
		}
		nextModel, nextCmd := app.Update(msg)
		app, ok = nextModel.(*App)
		if !ok {
			t.Fatalf("unexpected model type: %T", nextModel)
		}
		queue = append(queue, nextCmd)
	}
	return app
}

func containsLine(lines []string, needle string) bool {
	for _, line := range lines {
		if strings.Contains(line, needle) {
			return true
		}
	}
	return false
}

type stubModule struct {
	*module.Base
	mu      sync.Mutex
	entries []upsert.Entry
}

func newStubModule() *stubModule {
	base := module.NewBase(module.Info{
		ID:          "stub",
		Name:        "Stub Domain",
		Description: "In-memory domain for tests",
		Version:     "1.0.0",
		WriteMode:   upsert.ModeAppend,
		InputLabel:  "Amount",
	})
	return &stubModule{Base: &base}
}

func (m *stubModule) Items(context.Context, module.Scope) ([]domain.LeafItem, error) {
	return []domain.LeafItem{{ID: "1", Category: "Civil", Name: "Plaster"}}, nil
}

func (m *stubModule) History(_ context.Context, item domain.LeafItem, _ domain.Date) (history.Raw, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw := history.Raw{Entries: []domain.HistoryEntry{}}
	for _, e := range m.entries {
		if e.Item.ID == item.ID {
			raw.Entries = append(raw.Entries, domain.HistoryEntry{Amount: e.Quantity, Remarks: e.Remarks})
		}
	}
	return raw, nil
}

func (m *stubModule) Exists(h domain.History) bool { return len(h.Entries) > 0 }

func (m *stubModule) Create(_ context.Context, e upsert.Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func (m *stubModule) Update(context.Context, domain.History, upsert.Entry) error { return nil }

func (m *stubModule) created() []upsert.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]upsert.Entry(nil), m.entries...)
}
