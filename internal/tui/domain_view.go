package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/fieldops/internal/cascade"
	"github.com/kingrea/fieldops/internal/domain"
	"github.com/kingrea/fieldops/internal/filter"
	"github.com/kingrea/fieldops/internal/module"
	"github.com/kingrea/fieldops/internal/selection"
)

var (
	statusStylePending   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	statusStyleProgress  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	statusStyleCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	statusStyleExceeded  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	sectionStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	cursorStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	detailTextStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	overlayStyle         = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#5B8DEF")).Padding(0, 1)
)

// overlay is the one modal that may be open over the item list.
type overlay int

const (
	overlayNone overlay = iota
	overlayCompany
	overlayProject
	overlaySite
	overlayWorkDescription
	overlayCategory
	overlaySearch
	overlayDate
	overlayQuantity
	overlayRemarks
	overlayUsage
	overlayFrom
	overlayTo
)

func (o overlay) title(info module.Info) string {
	switch o {
	case overlayNone:
		return ""
	case overlayCompany:
		return "Select company"
	case overlayProject:
		return "Select project"
	case overlaySite:
		return "Select site"
	case overlayWorkDescription:
		return "Select work description"
	case overlayCategory:
		return "Filter by category"
	case overlaySearch:
		return "Search items"
	case overlayDate:
		return "Date (YYYY-MM-DD)"
	case overlayQuantity:
		if info.InputLabel != "" {
			return info.InputLabel
		}
		return "Quantity"
	case overlayRemarks:
		return "Remarks"
	case overlayUsage:
		return "Used quantity"
	case overlayFrom:
		return "From date (YYYY-MM-DD)"
	case overlayTo:
		return "To date (YYYY-MM-DD)"
	default:
		return "unknown overlay"
	}
}

func (o overlay) isPicker() bool {
	switch o {
	case overlayCompany, overlayProject, overlaySite, overlayWorkDescription, overlayCategory:
		return true
	default:
		return false
	}
}

type domainOpenedMsg struct {
	view *domainView
	err  error
}

type actionDoneMsg struct {
	view   *domainView
	action string
	err    error
}

// noticeBox collects controller notices raised from command goroutines until
// the next Update drains them.
type noticeBox struct {
	mu    sync.Mutex
	items []cascade.Notice
}

func (b *noticeBox) push(n cascade.Notice) {
	b.mu.Lock()
	b.items = append(b.items, n)
	b.mu.Unlock()
}

func (b *noticeBox) drain() []cascade.Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out
}

type domainView struct {
	app     *App
	ctrl    *cascade.Controller
	ctx     context.Context
	cancel  context.CancelFunc
	notices *noticeBox

	snapshot cascade.View
	cursor   int
	overlay  overlay
	options  []domain.Option
	picker   list.Model
	input    textinput.Model
	target   domain.ID
	status   string
	err      error
}

func newDomainView(app *App, mod module.Module) (*domainView, error) {
	box := &noticeBox{}
	ctrl, err := cascade.New(cascade.Options{
		Client:      app.client,
		Module:      mod,
		HistoryMode: app.config.HistoryMode(),
		Rules:       app.config.Rules(),
		UserID:      app.userID,
		Notify: func(n cascade.Notice) {
			app.journal(n)
			box.push(n)
		},
		Log:   app.log,
		Today: app.today,
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	picker := list.New(nil, list.NewDefaultDelegate(), 40, 12)
	picker.SetShowStatusBar(false)
	picker.SetFilteringEnabled(false)
	picker.SetShowHelp(false)
	input := textinput.New()
	input.CharLimit = 500
	input.Cursor.SetMode(cursor.CursorStatic)
	v := &domainView{
		app:     app,
		ctrl:    ctrl,
		ctx:     ctx,
		cancel:  cancel,
		notices: box,
		picker:  picker,
		input:   input,
	}
	v.snapshot = ctrl.View()
	return v, nil
}

// Init opens the domain and loads the companies.
func (v *domainView) Init() tea.Cmd {
	return func() tea.Msg {
		return domainOpenedMsg{view: v, err: v.ctrl.Open(v.ctx)}
	}
}

// Close cancels any request still in flight.
func (v *domainView) Close() {
	v.cancel()
}

func (v *domainView) run(action string, fn func(context.Context) error) tea.Cmd {
	ctx := v.ctx
	return func() tea.Msg {
		return actionDoneMsg{view: v, action: action, err: fn(ctx)}
	}
}

func (v *domainView) Update(msg tea.Msg) tea.Cmd {
	switch m := msg.(type) {
	case domainOpenedMsg:
		v.refresh(m.err)
		if m.err == nil {
			v.status = fmt.Sprintf("%s ready. Press c to choose a company.", v.ctrl.Info().Name)
		}
		return nil
	case actionDoneMsg:
		v.refresh(m.err)
		return nil
	case tea.WindowSizeMsg:
		v.picker.SetSize(max(20, m.Width-10), max(6, m.Height/2))
		return nil
	case tea.KeyMsg:
		if v.overlay != overlayNone {
			return v.updateOverlay(m)
		}
		return v.handleKey(m)
	}
	return nil
}

// refresh re-derives the snapshot and surfaces the newest notice.
func (v *domainView) refresh(err error) {
	v.snapshot = v.ctrl.View()
	rows := len(v.snapshot.Rows())
	if v.cursor >= rows {
		v.cursor = max(0, rows-1)
	}
	if notices := v.notices.drain(); len(notices) > 0 {
		v.status = notices[len(notices)-1].Message
	}
	if err != nil && !errors.Is(err, cascade.ErrStale) && !errors.Is(err, cascade.ErrSaveInProgress) && !errors.Is(err, context.Canceled) {
		v.err = err
	} else {
		v.err = nil
	}
}

func (v *domainView) handleKey(msg tea.KeyMsg) tea.Cmd {
	info := v.ctrl.Info()
	switch msg.String() {
	case "up", "k":
		if v.cursor > 0 {
			v.cursor--
		}
	case "down", "j":
		if v.cursor < len(v.snapshot.Rows())-1 {
			v.cursor++
		}
	case "c":
		v.openPicker(overlayCompany, v.snapshot.CompanyOptions)
	case "p":
		if v.snapshot.State.Company == nil {
			v.status = "Select a company first"
			return nil
		}
		v.openPicker(overlayProject, v.snapshot.ProjectOptions)
	case "s":
		if v.snapshot.State.Project == nil {
			v.status = "Select a project first"
			return nil
		}
		v.openPicker(overlaySite, v.snapshot.SiteOptions)
	case "w":
		if v.snapshot.State.Site == nil {
			v.status = "Select a site first"
			return nil
		}
		v.openPicker(overlayWorkDescription, v.snapshot.WorkDescriptionOptions)
	case "x":
		if v.snapshot.State.WorkDescription != nil {
			return v.run("clear work description", func(ctx context.Context) error {
				return v.ctrl.SelectWorkDescription(ctx, nil)
			})
		}
	case "g":
		v.openPicker(overlayCategory, append([]domain.Option{{Kind: domain.KindCategory, Label: "All categories"}}, domain.CategoryOptions(v.snapshot.Categories)...))
	case "/":
		v.openInput(overlaySearch, "", v.snapshot.Query)
	case "d":
		v.openInput(overlayDate, "", v.snapshot.State.Date.String())
	case "r":
		return v.run("refresh", v.ctrl.RefreshHistory)
	case "enter":
		row, ok := v.currentRow()
		if !ok {
			return nil
		}
		if v.isAssigner() {
			v.ctrl.ToggleLabour(row.Item.ID)
			v.snapshot = v.ctrl.View()
			return nil
		}
		v.openInput(overlayQuantity, row.Item.ID, row.Input)
	case " ":
		if row, ok := v.currentRow(); ok && v.isAssigner() {
			v.ctrl.ToggleLabour(row.Item.ID)
			v.snapshot = v.ctrl.View()
		}
	case "m":
		if row, ok := v.currentRow(); ok && !v.isAssigner() {
			v.openInput(overlayRemarks, row.Item.ID, row.Remarks)
		}
	case "u":
		if _, ok := v.ctrl.Module().(module.UsageRecorder); !ok {
			v.status = info.Name + " does not record usage"
			return nil
		}
		if row, ok := v.currentRow(); ok {
			v.openInput(overlayUsage, row.Item.ID, "")
		}
	case "f":
		if v.isAssigner() {
			v.openInput(overlayFrom, "", v.snapshot.From.String())
		}
	case "t":
		if v.isAssigner() {
			v.openInput(overlayTo, "", v.snapshot.To.String())
		}
	case "a":
		if v.isAssigner() {
			return v.run("assign", v.ctrl.Assign)
		}
	}
	return nil
}

func (v *domainView) isAssigner() bool {
	_, ok := v.ctrl.Module().(module.Assigner)
	return ok
}

func (v *domainView) currentRow() (cascade.Row, bool) {
	rows := v.snapshot.Rows()
	if v.cursor < 0 || v.cursor >= len(rows) {
		return cascade.Row{}, false
	}
	return rows[v.cursor], true
}

func (v *domainView) openPicker(o overlay, opts []domain.Option) {
	if len(opts) == 0 {
		v.status = fmt.Sprintf("Nothing to choose: %s", strings.ToLower(o.title(v.ctrl.Info())))
		return
	}
	v.overlay = o
	v.options = opts
	v.input.Reset()
	v.input.Placeholder = "type to search"
	v.input.Focus()
	v.setPickerItems(opts)
}

func (v *domainView) setPickerItems(opts []domain.Option) {
	items := make([]list.Item, len(opts))
	for i := range opts {
		items[i] = opts[i]
	}
	v.picker.SetItems(items)
	v.picker.Select(0)
}

func (v *domainView) openInput(o overlay, target domain.ID, value string) {
	v.overlay = o
	v.target = target
	v.input.Reset()
	v.input.Placeholder = ""
	v.input.SetValue(value)
	v.input.CursorEnd()
	v.input.Focus()
}

func (v *domainView) closeOverlay() {
	v.overlay = overlayNone
	v.options = nil
	v.target = ""
	v.input.Blur()
}

func (v *domainView) updateOverlay(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		if v.overlay == overlaySearch {
			v.ctrl.SetQuery("")
			v.snapshot = v.ctrl.View()
		}
		v.closeOverlay()
		return nil
	case "enter":
		return v.confirmOverlay()
	}
	if v.overlay.isPicker() {
		switch msg.String() {
		case "up", "down", "pgup", "pgdown":
			var cmd tea.Cmd
			v.picker, cmd = v.picker.Update(msg)
			return cmd
		}
	}
	var cmd tea.Cmd
	v.input, cmd = v.input.Update(msg)
	switch {
	case v.overlay.isPicker():
		v.setPickerItems(filter.Options(v.options, v.input.Value()))
	case v.overlay == overlaySearch:
		v.ctrl.SetQuery(v.input.Value())
		v.snapshot = v.ctrl.View()
		v.cursor = 0
	}
	return cmd
}

func (v *domainView) confirmOverlay() tea.Cmd {
	current := v.overlay
	value := strings.TrimSpace(v.input.Value())
	target := v.target
	if current.isPicker() {
		opt, ok := v.picker.SelectedItem().(domain.Option)
		v.closeOverlay()
		if !ok {
			return nil
		}
		return v.choose(current, opt)
	}
	v.closeOverlay()
	switch current {
	case overlaySearch:
		v.ctrl.SetQuery(value)
		v.snapshot = v.ctrl.View()
	case overlayDate:
		d, err := domain.ParseDate(value)
		if err != nil {
			v.status = "Enter the date as YYYY-MM-DD"
			return nil
		}
		return v.run("set date", func(ctx context.Context) error { return v.ctrl.SetDate(ctx, d) })
	case overlayQuantity:
		v.ctrl.SetInput(target, value)
		return v.run("submit", func(ctx context.Context) error {
			_, err := v.ctrl.Submit(ctx, target)
			return err
		})
	case overlayRemarks:
		v.ctrl.SetRemarks(target, value)
		v.snapshot = v.ctrl.View()
	case overlayUsage:
		return v.run("record usage", func(ctx context.Context) error {
			return v.ctrl.RecordUsage(ctx, target, value, "")
		})
	case overlayFrom, overlayTo:
		d, err := domain.ParseDate(value)
		if err != nil {
			v.status = "Enter the date as YYYY-MM-DD"
			return nil
		}
		from, to := v.snapshot.From, v.snapshot.To
		if current == overlayFrom {
			from = d
		} else {
			to = d
		}
		v.ctrl.SetRange(from, to)
		v.snapshot = v.ctrl.View()
	}
	return nil
}

func (v *domainView) choose(o overlay, opt domain.Option) tea.Cmd {
	v.cursor = 0
	switch o {
	case overlayCompany:
		return v.run("select company", func(ctx context.Context) error { return v.ctrl.SelectCompany(ctx, opt.ID) })
	case overlayProject:
		if err := v.ctrl.SelectProject(opt.ID); err != nil {
			v.err = err
		}
		v.snapshot = v.ctrl.View()
		return nil
	case overlaySite:
		return v.run("select site", func(ctx context.Context) error { return v.ctrl.SelectSite(ctx, opt.ID) })
	case overlayWorkDescription:
		id := opt.ID
		return v.run("select work description", func(ctx context.Context) error { return v.ctrl.SelectWorkDescription(ctx, &id) })
	case overlayCategory:
		v.ctrl.SetCategory(opt.ID.String())
		v.snapshot = v.ctrl.View()
	}
	return nil
}

// View renders the chain, the grouped rows and the open overlay.
func (v *domainView) View() string {
	snap := v.snapshot
	var b strings.Builder
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).Render(snap.Info.Name)
	b.WriteString(title)
	if snap.Busy {
		b.WriteString(detailTextStyle.Render("  loading…"))
	}
	b.WriteString("\n")
	b.WriteString(detailTextStyle.Render(v.filterLine()))
	b.WriteString("\n\n")

	rows := 0
	for _, section := range snap.Sections {
		b.WriteString(sectionStyle.Render(section.Category))
		b.WriteString("\n")
		for _, row := range section.Rows {
			b.WriteString(v.renderRow(row, rows == v.cursor))
			b.WriteString("\n")
			rows++
		}
	}
	if rows == 0 {
		b.WriteString(detailTextStyle.Render(v.emptyHint()))
		b.WriteString("\n")
	}
	if o := v.renderOverlay(); o != "" {
		b.WriteString("\n")
		b.WriteString(o)
		b.WriteString("\n")
	}
	if v.err != nil {
		b.WriteString(statusStyleExceeded.Render("⚠ " + v.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(detailTextStyle.Render(v.hints()))
	return b.String()
}

func (v *domainView) filterLine() string {
	snap := v.snapshot
	parts := []string{"Date: " + snap.State.Date.String()}
	if snap.State.WorkDescription != nil {
		parts = append(parts, "Work: "+snap.State.WorkDescription.Name)
	}
	if snap.Category != "" {
		parts = append(parts, "Category: "+snap.Category)
	}
	if snap.Query != "" {
		parts = append(parts, fmt.Sprintf("Search: %q", snap.Query))
	}
	if v.isAssigner() {
		parts = append(parts, fmt.Sprintf("Range: %s → %s", snap.From, snap.To), fmt.Sprintf("%d selected", snap.Selected))
	}
	return strings.Join(parts, " · ")
}

func (v *domainView) emptyHint() string {
	state := v.snapshot.State
	switch {
	case state.Company == nil:
		return "Press c to choose a company."
	case state.Project == nil:
		return "Press p to choose a project."
	case state.Site == nil:
		return "Press s to choose a site."
	default:
		return "No items match."
	}
}

func (v *domainView) renderRow(row cascade.Row, selected bool) string {
	marker := "  "
	if selected {
		marker = cursorStyle.Render("▸ ")
	}
	if v.isAssigner() {
		box := "[ ]"
		if row.Selected {
			box = "[x]"
		}
		return fmt.Sprintf("%s%s %s", marker, box, row.Item.Label())
	}
	parts := []string{row.Item.Label()}
	if row.Item.Unit != "" {
		parts = append(parts, row.Item.Unit)
	}
	if !row.Item.POQuantity.IsZero() {
		parts = append(parts, "PO "+row.Item.POQuantity.String())
	}
	if !row.Item.Completed.IsZero() {
		parts = append(parts, "done "+row.Item.Completed.String())
	}
	if row.HasHistory {
		parts = append(parts, fmt.Sprintf("%d entr%s (%s)", len(row.History.Entries), plural(len(row.History.Entries)), row.History.Cumulative.String()))
		if row.History.Fallback {
			parts = append(parts, "history unavailable")
		}
	}
	line := marker + strings.Join(parts, " · ")
	if row.Status != "" {
		line += "  " + statusStyle(row.Status).Render(string(row.Status))
	}
	if row.Input != "" {
		line += detailTextStyle.Render("  pending " + row.Input)
	}
	if row.Remarks != "" {
		line += detailTextStyle.Render("  “" + row.Remarks + "”")
	}
	return line
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func statusStyle(s module.Status) lipgloss.Style {
	switch s {
	case module.StatusCompleted, module.StatusAcknowledged:
		return statusStyleCompleted
	case module.StatusInProgress:
		return statusStyleProgress
	case module.StatusExceeded:
		return statusStyleExceeded
	default:
		return statusStylePending
	}
}

func (v *domainView) renderOverlay() string {
	info := v.ctrl.Info()
	switch v.overlay {
	case overlayNone:
		return ""
	case overlayCompany, overlayProject, overlaySite, overlayWorkDescription, overlayCategory:
		body := lipgloss.JoinVertical(lipgloss.Left,
			cursorStyle.Render(v.overlay.title(info)),
			v.input.View(),
			v.picker.View(),
			detailTextStyle.Render("Enter → choose    Esc → cancel"),
		)
		return overlayStyle.Render(body)
	case overlaySearch, overlayDate, overlayQuantity, overlayRemarks, overlayUsage, overlayFrom, overlayTo:
		heading := v.overlay.title(info)
		if v.target != "" {
			if item, ok := v.snapshot.State.FindItem(v.target); ok {
				heading += " · " + item.Label()
			}
		}
		body := lipgloss.JoinVertical(lipgloss.Left,
			cursorStyle.Render(heading),
			v.input.View(),
			detailTextStyle.Render("Enter → confirm    Esc → cancel"),
		)
		return overlayStyle.Render(body)
	default:
		return ""
	}
}

func (v *domainView) hints() string {
	keys := []string{"c/p/s company·project·site", "w work", "x clear work", "g category", "/ search", "d date", "r refresh"}
	switch {
	case v.isAssigner():
		keys = append(keys, "space toggle", "f/t range", "a assign")
	default:
		keys = append(keys, "enter "+strings.ToLower(v.overlayLabel()), "m remarks")
		if _, ok := v.ctrl.Module().(module.UsageRecorder); ok {
			keys = append(keys, "u usage")
		}
	}
	keys = append(keys, "esc menu")
	return strings.Join(keys, "  ")
}

func (v *domainView) overlayLabel() string {
	return overlayQuantity.title(v.ctrl.Info())
}

// summary is the right-hand panel: the active chain at a glance.
func (v *domainView) summary() []string {
	state := v.snapshot.State
	name := func(set bool, value string) string {
		if !set {
			return "-"
		}
		return value
	}
	lines := []string{
		"Company: " + name(state.Company != nil, companyName(state)),
		"Project: " + name(state.Project != nil, projectName(state)),
		"Site:    " + name(state.Site != nil, siteLabel(state)),
	}
	total := len(v.snapshot.Rows())
	lines = append(lines, fmt.Sprintf("Items:   %d of %d", total, len(state.Items)))
	return lines
}

func companyName(s selection.State) string {
	if s.Company == nil {
		return ""
	}
	return s.Company.Name
}

func projectName(s selection.State) string {
	if s.Project == nil {
		return ""
	}
	return s.Project.Name
}

func siteLabel(s selection.State) string {
	if s.Site == nil {
		return ""
	}
	return s.Site.Label()
}
