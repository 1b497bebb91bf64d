// internal/tui/app.go
//
// This is the main TUI (Terminal User Interface) for the field client.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// The flow is: User Input -> Message -> Update -> New Model -> View -> Screen

package tui

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/kingrea/fieldops/internal/api"
	"github.com/kingrea/fieldops/internal/cascade"
	"github.com/kingrea/fieldops/internal/config"
	"github.com/kingrea/fieldops/internal/domain"
	"github.com/kingrea/fieldops/internal/logbook"
	"github.com/kingrea/fieldops/internal/module"
	"github.com/kingrea/fieldops/internal/modules"
	"github.com/kingrea/fieldops/internal/session"
)

// appState represents which "screen" we're on
type appState int

const (
	stateMainMenu appState = iota // Domain picker
	stateDomain                   // Working inside one field domain
)

const logPanelLines = 6

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithRegistry overrides the built-in field domains.
func WithRegistry(reg *module.Registry) AppOption {
	return func(a *App) {
		if reg != nil {
			a.registry = reg
		}
	}
}

// WithLogbook sets the toast journal shown in the log panel.
func WithLogbook(lb *logbook.Logbook) AppOption {
	return func(a *App) {
		a.logbook = lb
	}
}

// WithLogger sets the diagnostic logger handed to the domains.
func WithLogger(log logrus.FieldLogger) AppOption {
	return func(a *App) {
		if log != nil {
			a.log = log
		}
	}
}

// WithUserID sets how the signed-in user is resolved for writes.
func WithUserID(fn func() (int64, error)) AppOption {
	return func(a *App) {
		if fn != nil {
			a.userID = fn
		}
	}
}

// WithClock overrides "today" for the date pickers.
func WithClock(today func() domain.Date) AppOption {
	return func(a *App) {
		if today != nil {
			a.today = today
		}
	}
}

// WithInitialDomain opens id straight away instead of the menu.
func WithInitialDomain(id string) AppOption {
	return func(a *App) {
		a.initialDomain = strings.TrimSpace(id)
	}
}

// App is the main application model. In bubbletea, this holds ALL your state.
type App struct {
	state    appState
	config   *config.Config
	client   *api.Client
	registry *module.Registry
	domains  []module.Module
	logbook  *logbook.Logbook
	log      logrus.FieldLogger
	userID   func() (int64, error)
	today    func() domain.Date

	initialDomain string
	domainView    *domainView

	// UI components
	mainMenu  list.Model // The main menu list
	statusMsg string     // Status message to display

	// Window size (we get this from bubbletea)
	width  int
	height int
}

// menuItem implements list.Item interface for our menu items
type menuItem struct {
	id    string
	title string
	desc  string
}

func (i menuItem) Title() string       { return i.title }
func (i menuItem) Description() string { return i.desc }
func (i menuItem) FilterValue() string { return i.title }

// NewApp creates a new App instance
func NewApp(cfg *config.Config, client *api.Client, opts ...AppOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("tui: config is required")
	}
	if client == nil {
		return nil, fmt.Errorf("tui: api client is required")
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	app := &App{
		state:  stateMainMenu,
		config: cfg,
		client: client,
		log:    discard,
		userID: func() (int64, error) { return 0, session.ErrNotSignedIn },
		today:  domain.Today,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	if app.registry == nil {
		app.registry = module.NewRegistry()
		modules.RegisterBuiltins(app.registry)
	}
	domains, err := app.registry.ResolveAll(module.NewDeps(client, app.log))
	if err != nil {
		return nil, err
	}
	app.domains = domains

	mainMenu := list.New(buildMainMenu(domains), list.NewDefaultDelegate(), 0, 0)
	mainMenu.Title = "⬡ FIELD OPS"
	mainMenu.SetShowStatusBar(false)
	mainMenu.SetFilteringEnabled(false)
	app.mainMenu = mainMenu
	if idx := app.menuIndex(cfg.DefaultDomain()); idx >= 0 {
		app.mainMenu.Select(idx)
	}
	app.logInfo("Session opened · %d domains", len(domains))
	return app, nil
}

// buildMainMenu lists the field domains in registration order.
func buildMainMenu(domains []module.Module) []list.Item {
	items := make([]list.Item, 0, len(domains)+1)
	for _, mod := range domains {
		info := mod.Info()
		items = append(items, menuItem{id: info.ID, title: info.Name, desc: info.Description})
	}
	items = append(items, menuItem{title: "Exit", desc: "Quit the field client"})
	return items
}

func (a *App) menuIndex(id string) int {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return -1
	}
	for idx, item := range a.mainMenu.Items() {
		if mi, ok := item.(menuItem); ok && mi.id == id {
			return idx
		}
	}
	return -1
}

func (a *App) findDomain(id string) (module.Module, bool) {
	for _, mod := range a.domains {
		if strings.EqualFold(mod.Info().ID, id) {
			return mod, true
		}
	}
	return nil, false
}

func (a *App) logInfo(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Info(format, args...)
}

func (a *App) logError(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Error(format, args...)
}

// journal records a controller notice. It is called from command
// goroutines and only touches the logbook.
func (a *App) journal(n cascade.Notice) {
	if a.logbook == nil {
		return
	}
	switch n.Level {
	case cascade.NoticeSuccess:
		a.logbook.Success("%s", n.Message)
	case cascade.NoticeError:
		a.logbook.Error("%s", n.Message)
	default:
		a.logbook.Info("%s", n.Message)
	}
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	if a.initialDomain == "" {
		return nil
	}
	_, cmd := a.openDomain(a.initialDomain)
	return cmd
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.mainMenu.SetSize(max(0, msg.Width-6), max(0, msg.Height-10))
		if a.domainView != nil {
			return a, a.domainView.Update(msg)
		}
		return a, nil

	case domainOpenedMsg:
		if a.domainView == nil || msg.view != a.domainView {
			return a, nil
		}
		return a, a.domainView.Update(msg)

	case actionDoneMsg:
		if a.domainView == nil || msg.view != a.domainView {
			return a, nil
		}
		return a, a.domainView.Update(msg)

	case tea.KeyMsg:
		key := msg.String()
		switch key {
		case "ctrl+c":
			return a, tea.Quit
		case "q":
			if a.state == stateMainMenu {
				return a, tea.Quit
			}
		case "esc":
			if a.state == stateDomain && a.domainView != nil && a.domainView.overlay == overlayNone {
				return a.returnToMainMenu()
			}
		case "enter":
			if a.state == stateMainMenu {
				return a.handleMainMenuSelection()
			}
		}
	}

	var cmds []tea.Cmd
	switch a.state {
	case stateMainMenu:
		var menuCmd tea.Cmd
		a.mainMenu, menuCmd = a.mainMenu.Update(msg)
		if menuCmd != nil {
			cmds = append(cmds, menuCmd)
		}
	case stateDomain:
		if a.domainView != nil {
			if cmd := a.domainView.Update(msg); cmd != nil {
				cmds = append(cmds, cmd)
			}
		}
	}

	return a, tea.Batch(cmds...)
}

// handleMainMenuSelection processes menu item selection
func (a *App) handleMainMenuSelection() (tea.Model, tea.Cmd) {
	item, ok := a.mainMenu.SelectedItem().(menuItem)
	if !ok {
		return a, nil
	}
	if item.id == "" {
		a.logInfo("Menu · Exit selected")
		return a, tea.Quit
	}
	a.logInfo("Menu · %s selected", item.title)
	if err := a.config.SetDefaultDomain(item.id); err != nil {
		a.log.WithError(err).Warn("could not persist default domain")
	}
	return a.openDomain(item.id)
}

func (a *App) openDomain(id string) (tea.Model, tea.Cmd) {
	mod, ok := a.findDomain(id)
	if !ok {
		a.statusMsg = fmt.Sprintf("Unknown domain %q", id)
		a.logError("Unknown domain %q", id)
		return a, nil
	}
	view, err := newDomainView(a, mod)
	if err != nil {
		a.statusMsg = fmt.Sprintf("Could not open %s: %v", mod.Info().Name, err)
		a.logError("Could not open %s: %v", mod.Info().Name, err)
		return a, nil
	}
	if a.width > 0 && a.height > 0 {
		view.Update(tea.WindowSizeMsg{Width: a.width, Height: a.height})
	}
	a.state = stateDomain
	a.domainView = view
	a.statusMsg = fmt.Sprintf("Opening %s…", mod.Info().Name)
	return a, view.Init()
}

// returnToMainMenu transitions back to the main menu
func (a *App) returnToMainMenu() (tea.Model, tea.Cmd) {
	if a.domainView != nil {
		a.domainView.Close()
		a.logInfo("Closed %s", a.domainView.ctrl.Info().Name)
	}
	a.state = stateMainMenu
	a.domainView = nil
	a.statusMsg = ""
	return a, nil
}

// View renders the current state to a string.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	rightWidth := max(32, width/3)
	leftWidth := width - rightWidth - 4
	if leftWidth < 40 {
		leftWidth = width - 4
	}
	if leftWidth < 20 {
		leftWidth = width
		rightWidth = 0
	}
	var content string
	switch a.state {
	case stateMainMenu:
		a.mainMenu.SetSize(max(20, leftWidth-4), max(10, a.height-10))
		content = a.mainMenu.View()
	case stateDomain:
		if a.domainView != nil {
			content = a.domainView.View()
		} else {
			content = "Loading…"
		}
	}
	return a.renderStatusBoard(content, leftWidth, rightWidth)
}

func (a *App) status() string {
	if a.state == stateDomain && a.domainView != nil && a.domainView.status != "" {
		return a.domainView.status
	}
	return a.statusMsg
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, total := a.logbook.Tail(logPanelLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s (%d)", fileName, total))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
	return box
}

func (a *App) renderStatusBoard(mainContent string, leftWidth, rightWidth int) string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ FIELD OPS")
	leftBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Width(max(20, leftWidth)).
		Render(a.renderMainArea(mainContent, leftWidth-4))
	var body string
	if rightWidth > 0 {
		rightBox := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1).
			Width(max(20, rightWidth)).
			Render(a.renderSelectionPanel(rightWidth - 4))
		body = lipgloss.JoinHorizontal(lipgloss.Top, leftBox, rightBox)
	} else {
		body = leftBox
	}
	sections := []string{header, body}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.status())
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) renderMainArea(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		content = "Choose a domain to begin."
	}
	return lipgloss.NewStyle().Width(max(20, width)).Render(content)
}

func (a *App) renderSelectionPanel(width int) string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render("Selection")
	var lines []string
	if a.state == stateDomain && a.domainView != nil {
		lines = a.domainView.summary()
	} else {
		lines = []string{
			fmt.Sprintf("Backend: %s", a.client.BaseURL()),
			fmt.Sprintf("History: %s", a.config.HistoryMode()),
		}
	}
	body := lipgloss.NewStyle().Width(max(20, width)).Render(strings.Join(lines, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}
