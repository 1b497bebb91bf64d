// Package cascade drives one field domain through the company → project →
// site → work description → date chain.
//
// Every operation follows the same shape: under the lock, mutate the chain
// and take a ticket; release the lock for the network round trip; retake it
// and apply the result only if the ticket is still current. The TUI calls
// these from tea.Cmds, so several may be in flight at once.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/fieldops/internal/api"
	"github.com/kingrea/fieldops/internal/domain"
	"github.com/kingrea/fieldops/internal/filter"
	"github.com/kingrea/fieldops/internal/history"
	"github.com/kingrea/fieldops/internal/module"
	"github.com/kingrea/fieldops/internal/selection"
	"github.com/kingrea/fieldops/internal/upsert"
)

// ErrStale is returned when a fetch finished after its selection had
// already been superseded; its result was dropped.
var ErrStale = errors.New("cascade: selection changed before the response arrived")

// ErrNotSupported is returned for operations the active domain lacks.
var ErrNotSupported = errors.New("cascade: not supported by this domain")

// ErrSaveInProgress is returned when an item already has a submission in
// flight.
var ErrSaveInProgress = errors.New("cascade: save already in progress for this item")

// NoticeLevel classifies a user-facing notice.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeSuccess
	NoticeError
)

// Notice is a toast for the user.
type Notice struct {
	Level   NoticeLevel
	Message string
}

// Options configures a Controller.
type Options struct {
	Client      *api.Client
	Module      module.Module
	HistoryMode history.Mode
	Rules       upsert.Rules
	// UserID resolves the signed-in user for write payloads.
	UserID func() (int64, error)
	Notify func(Notice)
	Log    logrus.FieldLogger
	Today  func() domain.Date
}

// Controller owns the selection state of one field domain.
type Controller struct {
	client  *api.Client
	mod     module.Module
	tracker module.Tracker
	agg     *history.Aggregator
	flow    *upsert.Flow
	userID  func() (int64, error)
	notify  func(Notice)
	log     logrus.FieldLogger

	mu       sync.Mutex
	chain    *selection.Chain
	inputs   map[domain.ID]string
	remarks  map[domain.ID]string
	query    string
	category string
	labours  map[domain.ID]bool
	saving   map[domain.ID]bool
	from     domain.Date
	to       domain.Date
	busy     int
}

// New builds a controller for opts.Module.
func New(opts Options) (*Controller, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("cascade: api client is required")
	}
	if opts.Module == nil {
		return nil, fmt.Errorf("cascade: module is required")
	}
	log := opts.Log
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	log = log.WithField("domain", opts.Module.Info().ID)
	mode := opts.HistoryMode
	if mode == "" {
		mode = history.ModeExactDate
	}
	today := domain.Today
	if opts.Today != nil {
		today = opts.Today
	}
	notify := opts.Notify
	if notify == nil {
		notify = func(Notice) {}
	}
	userID := opts.UserID
	if userID == nil {
		userID = func() (int64, error) { return 0, errors.New("not signed in") }
	}
	c := &Controller{
		client:  opts.Client,
		mod:     opts.Module,
		agg:     history.NewAggregator(mode, log),
		userID:  userID,
		notify:  notify,
		log:     log,
		chain:   selection.New(today()),
		inputs:  map[domain.ID]string{},
		remarks: map[domain.ID]string{},
		labours: map[domain.ID]bool{},
		saving:  map[domain.ID]bool{},
		from:    today(),
		to:      today(),
	}
	if tracker, ok := opts.Module.(module.Tracker); ok {
		c.tracker = tracker
		c.flow = upsert.NewFlow(opts.Module.Info().WriteMode, opts.Rules, tracker, c.reloadItem, log)
	}
	return c, nil
}

// Info returns the active domain's description.
func (c *Controller) Info() module.Info { return c.mod.Info() }

// Module returns the active domain.
func (c *Controller) Module() module.Module { return c.mod }

// Open runs the domain's entry hook and loads the companies.
func (c *Controller) Open(ctx context.Context) error {
	if opener, ok := c.mod.(module.Opener); ok {
		// Failure is logged by the domain and never blocks entry.
		_ = opener.Open(ctx)
	}
	return c.LoadCompanies(ctx)
}

// LoadCompanies (re)loads the company list and resets the chain.
func (c *Controller) LoadCompanies(ctx context.Context) error {
	c.mu.Lock()
	ticket := c.chain.ResetCompanies()
	c.resetInputsLocked()
	c.busy++
	c.mu.Unlock()

	companies, err := c.client.Companies(ctx)

	c.mu.Lock()
	c.busy--
	applied := c.chain.ApplyCompanies(ticket, companies)
	c.mu.Unlock()
	if !applied {
		return ErrStale
	}
	if err != nil {
		c.fail(err, "fetch companies")
		return err
	}
	return nil
}

// SelectCompany selects a fetched company and loads its projects.
func (c *Controller) SelectCompany(ctx context.Context, id domain.ID) error {
	c.mu.Lock()
	company, ok := c.chain.Snapshot().FindCompany(id)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("cascade: unknown company %s", id)
	}
	ticket := c.chain.SelectCompany(company)
	c.resetInputsLocked()
	c.busy++
	c.mu.Unlock()

	projects, err := c.client.Projects(ctx, company.ID)

	c.mu.Lock()
	c.busy--
	applied := c.chain.ApplyProjects(ticket, projects)
	c.mu.Unlock()
	if !applied {
		return ErrStale
	}
	if err != nil {
		c.fail(err, "fetch projects")
		return err
	}
	return nil
}

// SelectProject selects a project; its sites come inline, so there is no
// fetch.
func (c *Controller) SelectProject(id domain.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	project, ok := c.chain.Snapshot().FindProject(id)
	if !ok {
		return fmt.Errorf("cascade: unknown project %s", id)
	}
	c.chain.SelectProject(project)
	c.resetInputsLocked()
	return nil
}

// SelectSite selects a site, loads its work descriptions and items in
// parallel, then loads history for the items.
func (c *Controller) SelectSite(ctx context.Context, id domain.ID) error {
	c.mu.Lock()
	state := c.chain.Snapshot()
	site, ok := state.FindSite(id)
	if !ok || state.Project == nil {
		c.mu.Unlock()
		return fmt.Errorf("cascade: unknown site %s", id)
	}
	scope := module.Scope{Project: *state.Project, Site: site}
	if state.Company != nil {
		scope.Company = *state.Company
	}
	ticket := c.chain.SelectSite(site)
	c.resetInputsLocked()
	c.busy++
	c.mu.Unlock()

	var (
		descs            []domain.WorkDescription
		items            []domain.LeafItem
		descErr, itemErr error
		g                errgroup.Group
	)
	g.Go(func() error {
		descs, descErr = c.mod.WorkDescriptions(ctx, scope)
		return nil
	})
	g.Go(func() error {
		items, itemErr = c.mod.Items(ctx, scope)
		return nil
	})
	_ = g.Wait()
	if descs == nil {
		descs = []domain.WorkDescription{}
	}
	if items == nil {
		items = []domain.LeafItem{}
	}

	c.mu.Lock()
	c.busy--
	applied := c.chain.ApplySiteData(ticket, descs, items)
	historyTicket := c.chain.HistoryTicket()
	c.mu.Unlock()
	if !applied {
		return ErrStale
	}
	if descErr != nil {
		c.fail(descErr, "fetch work descriptions")
	}
	if itemErr != nil {
		c.fail(itemErr, "fetch items")
		return errors.Join(descErr, itemErr)
	}
	return errors.Join(descErr, c.loadHistory(ctx, historyTicket))
}

// SelectWorkDescription narrows the items to desc (nil clears it) and
// reloads history for the narrowed set.
func (c *Controller) SelectWorkDescription(ctx context.Context, id *domain.ID) error {
	c.mu.Lock()
	var desc *domain.WorkDescription
	if id != nil {
		found, ok := c.chain.Snapshot().FindWorkDescription(*id)
		if !ok {
			c.mu.Unlock()
			return fmt.Errorf("cascade: unknown work description %s", *id)
		}
		desc = &found
	}
	ticket := c.chain.SelectWorkDescription(desc)
	c.mu.Unlock()
	return c.loadHistory(ctx, ticket)
}

// SetDate changes the as-of date, discards pending inputs and reloads
// history.
func (c *Controller) SetDate(ctx context.Context, d domain.Date) error {
	if d.IsZero() {
		return &upsert.ValidationError{Field: "Date", Message: "Select a date"}
	}
	c.mu.Lock()
	ticket := c.chain.SelectDate(d)
	c.inputs = map[domain.ID]string{}
	c.remarks = map[domain.ID]string{}
	c.mu.Unlock()
	return c.loadHistory(ctx, ticket)
}

// RefreshHistory reloads history for the active items without changing
// the selection.
func (c *Controller) RefreshHistory(ctx context.Context) error {
	c.mu.Lock()
	ticket := c.chain.HistoryTicket()
	c.mu.Unlock()
	return c.loadHistory(ctx, ticket)
}

func (c *Controller) loadHistory(ctx context.Context, ticket selection.Ticket) error {
	if c.tracker == nil {
		return nil
	}
	c.mu.Lock()
	state := c.chain.Snapshot()
	items := filter.ByWorkDescription(state.Items, c.narrowing(state.WorkDescription))
	c.busy++
	c.mu.Unlock()

	var res history.Result
	if len(items) > 0 {
		res = c.agg.Load(ctx, items, state.Date, c.tracker.History, c.tracker.Fallback)
	}

	c.mu.Lock()
	c.busy--
	applied := c.chain.ApplyHistory(ticket, res.History)
	c.mu.Unlock()
	if !applied {
		return ErrStale
	}
	if n := len(res.Failed); n > 0 {
		c.notify(Notice{Level: NoticeInfo, Message: fmt.Sprintf("History unavailable for %d of %d items", n, len(items))})
	}
	return nil
}

func (c *Controller) reloadItem(ctx context.Context, item domain.LeafItem, date domain.Date) (domain.History, error) {
	return c.agg.LoadOne(ctx, item, date, c.tracker.History, c.tracker.Fallback)
}

// SetInput records the pending input for an item.
func (c *Controller) SetInput(id domain.ID, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value == "" {
		delete(c.inputs, id)
		return
	}
	c.inputs[id] = value
}

// SetRemarks records the pending remarks for an item.
func (c *Controller) SetRemarks(id domain.ID, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value == "" {
		delete(c.remarks, id)
		return
	}
	c.remarks[id] = value
}

// SetQuery sets the free-text filter.
func (c *Controller) SetQuery(q string) {
	c.mu.Lock()
	c.query = q
	c.mu.Unlock()
}

// SetCategory sets the category filter; "" shows every category.
func (c *Controller) SetCategory(category string) {
	c.mu.Lock()
	c.category = category
	c.mu.Unlock()
}

// Submit saves the pending input of one item: one write, then a point
// re-fetch of that item. On failure the input is kept for a retry. Only one
// submission per item runs at a time; a second is refused with
// ErrSaveInProgress.
func (c *Controller) Submit(ctx context.Context, id domain.ID) (upsert.Outcome, error) {
	if c.flow == nil {
		return upsert.Outcome{}, ErrNotSupported
	}
	c.mu.Lock()
	state := c.chain.Snapshot()
	item, ok := state.FindItem(id)
	if !ok {
		c.mu.Unlock()
		return upsert.Outcome{}, fmt.Errorf("cascade: unknown item %s", id)
	}
	if c.saving[id] {
		c.mu.Unlock()
		c.notify(Notice{Level: NoticeInfo, Message: "Save in progress for " + itemLabel(item)})
		return upsert.Outcome{}, ErrSaveInProgress
	}
	c.saving[id] = true
	req := upsert.Request{
		Item:    item,
		Input:   c.inputs[id],
		Remarks: c.remarks[id],
		Date:    state.Date,
	}
	existing := state.History[id]
	historyTicket := c.chain.HistoryTicket()
	siteTicket := c.chain.Ticket(selection.LevelWorkDescription)
	c.busy++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.busy--
		delete(c.saving, id)
		c.mu.Unlock()
	}()

	userID, err := c.userID()
	if err != nil {
		verr := &upsert.ValidationError{Field: "UserID", Message: "Sign in before saving"}
		c.notify(Notice{Level: NoticeError, Message: verr.Message})
		return upsert.Outcome{}, verr
	}
	req.UserID = userID

	out, err := c.flow.Submit(ctx, req, existing)
	if err != nil {
		switch {
		case upsert.IsValidation(err):
			c.notify(Notice{Level: NoticeError, Message: err.Error()})
		case errors.Is(err, upsert.ErrRecordUnknown):
			c.notify(Notice{Level: NoticeError, Message: "Could not check for an existing record - try again"})
		default:
			c.notify(Notice{Level: NoticeError, Message: api.UserMessage(err, "save entry")})
		}
		return upsert.Outcome{}, err
	}

	c.mu.Lock()
	delete(c.inputs, id)
	delete(c.remarks, id)
	if out.ReloadErr == nil || out.History.Written {
		c.chain.ApplyItemHistory(historyTicket, id, out.History)
	}
	if c.mod.Info().WriteMode == upsert.ModeAppend {
		c.bookLocally(siteTicket, out.Entry)
	}
	c.mu.Unlock()

	msg := "Entry saved"
	if out.Updated {
		msg = "Entry updated"
	}
	c.notify(Notice{Level: NoticeSuccess, Message: fmt.Sprintf("%s for %s", msg, itemLabel(item))})
	return out, nil
}

// bookLocally adds a saved append-mode entry to the item's running totals
// so the list reflects it without refetching the whole site.
func (c *Controller) bookLocally(ticket selection.Ticket, e upsert.Entry) {
	state := c.chain.Snapshot()
	items := make([]domain.LeafItem, len(state.Items))
	copy(items, state.Items)
	for i := range items {
		if items[i].ID == e.Item.ID {
			items[i].Completed = items[i].Completed.Add(e.Quantity)
			items[i].CompletedValue = items[i].CompletedValue.Add(e.Value)
		}
	}
	c.chain.ReplaceItems(ticket, items)
}

// RecordUsage reports consumption of an item on the selected date.
func (c *Controller) RecordUsage(ctx context.Context, id domain.ID, quantity, remarks string) error {
	recorder, ok := c.mod.(module.UsageRecorder)
	if !ok {
		return ErrNotSupported
	}
	c.mu.Lock()
	state := c.chain.Snapshot()
	item, found := state.FindItem(id)
	c.mu.Unlock()
	if !found {
		return fmt.Errorf("cascade: unknown item %s", id)
	}
	userID, err := c.userID()
	if err != nil {
		userID = 0
	}
	err = recorder.RecordUsage(ctx, module.Usage{
		Item:     item,
		Quantity: quantity,
		Remarks:  remarks,
		Date:     state.Date,
		UserID:   userID,
	})
	if err != nil {
		c.failOrInvalid(err, "record usage")
		return err
	}
	c.notify(Notice{Level: NoticeSuccess, Message: "Usage recorded for " + itemLabel(item)})
	return nil
}

// ToggleLabour adds or removes a labourer from the pending assignment.
func (c *Controller) ToggleLabour(id domain.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.labours[id] {
		delete(c.labours, id)
		return
	}
	c.labours[id] = true
}

// SetRange sets the assignment date range.
func (c *Controller) SetRange(from, to domain.Date) {
	c.mu.Lock()
	c.from, c.to = from, to
	c.mu.Unlock()
}

// Assign saves the pending labour assignment. On success the work
// description and labourer selections are cleared.
func (c *Controller) Assign(ctx context.Context) error {
	assigner, ok := c.mod.(module.Assigner)
	if !ok {
		return ErrNotSupported
	}
	c.mu.Lock()
	state := c.chain.Snapshot()
	a := module.Assignment{From: c.from, To: c.to}
	if state.Project != nil {
		a.ProjectID = state.Project.ID
	}
	if state.Site != nil {
		a.SiteID = state.Site.ID
	}
	if state.WorkDescription != nil {
		a.DescID = state.WorkDescription.ID
	}
	for _, item := range state.Items {
		if c.labours[item.ID] {
			a.LabourIDs = append(a.LabourIDs, item.ID)
		}
	}
	c.mu.Unlock()

	if userID, err := c.userID(); err == nil {
		a.UserID = userID
	}
	if err := assigner.Assign(ctx, a); err != nil {
		c.failOrInvalid(err, "save assignment")
		return err
	}

	c.mu.Lock()
	c.chain.SelectWorkDescription(nil)
	c.labours = map[domain.ID]bool{}
	c.mu.Unlock()
	c.notify(Notice{Level: NoticeSuccess, Message: fmt.Sprintf("Assigned %d labourers", len(a.LabourIDs))})
	return nil
}

// narrowing returns the work description items are filtered by, or nil
// when the domain's items are not scoped by one.
func (c *Controller) narrowing(desc *domain.WorkDescription) *domain.WorkDescription {
	if c.mod.Info().UnscopedItems {
		return nil
	}
	return desc
}

func (c *Controller) resetInputsLocked() {
	c.inputs = map[domain.ID]string{}
	c.remarks = map[domain.ID]string{}
	c.labours = map[domain.ID]bool{}
	c.category = ""
}

func (c *Controller) fail(err error, action string) {
	c.log.WithError(err).WithField("action", action).Error("request failed")
	c.notify(Notice{Level: NoticeError, Message: api.UserMessage(err, action)})
}

func (c *Controller) failOrInvalid(err error, action string) {
	if upsert.IsValidation(err) {
		c.notify(Notice{Level: NoticeError, Message: err.Error()})
		return
	}
	c.fail(err, action)
}

func itemLabel(item domain.LeafItem) string {
	if label := strings.TrimSpace(item.Label()); label != "" {
		return label
	}
	return "item " + item.ID.String()
}
