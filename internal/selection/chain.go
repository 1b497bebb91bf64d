// Package selection holds the company → project → site → work description
// → date chain and the collections fetched for it.
//
// Changing level k clears every selection and collection below k. Every
// level carries a generation; changing level k bumps the generation of k and
// of everything below it. Fetches capture a Ticket for the level that owns
// their result, and Apply* refuses a ticket whose generation has moved on, so
// a response to a superseded selection can never overwrite newer state.
package selection

import (
	"fmt"

	"github.com/kingrea/fieldops/internal/domain"
)

// Level is a position in the chain.
type Level int

const (
	LevelCompany Level = iota
	LevelProject
	LevelSite
	LevelWorkDescription
	LevelDate
	levelCount
)

func (l Level) String() string {
	switch l {
	case LevelCompany:
		return "company"
	case LevelProject:
		return "project"
	case LevelSite:
		return "site"
	case LevelWorkDescription:
		return "work description"
	case LevelDate:
		return "date"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Ticket tags an in-flight fetch with the generation it was issued under.
type Ticket struct {
	Level Level
	Gen   uint64
}

// State is a snapshot of the chain.
type State struct {
	Company         *domain.Company
	Project         *domain.Project
	Site            *domain.Site
	WorkDescription *domain.WorkDescription
	Date            domain.Date

	Companies        []domain.Company
	Projects         []domain.Project
	Sites            []domain.Site
	WorkDescriptions []domain.WorkDescription
	Items            []domain.LeafItem
	History          map[domain.ID]domain.History
}

// Chain is not safe for concurrent use; callers serialize access.
type Chain struct {
	state State
	gens  [levelCount]uint64
}

// New returns an empty chain dated d.
func New(d domain.Date) *Chain {
	return &Chain{state: State{Date: d, History: map[domain.ID]domain.History{}}}
}

// Snapshot returns a copy of the current state. Slices are shared and must
// be treated as read-only; the history map is copied.
func (c *Chain) Snapshot() State {
	out := c.state
	out.History = make(map[domain.ID]domain.History, len(c.state.History))
	for k, v := range c.state.History {
		out.History[k] = v
	}
	return out
}

// Ticket returns a ticket for the current generation of level.
func (c *Chain) Ticket(level Level) Ticket {
	return Ticket{Level: level, Gen: c.gens[level]}
}

// Current reports whether t still matches its level's generation.
func (c *Chain) Current(t Ticket) bool {
	if t.Level < 0 || t.Level >= levelCount {
		return false
	}
	return c.gens[t.Level] == t.Gen
}

// Generation returns the generation of level.
func (c *Chain) Generation(level Level) uint64 {
	return c.gens[level]
}

func (c *Chain) bump(from Level) {
	for l := from; l < levelCount; l++ {
		c.gens[l]++
	}
}

// clearBelow resets every selection and collection derived from levels
// strictly below level.
func (c *Chain) clearBelow(level Level) {
	s := &c.state
	if level < LevelCompany {
		s.Company = nil
		s.Companies = nil
	}
	if level < LevelProject {
		s.Project = nil
		s.Projects = nil
	}
	if level < LevelSite {
		s.Site = nil
		s.Sites = nil
	}
	if level < LevelWorkDescription {
		s.WorkDescription = nil
		s.WorkDescriptions = nil
		s.Items = nil
	}
	s.History = map[domain.ID]domain.History{}
}

// ResetCompanies starts a fresh company fetch (initial load or pull to
// refresh) and clears the whole chain below it.
func (c *Chain) ResetCompanies() Ticket {
	c.bump(LevelCompany)
	c.state.Company = nil
	c.clearBelow(LevelCompany)
	c.state.Companies = nil
	return c.Ticket(LevelCompany)
}

// ApplyCompanies installs a company list fetched under t.
func (c *Chain) ApplyCompanies(t Ticket, companies []domain.Company) bool {
	if t.Level != LevelCompany || !c.Current(t) {
		return false
	}
	c.state.Companies = companies
	return true
}

// SelectCompany selects company and returns the ticket its project fetch
// must carry.
func (c *Chain) SelectCompany(company domain.Company) Ticket {
	c.bump(LevelProject)
	selected := company
	c.state.Company = &selected
	c.clearBelow(LevelCompany)
	return c.Ticket(LevelProject)
}

// ApplyProjects installs the projects fetched for the selected company.
func (c *Chain) ApplyProjects(t Ticket, projects []domain.Project) bool {
	if t.Level != LevelProject || !c.Current(t) {
		return false
	}
	c.state.Projects = projects
	return true
}

// SelectProject selects a project and fills the site list from its nested
// sites; no fetch is needed.
func (c *Chain) SelectProject(project domain.Project) {
	c.bump(LevelSite)
	selected := project
	c.state.Project = &selected
	c.clearBelow(LevelProject)
	sites := make([]domain.Site, len(project.Sites))
	copy(sites, project.Sites)
	c.state.Sites = sites
}

// SelectSite selects a site and returns the ticket its work description and
// item fetches must carry.
func (c *Chain) SelectSite(site domain.Site) Ticket {
	c.bump(LevelWorkDescription)
	selected := site
	c.state.Site = &selected
	c.clearBelow(LevelSite)
	return c.Ticket(LevelWorkDescription)
}

// ApplySiteData installs the work descriptions and items fetched for the
// selected site.
func (c *Chain) ApplySiteData(t Ticket, descs []domain.WorkDescription, items []domain.LeafItem) bool {
	if t.Level != LevelWorkDescription || !c.Current(t) {
		return false
	}
	c.state.WorkDescriptions = descs
	c.state.Items = items
	return true
}

// SelectWorkDescription narrows the active item set. Items are kept; only
// history (which belongs to the active set) is discarded. A nil desc clears
// the narrowing.
func (c *Chain) SelectWorkDescription(desc *domain.WorkDescription) Ticket {
	c.bump(LevelDate)
	if desc == nil {
		c.state.WorkDescription = nil
	} else {
		selected := *desc
		c.state.WorkDescription = &selected
	}
	c.state.History = map[domain.ID]domain.History{}
	return c.Ticket(LevelDate)
}

// SelectDate changes the as-of date and discards history for the old date.
func (c *Chain) SelectDate(d domain.Date) Ticket {
	c.bump(LevelDate)
	c.state.Date = d
	c.state.History = map[domain.ID]domain.History{}
	return c.Ticket(LevelDate)
}

// HistoryTicket returns a ticket for (re)loading history under the current
// selection without changing it.
func (c *Chain) HistoryTicket() Ticket {
	return c.Ticket(LevelDate)
}

// ApplyHistory replaces the history map.
func (c *Chain) ApplyHistory(t Ticket, history map[domain.ID]domain.History) bool {
	if t.Level != LevelDate || !c.Current(t) {
		return false
	}
	next := make(map[domain.ID]domain.History, len(history))
	for k, v := range history {
		next[k] = v
	}
	c.state.History = next
	return true
}

// ApplyItemHistory replaces the history of a single item.
func (c *Chain) ApplyItemHistory(t Ticket, id domain.ID, h domain.History) bool {
	if t.Level != LevelDate || !c.Current(t) {
		return false
	}
	if c.state.History == nil {
		c.state.History = map[domain.ID]domain.History{}
	}
	c.state.History[id] = h
	return true
}

// ReplaceItems swaps the site's item list (after a write changed server-side
// totals) without touching selections. History is kept.
func (c *Chain) ReplaceItems(t Ticket, items []domain.LeafItem) bool {
	if t.Level != LevelWorkDescription || !c.Current(t) {
		return false
	}
	c.state.Items = items
	return true
}

// FindCompany looks up a fetched company by id.
func (s State) FindCompany(id domain.ID) (domain.Company, bool) {
	for _, c := range s.Companies {
		if c.ID == id {
			return c, true
		}
	}
	return domain.Company{}, false
}

// FindProject looks up a fetched project by id.
func (s State) FindProject(id domain.ID) (domain.Project, bool) {
	for _, p := range s.Projects {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Project{}, false
}

// FindSite looks up a site of the selected project by id.
func (s State) FindSite(id domain.ID) (domain.Site, bool) {
	for _, site := range s.Sites {
		if site.ID == id {
			return site, true
		}
	}
	return domain.Site{}, false
}

// FindWorkDescription looks up a fetched work description by id.
func (s State) FindWorkDescription(id domain.ID) (domain.WorkDescription, bool) {
	for _, d := range s.WorkDescriptions {
		if d.ID == id {
			return d, true
		}
	}
	return domain.WorkDescription{}, false
}

// FindItem looks up a fetched item by id.
func (s State) FindItem(id domain.ID) (domain.LeafItem, bool) {
	for _, item := range s.Items {
		if item.ID == id {
			return item, true
		}
	}
	return domain.LeafItem{}, false
}
