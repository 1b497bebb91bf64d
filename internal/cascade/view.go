package cascade

import (
	"github.com/kingrea/fieldops/internal/domain"
	"github.com/kingrea/fieldops/internal/filter"
	"github.com/kingrea/fieldops/internal/module"
	"github.com/kingrea/fieldops/internal/selection"
)

// Row is one visible item with everything needed to render it.
type Row struct {
	Item       domain.LeafItem
	History    domain.History
	HasHistory bool
	Status     module.Status
	Input      string
	Remarks    string
	Selected   bool
}

// Section groups rows under a category heading.
type Section struct {
	Category string
	Rows     []Row
}

// View is a consistent, derived snapshot for rendering.
type View struct {
	Info       module.Info
	State      selection.State
	Sections   []Section
	Categories []string
	Query      string
	Category   string
	From       domain.Date
	To         domain.Date
	Selected   int
	Busy       bool

	CompanyOptions         []domain.Option
	ProjectOptions         []domain.Option
	SiteOptions            []domain.Option
	WorkDescriptionOptions []domain.Option
}

// Snapshot returns the raw selection state.
func (c *Controller) Snapshot() selection.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chain.Snapshot()
}

// Input returns the pending input of an item.
func (c *Controller) Input(id domain.ID) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputs[id]
}

// View derives the visible rows from the current state and filters.
func (c *Controller) View() View {
	c.mu.Lock()
	state := c.chain.Snapshot()
	query, category := c.query, c.category
	inputs := copyStrings(c.inputs)
	remarks := copyStrings(c.remarks)
	selected := make(map[domain.ID]bool, len(c.labours))
	for id := range c.labours {
		selected[id] = true
	}
	from, to, busy := c.from, c.to, c.busy > 0
	c.mu.Unlock()

	desc := c.narrowing(state.WorkDescription)
	active := filter.ByWorkDescription(state.Items, desc)
	visible := filter.Apply(state.Items, filter.Criteria{
		Query:           query,
		Category:        category,
		WorkDescription: desc,
	})
	reporter, _ := c.mod.(module.StatusReporter)

	v := View{
		Info:                   c.mod.Info(),
		State:                  state,
		Categories:             filter.Categories(active),
		Query:                  query,
		Category:               category,
		From:                   from,
		To:                     to,
		Selected:               len(selected),
		Busy:                   busy,
		CompanyOptions:         domain.CompanyOptions(state.Companies),
		ProjectOptions:         domain.ProjectOptions(state.Projects),
		SiteOptions:            domain.SiteOptions(state.Sites),
		WorkDescriptionOptions: domain.WorkDescriptionOptions(state.WorkDescriptions),
	}
	for _, group := range filter.GroupByCategory(visible) {
		section := Section{Category: group.Category, Rows: make([]Row, 0, len(group.Items))}
		for _, item := range group.Items {
			h, ok := state.History[item.ID]
			row := Row{
				Item:       item,
				History:    h,
				HasHistory: ok,
				Input:      inputs[item.ID],
				Remarks:    remarks[item.ID],
				Selected:   selected[item.ID],
			}
			if reporter != nil {
				row.Status = reporter.Status(item, h)
			}
			section.Rows = append(section.Rows, row)
		}
		v.Sections = append(v.Sections, section)
	}
	return v
}

// Rows flattens the sections in display order.
func (v View) Rows() []Row {
	var rows []Row
	for _, s := range v.Sections {
		rows = append(rows, s.Rows...)
	}
	return rows
}

func copyStrings(in map[domain.ID]string) map[domain.ID]string {
	out := make(map[domain.ID]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
