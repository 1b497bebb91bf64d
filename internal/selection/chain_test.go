package selection

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/fieldops/internal/domain"
)

var (
	acme   = domain.Company{ID: "1", Name: "Acme"}
	globex = domain.Company{ID: "2", Name: "Globex"}
	tower  = domain.Project{ID: "10", Name: "Tower-1", CompanyID: "1", Sites: []domain.Site{
		{ID: "100", Name: "Site A"},
		{ID: "101", Name: "Site B"},
	}}
	siteA    = domain.Site{ID: "100", Name: "Site A"}
	painting = domain.WorkDescription{ID: "7", Name: "Painting"}
)

func filledChain(t *testing.T) *Chain {
	t.Helper()
	c := New(domain.NewDate(2024, 1, 1))
	require.True(t, c.ApplyCompanies(c.ResetCompanies(), []domain.Company{acme, globex}))
	require.True(t, c.ApplyProjects(c.SelectCompany(acme), []domain.Project{tower}))
	c.SelectProject(tower)
	require.True(t, c.ApplySiteData(c.SelectSite(siteA),
		[]domain.WorkDescription{painting},
		[]domain.LeafItem{{ID: "r1"}, {ID: "r2"}}))
	require.True(t, c.ApplyHistory(c.SelectWorkDescription(&painting), map[domain.ID]domain.History{"r1": {}}))
	return c
}

func TestSelectProjectUsesNestedSites(t *testing.T) {
	c := New(domain.Today())
	c.SelectCompany(acme)
	c.SelectProject(tower)
	s := c.Snapshot()
	require.Equal(t, []domain.Site{{ID: "100", Name: "Site A"}, {ID: "101", Name: "Site B"}}, s.Sites)
	require.Nil(t, s.Site)
}

func TestChangingCompanyClearsEverythingBelow(t *testing.T) {
	c := filledChain(t)
	c.SelectCompany(globex)
	s := c.Snapshot()
	require.Equal(t, "Globex", s.Company.Name)
	require.Len(t, s.Companies, 2, "the company list itself is kept")
	require.Nil(t, s.Project)
	require.Nil(t, s.Site)
	require.Nil(t, s.WorkDescription)
	require.Empty(t, s.Projects)
	require.Empty(t, s.Sites)
	require.Empty(t, s.WorkDescriptions)
	require.Empty(t, s.Items)
	require.Empty(t, s.History)
}

func TestChangingSiteKeepsAncestors(t *testing.T) {
	c := filledChain(t)
	c.SelectSite(domain.Site{ID: "101", Name: "Site B"})
	s := c.Snapshot()
	require.Equal(t, "Acme", s.Company.Name)
	require.Equal(t, "Tower-1", s.Project.Name)
	require.Len(t, s.Sites, 2)
	require.Equal(t, "Site B", s.Site.Name)
	require.Nil(t, s.WorkDescription)
	require.Empty(t, s.Items)
	require.Empty(t, s.WorkDescriptions)
	require.Empty(t, s.History)
}

func TestWorkDescriptionAndDateKeepItems(t *testing.T) {
	c := filledChain(t)
	c.SelectWorkDescription(nil)
	require.Len(t, c.Snapshot().Items, 2)
	c.SelectDate(domain.NewDate(2024, 1, 2))
	s := c.Snapshot()
	require.Len(t, s.Items, 2)
	require.Empty(t, s.History)
	require.Equal(t, "2024-01-02", s.Date.String())
}

// Random selection sequences must always leave no selection or collection
// below the level that changed last.
func TestResetInvariantHoldsForRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 200; run++ {
		c := filledChain(t)
		var last Level
		for step := 0; step < 6; step++ {
			last = Level(rng.Intn(int(LevelWorkDescription) + 1))
			switch last {
			case LevelCompany:
				c.ApplyProjects(c.SelectCompany(acme), []domain.Project{tower})
			case LevelProject:
				c.SelectProject(tower)
			case LevelSite:
				c.ApplySiteData(c.SelectSite(siteA), []domain.WorkDescription{painting}, []domain.LeafItem{{ID: "r1"}})
			case LevelWorkDescription:
				c.ApplyHistory(c.SelectWorkDescription(&painting), map[domain.ID]domain.History{"r1": {}})
			}
		}
		// Change the level again without applying any fetch result.
		switch last {
		case LevelCompany:
			c.SelectCompany(globex)
		case LevelProject:
			c.SelectProject(tower)
		case LevelSite:
			c.SelectSite(siteA)
		case LevelWorkDescription:
			c.SelectWorkDescription(&painting)
		}
		s := c.Snapshot()
		require.Empty(t, s.History)
		if last <= LevelSite {
			require.Nil(t, s.WorkDescription)
			require.Empty(t, s.Items)
			require.Empty(t, s.WorkDescriptions)
		}
		if last <= LevelProject {
			require.Nil(t, s.Site)
		}
		if last <= LevelCompany {
			require.Nil(t, s.Project)
			require.Empty(t, s.Projects)
			require.Empty(t, s.Sites)
		}
	}
}

func TestStaleResponsesAreRejected(t *testing.T) {
	c := New(domain.Today())
	first := c.SelectCompany(acme)
	second := c.SelectCompany(globex)
	require.False(t, c.ApplyProjects(first, []domain.Project{tower}), "S1's projects must not land under S2")
	require.Empty(t, c.Snapshot().Projects)
	require.True(t, c.ApplyProjects(second, []domain.Project{{ID: "20", Name: "Globex HQ"}}))
	require.Equal(t, "Globex HQ", c.Snapshot().Projects[0].Name)

	c.SelectProject(tower)
	siteTicket := c.SelectSite(siteA)
	c.SelectProject(tower)
	require.False(t, c.ApplySiteData(siteTicket, []domain.WorkDescription{painting}, []domain.LeafItem{{ID: "r1"}}))

	historyTicket := c.SelectDate(domain.NewDate(2024, 1, 1))
	c.SelectDate(domain.NewDate(2024, 1, 2))
	require.False(t, c.ApplyHistory(historyTicket, map[domain.ID]domain.History{"r1": {}}))
	require.False(t, c.ApplyItemHistory(historyTicket, "r1", domain.History{}))
}

func TestDateChangeDoesNotInvalidateItemFetch(t *testing.T) {
	c := New(domain.Today())
	c.SelectCompany(acme)
	c.SelectProject(tower)
	ticket := c.SelectSite(siteA)
	c.SelectDate(domain.NewDate(2024, 5, 1))
	require.True(t, c.ApplySiteData(ticket, nil, []domain.LeafItem{{ID: "r1"}}))
}

func TestTicketsAreLevelChecked(t *testing.T) {
	c := New(domain.Today())
	ticket := c.SelectCompany(acme)
	require.False(t, c.ApplyHistory(ticket, nil), "a project ticket cannot install history")
	require.False(t, c.Current(Ticket{Level: Level(42)}))
}
