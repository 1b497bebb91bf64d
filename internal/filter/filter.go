// Package filter derives the visible item list from the fetched items and the
// user's current search, category and work description. Everything here is
// pure and cheap enough to run on every render.
package filter

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/kingrea/fieldops/internal/domain"
)

// Criteria are the active narrowing inputs. Zero values do not narrow.
type Criteria struct {
	Query           string
	Category        string
	WorkDescription *domain.WorkDescription
}

// Search keeps items whose description (or name, for rows without one)
// contains query, ignoring case.
func Search(items []domain.LeafItem, query string) []domain.LeafItem {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return items
	}
	out := make([]domain.LeafItem, 0, len(items))
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.Description), q) ||
			strings.Contains(strings.ToLower(item.Name), q) {
			out = append(out, item)
		}
	}
	return out
}

// ByCategory keeps items in category.
func ByCategory(items []domain.LeafItem, category string) []domain.LeafItem {
	if category == "" {
		return items
	}
	out := make([]domain.LeafItem, 0, len(items))
	for _, item := range items {
		if item.Category == category {
			out = append(out, item)
		}
	}
	return out
}

// ByWorkDescription keeps items belonging to desc. Ids are compared when
// both sides carry one, otherwise the description text must match.
func ByWorkDescription(items []domain.LeafItem, desc *domain.WorkDescription) []domain.LeafItem {
	if desc == nil {
		return items
	}
	out := make([]domain.LeafItem, 0, len(items))
	for _, item := range items {
		if matchesDescription(item, *desc) {
			out = append(out, item)
		}
	}
	return out
}

func matchesDescription(item domain.LeafItem, desc domain.WorkDescription) bool {
	if item.DescriptionID != "" && desc.ID != "" {
		return item.DescriptionID == desc.ID
	}
	return strings.EqualFold(strings.TrimSpace(item.Description), strings.TrimSpace(desc.Name))
}

// Apply composes the three filters.
func Apply(items []domain.LeafItem, c Criteria) []domain.LeafItem {
	out := ByWorkDescription(items, c.WorkDescription)
	out = ByCategory(out, c.Category)
	return Search(out, c.Query)
}

// Group is one section of the rendered list.
type Group struct {
	Category string
	Items    []domain.LeafItem
}

// GroupByCategory groups items by category in first-seen order.
func GroupByCategory(items []domain.LeafItem) []Group {
	index := map[string]int{}
	groups := []Group{}
	for _, item := range items {
		i, ok := index[item.Category]
		if !ok {
			i = len(groups)
			index[item.Category] = i
			groups = append(groups, Group{Category: item.Category})
		}
		groups[i].Items = append(groups[i].Items, item)
	}
	return groups
}

// Categories lists the distinct non-empty categories in first-seen order.
func Categories(items []domain.LeafItem) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, item := range items {
		if item.Category == "" || seen[item.Category] {
			continue
		}
		seen[item.Category] = true
		out = append(out, item.Category)
	}
	return out
}

// Options ranks picker options against a typed query, best match first.
// An empty query returns opts unchanged.
func Options(opts []domain.Option, query string) []domain.Option {
	q := strings.TrimSpace(query)
	if q == "" {
		return opts
	}
	labels := make([]string, len(opts))
	for i, o := range opts {
		labels[i] = o.Label
	}
	ranks := fuzzy.RankFindNormalizedFold(q, labels)
	sort.Stable(ranks)
	out := make([]domain.Option, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, opts[r.OriginalIndex])
	}
	return out
}
