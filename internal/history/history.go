// Package history loads the as-of-date history of every leaf item in view.
package history

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/fieldops/internal/domain"
)

// Mode decides what "history for date D" means.
type Mode string

const (
	// ModeExactDate keeps only entries created on D.
	ModeExactDate Mode = "exact-date"
	// ModeCumulative keeps every entry up to and including D.
	ModeCumulative Mode = "cumulative"
)

// ParseMode validates a configured mode. Empty means exact-date.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeExactDate:
		return ModeExactDate, nil
	case ModeCumulative:
		return ModeCumulative, nil
	default:
		return "", fmt.Errorf("history: mode must be %q or %q, got %q", ModeExactDate, ModeCumulative, value)
	}
}

// Raw is what a history endpoint returned for one item.
type Raw struct {
	Entries []domain.HistoryEntry
	// Cumulative is the running total reported by the server, if any.
	Cumulative decimal.NullDecimal
	Ack        *domain.Acknowledgement
}

// Fold reduces raw to the view for date. Entries without a timestamp are
// taken to belong to date.
func Fold(mode Mode, date domain.Date, raw Raw) domain.History {
	out := domain.History{Ack: raw.Ack, Entries: []domain.HistoryEntry{}}
	sum := decimal.Zero
	for _, e := range raw.Entries {
		day := domain.DateOf(e.CreatedAt)
		keep := day.IsZero() || date.IsZero()
		if !keep {
			switch mode {
			case ModeCumulative:
				keep = !day.After(date)
			default:
				keep = day.Equal(date)
			}
		}
		if !keep {
			continue
		}
		out.Entries = append(out.Entries, e)
		sum = sum.Add(e.Amount)
	}
	out.Cumulative = sum
	if mode == ModeCumulative && raw.Cumulative.Valid {
		out.Cumulative = raw.Cumulative.Decimal
	}
	return out
}

// FetchFunc loads the raw history of one item on date.
type FetchFunc func(ctx context.Context, item domain.LeafItem, date domain.Date) (Raw, error)

// FallbackFunc builds the history shown for an item whose fetch failed.
type FallbackFunc func(item domain.LeafItem, date domain.Date) domain.History

// DefaultLimit caps concurrent per-item requests.
const DefaultLimit = 8

// Aggregator fans per-item history fetches out in parallel.
type Aggregator struct {
	Mode  Mode
	Limit int
	Log   logrus.FieldLogger
}

// NewAggregator returns an aggregator folding in mode.
func NewAggregator(mode Mode, log logrus.FieldLogger) *Aggregator {
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &Aggregator{Mode: mode, Limit: DefaultLimit, Log: log}
}

// Result is the folded history of a batch.
type Result struct {
	History map[domain.ID]domain.History
	// Failed records the items that got a fallback and why.
	Failed map[domain.ID]error
}

// Load fetches every item's history on date. A failing item does not abort
// the batch; it is mapped to fallback(item, date) instead.
func (a *Aggregator) Load(ctx context.Context, items []domain.LeafItem, date domain.Date, fetch FetchFunc, fallback FallbackFunc) Result {
	histories := make([]domain.History, len(items))
	errs := make([]error, len(items))

	var g errgroup.Group
	limit := a.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	g.SetLimit(limit)
	for i := range items {
		i := i
		g.Go(func() error {
			histories[i], errs[i] = a.LoadOne(ctx, items[i], date, fetch, fallback)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		History: make(map[domain.ID]domain.History, len(items)),
		Failed:  map[domain.ID]error{},
	}
	for i, item := range items {
		res.History[item.ID] = histories[i]
		if errs[i] != nil {
			res.Failed[item.ID] = errs[i]
		}
	}
	if len(res.Failed) > 0 {
		a.Log.WithFields(logrus.Fields{
			"date":   date.String(),
			"items":  len(items),
			"failed": len(res.Failed),
		}).Warn("history fetch fell back for some items")
	}
	return res
}

// LoadOne fetches and folds a single item. On failure it returns the
// fallback history together with the error.
func (a *Aggregator) LoadOne(ctx context.Context, item domain.LeafItem, date domain.Date, fetch FetchFunc, fallback FallbackFunc) (domain.History, error) {
	raw, err := fetch(ctx, item, date)
	if err != nil {
		a.Log.WithFields(logrus.Fields{"item": item.ID.String(), "date": date.String()}).WithError(err).Debug("history fetch failed")
		return fallbackFor(item, date, fallback), err
	}
	return Fold(a.Mode, date, raw), nil
}

func fallbackFor(item domain.LeafItem, date domain.Date, fallback FallbackFunc) domain.History {
	if fallback == nil {
		return domain.History{Entries: []domain.HistoryEntry{}, Fallback: true}
	}
	h := fallback(item, date)
	h.Fallback = true
	if h.Entries == nil {
		h.Entries = []domain.HistoryEntry{}
	}
	return h
}
