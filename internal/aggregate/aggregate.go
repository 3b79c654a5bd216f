// Package aggregate merges Search Console rows into per-date totals.
//
// Rows for the same date coming from several country queries, or from several
// links in a cluster, are summed. Position is averaged with impressions as the
// weight, and CTR is recomputed from the summed clicks and impressions.
package aggregate

import (
	"sort"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

// Totals accumulates metrics for a single date.
type Totals struct {
	Clicks           float64
	Impressions      float64
	WeightedPosition float64
}

// Add folds a row's metrics into t.
func (t *Totals) Add(clicks, impressions, position float64) {
	t.Clicks += clicks
	t.Impressions += impressions
	t.WeightedPosition += position * impressions
}

// CTR is clicks over impressions, or 0 without impressions.
func (t Totals) CTR() float64 {
	if t.Impressions <= 0 {
		return 0
	}
	return t.Clicks / t.Impressions
}

// Position is the impression-weighted average position, or 0 without impressions.
func (t Totals) Position() float64 {
	if t.Impressions <= 0 {
		return 0
	}
	return t.WeightedPosition / t.Impressions
}

// ByDate maps a date to its running totals.
type ByDate map[string]*Totals

func (b ByDate) add(date string, clicks, impressions, position float64) {
	if date == "" {
		return
	}
	t, ok := b[date]
	if !ok {
		t = &Totals{}
		b[date] = t
	}
	t.Add(clicks, impressions, position)
}

// MergeRows folds raw analytics rows into b. Rows without a date key are skipped.
func (b ByDate) MergeRows(rows []tracker.AnalyticsRow) ByDate {
	for _, row := range rows {
		if len(row.Keys) == 0 {
			continue
		}
		b.add(row.Keys[0], row.Clicks, row.Impressions, row.Position)
	}
	return b
}

// MergePerformance folds stored rows into b.
func (b ByDate) MergePerformance(docs []tracker.LinkPerformance) ByDate {
	for _, doc := range docs {
		b.add(doc.Date, doc.Clicks, doc.Impressions, doc.Position)
	}
	return b
}

// Rows finalizes b into performance rows, newest date first.
func (b ByDate) Rows() []tracker.PerformanceRow {
	out := make([]tracker.PerformanceRow, 0, len(b))
	for date, t := range b {
		out = append(out, tracker.PerformanceRow{
			Date:        date,
			Clicks:      t.Clicks,
			Impressions: t.Impressions,
			CTR:         t.CTR(),
			Position:    t.Position(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}

// Rows merges raw analytics rows in one step.
func Rows(rows []tracker.AnalyticsRow) []tracker.PerformanceRow {
	return ByDate{}.MergeRows(rows).Rows()
}

// Performance merges stored rows across links in one step.
func Performance(docs []tracker.LinkPerformance) []tracker.PerformanceRow {
	return ByDate{}.MergePerformance(docs).Rows()
}

// Summary is the aggregate over a whole window.
type Summary struct {
	Days int
	Totals
}

// Summarize totals rows over their full window.
func Summarize(rows []tracker.PerformanceRow) Summary {
	var s Summary
	for _, row := range rows {
		s.Days++
		s.Add(row.Clicks, row.Impressions, row.Position)
	}
	return s
}
