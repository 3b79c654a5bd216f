package aggregate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

func TestRowsMergesCountriesPerDate(t *testing.T) {
	t.Parallel()

	rows := []tracker.AnalyticsRow{
		{Keys: []string{"2024-05-01"}, Clicks: 10, Impressions: 100, Position: 2},
		{Keys: []string{"2024-05-01"}, Clicks: 5, Impressions: 300, Position: 6},
		{Keys: []string{"2024-05-02"}, Clicks: 1, Impressions: 10, Position: 4},
		{Keys: nil, Clicks: 99, Impressions: 99, Position: 1},
	}

	got := Rows(rows)
	require.Len(t, got, 2)

	require.Equal(t, "2024-05-02", got[0].Date)
	require.Equal(t, "2024-05-01", got[1].Date)

	first := got[1]
	require.InDelta(t, 15, first.Clicks, 1e-9)
	require.InDelta(t, 400, first.Impressions, 1e-9)
	require.InDelta(t, 15.0/400.0, first.CTR, 1e-9)
	require.InDelta(t, (2*100+6*300)/400.0, first.Position, 1e-9)
}

func TestRowsZeroImpressions(t *testing.T) {
	t.Parallel()

	got := Rows([]tracker.AnalyticsRow{{Keys: []string{"2024-05-01"}, Clicks: 0, Impressions: 0, Position: 7}})
	require.Len(t, got, 1)
	require.Zero(t, got[0].CTR)
	require.Zero(t, got[0].Position)
}

func TestRowsEmpty(t *testing.T) {
	t.Parallel()

	require.Empty(t, Rows(nil))
}

func TestPerformanceMergesLinks(t *testing.T) {
	t.Parallel()

	docs := []tracker.LinkPerformance{
		{LinkID: "a", PerformanceRow: tracker.PerformanceRow{Date: "2024-05-01", Clicks: 2, Impressions: 20, Position: 3}},
		{LinkID: "b", PerformanceRow: tracker.PerformanceRow{Date: "2024-05-01", Clicks: 2, Impressions: 60, Position: 1}},
		{LinkID: "b", PerformanceRow: tracker.PerformanceRow{Date: "2024-04-30", Clicks: 0, Impressions: 5, Position: 9}},
	}

	got := Performance(docs)
	require.Len(t, got, 2)
	require.Equal(t, "2024-05-01", got[0].Date)
	require.InDelta(t, 4, got[0].Clicks, 1e-9)
	require.InDelta(t, 80, got[0].Impressions, 1e-9)
	require.InDelta(t, 0.05, got[0].CTR, 1e-9)
	require.InDelta(t, 1.5, got[0].Position, 1e-9)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	s := Summarize([]tracker.PerformanceRow{
		{Date: "2024-05-02", Clicks: 1, Impressions: 10, Position: 5},
		{Date: "2024-05-01", Clicks: 3, Impressions: 30, Position: 1},
	})
	require.Equal(t, 2, s.Days)
	require.InDelta(t, 0.1, s.CTR(), 1e-9)
	require.InDelta(t, 2, s.Position(), 1e-9)
}
