package gsc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/searchconsole/v1"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

func TestBuildRequest(t *testing.T) {
	t.Parallel()

	req := BuildRequest(tracker.AnalyticsQuery{
		SiteURL:   "sc-domain:example.com",
		PageURL:   "https://example.com/a",
		Device:    "MOBILE",
		Country:   "usa",
		StartDate: "2024-01-01",
		EndDate:   "2024-03-31",
	})
	require.Equal(t, "2024-01-01", req.StartDate)
	require.Equal(t, "2024-03-31", req.EndDate)
	require.Equal(t, []string{"date"}, req.Dimensions)
	require.Len(t, req.DimensionFilterGroups, 1)
	filters := req.DimensionFilterGroups[0].Filters
	require.Len(t, filters, 3)
	require.Equal(t, searchconsole.ApiDimensionFilter{Dimension: "page", Operator: "equals", Expression: "https://example.com/a"}, *filters[0])
	require.Equal(t, "device", filters[1].Dimension)
	require.Equal(t, "MOBILE", filters[1].Expression)
	require.Equal(t, "country", filters[2].Dimension)
	require.Equal(t, "usa", filters[2].Expression)
}

func TestBuildRequestSkipsAllFilters(t *testing.T) {
	t.Parallel()

	req := BuildRequest(tracker.AnalyticsQuery{PageURL: "https://example.com/", Device: "ALL"})
	require.Len(t, req.DimensionFilterGroups[0].Filters, 1)
}

type fakeGSC struct {
	mu     sync.Mutex
	bodies []searchconsole.SearchAnalyticsQueryRequest
}

func (f *fakeGSC) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/searchAnalytics/query"):
		var body searchconsole.SearchAnalyticsQueryRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.bodies = append(f.bodies, body)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"rows":[{"keys":["2024-03-01"],"clicks":3,"impressions":30,"ctr":0.1,"position":4.5}]}`))
	case strings.HasSuffix(r.URL.Path, "/sites"):
		_, _ = w.Write([]byte(`{"siteEntry":[{"siteUrl":"sc-domain:example.com","permissionLevel":"siteOwner"},{"siteUrl":"https://example.org/"}]}`))
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		HTTPClient: srv.Client(),
		Options:    []option.ClientOption{option.WithEndpoint(srv.URL + "/")},
	}, nil, nil)
}

func TestListSites(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &fakeGSC{})
	sites, err := c.ListSites(context.Background(), &tracker.Credentials{Token: "t"})
	require.NoError(t, err)
	require.Equal(t, []tracker.Site{
		{URL: "sc-domain:example.com", PermissionLevel: "siteOwner"},
		{URL: "https://example.org/", PermissionLevel: tracker.PermissionUnknown},
	}, sites)
}

func TestQueryByDate(t *testing.T) {
	t.Parallel()

	fake := &fakeGSC{}
	c := newTestClient(t, fake)
	rows, err := c.QueryByDate(context.Background(), &tracker.Credentials{Token: "t"}, tracker.AnalyticsQuery{
		SiteURL:   "sc-domain:example.com",
		PageURL:   "https://example.com/a",
		Device:    "ALL",
		StartDate: "2024-01-01",
		EndDate:   "2024-03-31",
	})
	require.NoError(t, err)
	require.Equal(t, []tracker.AnalyticsRow{{Keys: []string{"2024-03-01"}, Clicks: 3, Impressions: 30, CTR: 0.1, Position: 4.5}}, rows)

	require.Len(t, fake.bodies, 1)
	require.Equal(t, []string{"date"}, fake.bodies[0].Dimensions)
	require.Equal(t, "https://example.com/a", fake.bodies[0].DimensionFilterGroups[0].Filters[0].Expression)
}

func TestQueryByDateErrors(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"denied"}}`, http.StatusForbidden)
	}))
	_, err := c.QueryByDate(context.Background(), &tracker.Credentials{Token: "t"}, tracker.AnalyticsQuery{SiteURL: "s", PageURL: "p"})
	require.Error(t, err)

	_, err = c.QueryByDate(context.Background(), nil, tracker.AnalyticsQuery{})
	require.ErrorIs(t, err, tracker.ErrUnauthenticated)
}
