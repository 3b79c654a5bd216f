package gsc

import (
	"strings"

	"google.golang.org/api/searchconsole/v1"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

// BuildRequest translates q into a date-grouped analytics request filtered to
// the page and, when set, the device and country.
func BuildRequest(q tracker.AnalyticsQuery) *searchconsole.SearchAnalyticsQueryRequest {
	filters := []*searchconsole.ApiDimensionFilter{
		{Dimension: "page", Operator: "equals", Expression: q.PageURL},
	}
	if tracker.DeviceFilterActive(q.Device) {
		filters = append(filters, &searchconsole.ApiDimensionFilter{
			Dimension:  "device",
			Operator:   "equals",
			Expression: strings.TrimSpace(q.Device),
		})
	}
	if country := strings.TrimSpace(q.Country); country != "" {
		filters = append(filters, &searchconsole.ApiDimensionFilter{
			Dimension:  "country",
			Operator:   "equals",
			Expression: country,
		})
	}
	return &searchconsole.SearchAnalyticsQueryRequest{
		StartDate:             q.StartDate,
		EndDate:               q.EndDate,
		Dimensions:            []string{"date"},
		DimensionFilterGroups: []*searchconsole.ApiDimensionFilterGroup{{Filters: filters}},
	}
}
