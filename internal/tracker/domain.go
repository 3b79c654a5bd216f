package tracker

import (
	"net/url"
	"strings"
	"time"
)

const scDomainPrefix = "sc-domain:"

// Date layout used for performance rows and Search Console queries.
const DateLayout = "2006-01-02"

const (
	// DataLagDays is how far behind today Search Console data settles.
	DataLagDays = 3
	// LookbackDays is the width of the default fetch window.
	LookbackDays = 90
)

// CheckDomainConsistency reports whether linkURL belongs to the property
// clusterDomain. Domain properties ("sc-domain:example.com") accept any host
// ending in the domain; URL-prefix properties require the same scheme and host.
func CheckDomainConsistency(clusterDomain, linkURL string) bool {
	if clusterDomain == "" || linkURL == "" {
		return false
	}
	link, err := url.Parse(linkURL)
	if err != nil || link.Scheme == "" || link.Host == "" {
		return false
	}
	if strings.HasPrefix(clusterDomain, scDomainPrefix) {
		domain := strings.TrimPrefix(clusterDomain, scDomainPrefix)
		if domain == "" {
			return false
		}
		return strings.HasSuffix(link.Host, domain)
	}
	prefix, err := url.Parse(clusterDomain)
	if err != nil || prefix.Scheme == "" || prefix.Host == "" {
		return false
	}
	return link.Scheme == prefix.Scheme && link.Host == prefix.Host
}

// NormalizeFilter trims a filter value and defaults empty input to FilterAll.
func NormalizeFilter(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return FilterAll
	}
	return s
}

// DeviceFilterActive reports whether a device filter narrows queries.
func DeviceFilterActive(device string) bool {
	device = strings.TrimSpace(device)
	return device != "" && !strings.EqualFold(device, FilterAll)
}

// ParseCountryFilter splits a comma separated list of country codes. ALL or
// empty input yields nil.
func ParseCountryFilter(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, FilterAll) {
		return nil
	}
	var codes []string
	for _, part := range strings.Split(s, ",") {
		if code := strings.TrimSpace(part); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

// Window is an inclusive date range in DateLayout form.
type Window struct {
	Start string
	End   string
}

// FetchWindow is the range pulled from Search Console: it ends DataLagDays
// before now and spans LookbackDays before that.
func FetchWindow(now time.Time) Window {
	end := now.AddDate(0, 0, -DataLagDays)
	start := end.AddDate(0, 0, -LookbackDays)
	return Window{Start: start.Format(DateLayout), End: end.Format(DateLayout)}
}

// DisplayWindow is the default range shown on performance pages.
func DisplayWindow(now time.Time) Window {
	return Window{
		Start: now.AddDate(0, 0, -LookbackDays).Format(DateLayout),
		End:   now.AddDate(0, 0, -DataLagDays).Format(DateLayout),
	}
}

// WindowOrDefault uses start and end when both are given, else DisplayWindow.
func WindowOrDefault(start, end string, now time.Time) Window {
	if start != "" && end != "" {
		return Window{Start: start, End: end}
	}
	return DisplayWindow(now)
}
