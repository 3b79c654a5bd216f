package tracker

import "time"

// LinkStatus reports where a link is in its fetch lifecycle.
type LinkStatus string

// Supported link statuses.
const (
	LinkProcessing LinkStatus = "processing"
	LinkComplete   LinkStatus = "complete"
	LinkError      LinkStatus = "error"
)

// FilterAll disables a device or country filter.
const FilterAll = "ALL"

// PermissionUnknown is recorded for properties Search Console no longer reports.
const PermissionUnknown = "N/A"

// User is an account identified by its Google email address.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Site is a Search Console property as reported by the API.
type Site struct {
	URL             string `json:"siteUrl"`
	PermissionLevel string `json:"permissionLevel"`
}

// DomainProperty is a Search Console property remembered for a user.
type DomainProperty struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	SiteURL         string    `json:"siteUrl"`
	PermissionLevel string    `json:"permissionLevel"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Cluster groups links of one property under shared device/country filters.
type Cluster struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Domain        string     `json:"domain"`
	Name          string     `json:"clusterName"`
	DeviceFilter  string     `json:"deviceFilter"`
	CountryFilter string     `json:"countryFilter"`
	Deleted       bool       `json:"deleted"`
	DeletedAt     *time.Time `json:"deletedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Link is a tracked page URL inside a cluster.
type Link struct {
	ID        string     `json:"id"`
	ClusterID string     `json:"clusterId"`
	URL       string     `json:"url"`
	Status    LinkStatus `json:"status"`
	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// PerformanceRow is one day of merged metrics.
type PerformanceRow struct {
	Date        string  `json:"date"`
	Clicks      float64 `json:"clicks"`
	Impressions float64 `json:"impressions"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"position"`
}

// LinkPerformance is a stored PerformanceRow for a single link.
type LinkPerformance struct {
	ID     string `json:"id"`
	LinkID string `json:"linkId"`
	PerformanceRow
	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// FlashMessage is a one-shot notice shown on the next rendered page.
type FlashMessage struct {
	Message  string `json:"message" bson:"message"`
	Category string `json:"category" bson:"category"`
}

// AnalyticsQuery describes one Search Console analytics request grouped by date.
type AnalyticsQuery struct {
	SiteURL   string
	PageURL   string
	Device    string
	Country   string
	StartDate string
	EndDate   string
}

// AnalyticsRow is a raw Search Console row. Keys[0] is the date.
type AnalyticsRow struct {
	Keys        []string `json:"keys"`
	Clicks      float64  `json:"clicks"`
	Impressions float64  `json:"impressions"`
	CTR         float64  `json:"ctr"`
	Position    float64  `json:"position"`
}

// FetchJob asks the worker pool to pull analytics for one link.
type FetchJob struct {
	ID          string       `json:"id"`
	LinkID      string       `json:"linkId"`
	ClusterID   string       `json:"clusterId"`
	Credentials *Credentials `json:"-"`
	Reason      string       `json:"reason"`
	Submitted   time.Time    `json:"submitted"`
}

// Fetch job reasons.
const (
	FetchReasonCreate  = "create"
	FetchReasonRefresh = "refresh"
)
