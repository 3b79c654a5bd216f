package tracker

import (
	"context"
	"io"
	"time"
)

// UserStore persists accounts.
type UserStore interface {
	// UpsertUser creates or refreshes the user with the given email.
	UpsertUser(ctx context.Context, email, name string, now time.Time) (User, error)
}

// PropertyStore persists the properties a user can see.
type PropertyStore interface {
	// SyncProperties marks sites active, deactivates those GSC no longer
	// reports, and returns the user's properties.
	SyncProperties(ctx context.Context, userID string, sites []Site, now time.Time) ([]DomainProperty, error)
	SelectProperty(ctx context.Context, userID, siteURL string, now time.Time) error
}

// ClusterStore persists clusters. Trash, restore and purge cascade to links
// and performance rows.
type ClusterStore interface {
	// CreateCluster returns ErrDuplicate or ErrTrashed on a name clash within
	// the user's domain.
	CreateCluster(ctx context.Context, c Cluster) (Cluster, error)
	// GetCluster returns the cluster in any state.
	GetCluster(ctx context.Context, id string) (Cluster, error)
	ListClusters(ctx context.Context, userID, domain string, deleted bool) ([]Cluster, error)
	UpdateCluster(ctx context.Context, c Cluster, now time.Time) error
	TrashCluster(ctx context.Context, id string, now time.Time) error
	RestoreCluster(ctx context.Context, id string, now time.Time) error
	PurgeCluster(ctx context.Context, id string) error
	ListClustersTrashedBefore(ctx context.Context, cutoff time.Time) ([]Cluster, error)
}

// LinkStore persists links.
type LinkStore interface {
	// CreateLink returns ErrDuplicate when the URL already exists among the
	// cluster's non-deleted links.
	CreateLink(ctx context.Context, l Link) (Link, error)
	GetLink(ctx context.Context, id string) (Link, error)
	ListLinks(ctx context.Context, clusterID string, deleted bool) ([]Link, error)
	ListLinksByClusters(ctx context.Context, clusterIDs []string, deleted bool) ([]Link, error)
	UpdateLinkURL(ctx context.Context, id, rawURL string, now time.Time) error
	SetLinkStatus(ctx context.Context, id string, status LinkStatus, now time.Time) error
	TrashLink(ctx context.Context, id string, now time.Time) error
	RestoreLink(ctx context.Context, id string, now time.Time) error
	PurgeLink(ctx context.Context, id string) error
	ListLinksTrashedBefore(ctx context.Context, cutoff time.Time) ([]Link, error)
}

// PerformanceStore persists daily link metrics.
type PerformanceStore interface {
	// UpsertPerformance writes rows keyed by (linkID, date) and returns the
	// number of rows inserted or modified.
	UpsertPerformance(ctx context.Context, linkID string, rows []PerformanceRow, now time.Time) (int, error)
	// ListPerformance returns non-deleted rows for the links within [start, end],
	// newest first.
	ListPerformance(ctx context.Context, linkIDs []string, start, end string) ([]LinkPerformance, error)
}

// Store is the full persistence surface.
type Store interface {
	UserStore
	PropertyStore
	ClusterStore
	LinkStore
	PerformanceStore
}

// SearchAnalytics talks to Search Console on behalf of a user.
type SearchAnalytics interface {
	ListSites(ctx context.Context, creds *Credentials) ([]Site, error)
	QueryByDate(ctx context.Context, creds *Credentials, q AnalyticsQuery) ([]AnalyticsRow, error)
}

// JobQueue is a FIFO of fetch jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, job FetchJob) error
	Dequeue(ctx context.Context) (FetchJob, error)
	Close()
}

// JobSubmitter accepts fetch jobs from request handlers.
type JobSubmitter interface {
	Enqueue(ctx context.Context, job FetchJob) error
}

// BlobStore archives raw payloads.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// Publisher emits notification messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator yields unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}
