// Package gsc queries the Google Search Console API on behalf of a user.
package gsc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/searchconsole/v1"

	"github.com/JakeFAU/gsc-tracker/internal/auth"
	"github.com/JakeFAU/gsc-tracker/internal/logging"
	"github.com/JakeFAU/gsc-tracker/internal/metrics"
	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

var _ tracker.SearchAnalytics = (*Client)(nil)

// Waiter paces calls per property.
type Waiter interface {
	Wait(ctx context.Context, site string) error
}

// Config tunes the client.
type Config struct {
	// Timeout bounds each API call; zero means no extra deadline.
	Timeout time.Duration
	// HTTPClient, when set, replaces the credential-derived client. Tests
	// point it at a fake server together with Options.
	HTTPClient *http.Client
	Options    []option.ClientOption
}

// Client implements tracker.SearchAnalytics on searchconsole/v1.
type Client struct {
	cfg     Config
	limiter Waiter
	logger  *zap.Logger
}

// New builds a Client. limiter may be nil.
func New(cfg Config, limiter Waiter, logger *zap.Logger) *Client {
	return &Client{cfg: cfg, limiter: limiter, logger: logging.OrNop(logger).Named("gsc")}
}

func (c *Client) service(ctx context.Context, creds *tracker.Credentials) (*searchconsole.Service, error) {
	if creds == nil {
		return nil, tracker.ErrUnauthenticated
	}
	opts := append([]option.ClientOption(nil), c.cfg.Options...)
	if c.cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(c.cfg.HTTPClient))
	} else {
		opts = append(opts, option.WithTokenSource(auth.TokenSource(ctx, creds)))
	}
	svc, err := searchconsole.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("searchconsole client: %w", err)
	}
	return svc, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

// ListSites returns the properties visible to the credentials.
func (c *Client) ListSites(ctx context.Context, creds *tracker.Credentials) ([]tracker.Site, error) {
	svc, err := c.service(ctx, creds)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := svc.Sites.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	sites := make([]tracker.Site, 0, len(resp.SiteEntry))
	for _, entry := range resp.SiteEntry {
		if entry == nil || entry.SiteUrl == "" {
			continue
		}
		level := entry.PermissionLevel
		if level == "" {
			level = tracker.PermissionUnknown
		}
		sites = append(sites, tracker.Site{URL: entry.SiteUrl, PermissionLevel: level})
	}
	return sites, nil
}

// QueryByDate runs one analytics query grouped by date.
func (c *Client) QueryByDate(
	ctx context.Context,
	creds *tracker.Credentials,
	q tracker.AnalyticsQuery,
) ([]tracker.AnalyticsRow, error) {
	svc, err := c.service(ctx, creds)
	if err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, q.SiteURL); err != nil {
			return nil, err
		}
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := svc.Searchanalytics.Query(q.SiteURL, BuildRequest(q)).Context(ctx).Do()
	if err != nil {
		metrics.ObserveQuery(q.SiteURL, err, 0)
		return nil, fmt.Errorf("search analytics query: %w", err)
	}
	rows := make([]tracker.AnalyticsRow, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		if row == nil {
			continue
		}
		rows = append(rows, tracker.AnalyticsRow{
			Keys:        row.Keys,
			Clicks:      row.Clicks,
			Impressions: row.Impressions,
			CTR:         row.Ctr,
			Position:    row.Position,
		})
	}
	metrics.ObserveQuery(q.SiteURL, nil, len(rows))
	c.logger.Debug("search analytics query done",
		zap.String("site", q.SiteURL),
		zap.String("page", q.PageURL),
		zap.String("country", q.Country),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}
