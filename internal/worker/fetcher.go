package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/gsc-tracker/internal/aggregate"
	"github.com/JakeFAU/gsc-tracker/internal/metrics"
	"github.com/JakeFAU/gsc-tracker/internal/progress"
	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

const (
	statusSkipped = "skipped"
	archiveType   = "application/json"
	finalizeWait  = 10 * time.Second
)

// FetchStore is the persistence a Fetcher needs.
type FetchStore interface {
	GetLink(ctx context.Context, id string) (tracker.Link, error)
	GetCluster(ctx context.Context, id string) (tracker.Cluster, error)
	SetLinkStatus(ctx context.Context, id string, status tracker.LinkStatus, now time.Time) error
	UpsertPerformance(ctx context.Context, linkID string, rows []tracker.PerformanceRow, now time.Time) (int, error)
}

// FetcherConfig controls archiving and notifications.
type FetcherConfig struct {
	// ArchivePrefix is prepended to raw response paths.
	ArchivePrefix string
	// Topic receives a completion message per run when a publisher is set.
	Topic string
}

// Fetcher pulls Search Analytics rows for one link, merges them per date and
// stores the result.
type Fetcher struct {
	store     FetchStore
	gsc       tracker.SearchAnalytics
	blobs     tracker.BlobStore
	publisher tracker.Publisher
	events    progress.Emitter
	clock     tracker.Clock
	cfg       FetcherConfig
	tracer    trace.Tracer
	logger    *zap.Logger
}

// FetcherDeps groups the Fetcher's collaborators. Blobs, Publisher and
// Events are optional.
type FetcherDeps struct {
	Store     FetchStore
	GSC       tracker.SearchAnalytics
	Blobs     tracker.BlobStore
	Publisher tracker.Publisher
	Events    progress.Emitter
	Clock     tracker.Clock
}

// NewFetcher builds a Fetcher.
func NewFetcher(deps FetcherDeps, cfg FetcherConfig, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	events := deps.Events
	if events == nil {
		events = progress.Discard
	}
	return &Fetcher{
		store:     deps.Store,
		gsc:       deps.GSC,
		blobs:     deps.Blobs,
		publisher: deps.Publisher,
		events:    events,
		clock:     deps.Clock,
		cfg:       cfg,
		tracer:    otel.Tracer("github.com/JakeFAU/gsc-tracker/internal/worker"),
		logger:    logger,
	}
}

// queryResult is one Search Analytics call as archived.
type queryResult struct {
	Country string                 `json:"country,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Rows    []tracker.AnalyticsRow `json:"rows"`
}

// run carries the state of one Fetcher.Run.
type run struct {
	id      [16]byte
	job     tracker.FetchJob
	link    tracker.Link
	cluster tracker.Cluster
	window  tracker.Window
	started time.Time
	queries []queryResult
	dates   int
	rows    int
}

// Completion is the message published when a run finishes.
type Completion struct {
	RunID      string `json:"run_id"`
	LinkID     string `json:"link_id"`
	ClusterID  string `json:"cluster_id"`
	SiteURL    string `json:"site_url"`
	URL        string `json:"url"`
	Status     string `json:"status"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Dates      int    `json:"dates"`
	RawRows    int    `json:"raw_rows"`
	ArchiveURI string `json:"archive_uri,omitempty"`
	FinishedAt string `json:"finished_at"`
}

// Run executes job. It returns nil when the link finished complete or the
// job was skipped, and an error when the link was marked errored. A panic
// during the run also marks the link errored.
func (f *Fetcher) Run(ctx context.Context, job tracker.FetchJob) (err error) {
	ctx, span := f.tracer.Start(ctx, "fetch.run", trace.WithAttributes(
		attribute.String("link.id", job.LinkID),
		attribute.String("cluster.id", job.ClusterID),
	))
	defer span.End()

	r := &run{id: progress.NewRunID(), job: job, started: f.now()}
	logger := f.logger.With(zap.Stringer("run_id", r.runUUID()), zap.String("link_id", job.LinkID))

	defer func() {
		if p := recover(); p != nil {
			err = f.fail(ctx, span, r, logger, fmt.Errorf("fetch link %s: panic: %v", job.LinkID, p))
		}
	}()

	link, cluster, active, err := f.load(ctx, job)
	r.link, r.cluster = link, cluster
	if r.link.ID == "" {
		r.link.ID = job.LinkID
	}
	f.events.Emit(progress.Event{
		RunID: r.id, TS: r.started, Stage: progress.StageFetchStart,
		LinkID: job.LinkID, Site: cluster.Domain,
	})
	if err != nil {
		return f.fail(ctx, span, r, logger, err)
	}
	if !active {
		logger.Info("fetch skipped: link or cluster no longer active")
		f.emitEnd(r, progress.StageFetchDone, statusSkipped, "link or cluster inactive")
		metrics.ObserveJob(statusSkipped)
		return nil
	}
	r.window = tracker.FetchWindow(r.started)

	if !job.Credentials.Complete() {
		err := fmt.Errorf("fetch link %s: credentials incomplete: %w", link.ID, tracker.ErrUnauthenticated)
		return f.fail(ctx, span, r, logger, err)
	}

	merged, succeeded := f.query(ctx, r, logger)
	if succeeded == 0 {
		err := fmt.Errorf("fetch link %s: all %d queries failed", link.ID, len(r.queries))
		return f.fail(ctx, span, r, logger, err)
	}

	perf := aggregate.Rows(merged)
	r.dates = len(perf)
	if len(perf) > 0 {
		if _, err := f.store.UpsertPerformance(ctx, link.ID, perf, f.now()); err != nil {
			return f.fail(ctx, span, r, logger, fmt.Errorf("store performance: %w", err))
		}
	}
	if err := f.setStatus(ctx, link.ID, tracker.LinkComplete); err != nil {
		logger.Error("set link status failed", zap.Error(err))
	}

	uri := f.archive(ctx, r, logger)
	f.emitEnd(r, progress.StageFetchDone, string(tracker.LinkComplete), "")
	f.publish(ctx, r, string(tracker.LinkComplete), uri, logger)
	metrics.ObserveJob(string(tracker.LinkComplete))
	span.SetAttributes(attribute.Int("fetch.dates", r.dates), attribute.Int("fetch.raw_rows", r.rows))
	logger.Info("fetch complete",
		zap.Int("queries", len(r.queries)),
		zap.Int("raw_rows", r.rows),
		zap.Int("dates", r.dates),
	)
	return nil
}

// load reports active=false when the link or its cluster is gone or
// trashed. Whatever was found is still returned.
func (f *Fetcher) load(ctx context.Context, job tracker.FetchJob) (tracker.Link, tracker.Cluster, bool, error) {
	link, err := f.store.GetLink(ctx, job.LinkID)
	if errors.Is(err, tracker.ErrNotFound) {
		return tracker.Link{}, tracker.Cluster{}, false, nil
	}
	if err != nil {
		return tracker.Link{}, tracker.Cluster{}, false, fmt.Errorf("load link %s: %w", job.LinkID, err)
	}
	clusterID := link.ClusterID
	if clusterID == "" {
		clusterID = job.ClusterID
	}
	cluster, err := f.store.GetCluster(ctx, clusterID)
	if errors.Is(err, tracker.ErrNotFound) {
		return link, tracker.Cluster{}, false, nil
	}
	if err != nil {
		return tracker.Link{}, tracker.Cluster{}, false, fmt.Errorf("load cluster %s: %w", clusterID, err)
	}
	return link, cluster, !link.Deleted && !cluster.Deleted, nil
}

// query issues one request per country code, or a single unfiltered one.
// Failed requests contribute no rows.
func (f *Fetcher) query(ctx context.Context, r *run, logger *zap.Logger) ([]tracker.AnalyticsRow, int) {
	countries := tracker.ParseCountryFilter(r.cluster.CountryFilter)
	if len(countries) == 0 {
		countries = []string{""}
	}
	var (
		merged    []tracker.AnalyticsRow
		succeeded int
	)
	for _, country := range countries {
		start := time.Now()
		rows, err := f.gsc.QueryByDate(ctx, r.job.Credentials, tracker.AnalyticsQuery{
			SiteURL:   r.cluster.Domain,
			PageURL:   r.link.URL,
			Device:    r.cluster.DeviceFilter,
			Country:   country,
			StartDate: r.window.Start,
			EndDate:   r.window.End,
		})
		evt := progress.Event{
			RunID: r.id, TS: f.now(), Stage: progress.StageQueryDone,
			LinkID: r.link.ID, Site: r.cluster.Domain, Country: country,
			Rows: int64(len(rows)), Dur: time.Since(start),
		}
		result := queryResult{Country: country, Rows: rows}
		if err != nil {
			logger.Warn("search analytics query failed", zap.String("country", country), zap.Error(err))
			evt.Status, evt.Note, evt.Rows = progress.QueryFailed, err.Error(), 0
			result.Error, result.Rows = err.Error(), nil
		} else {
			evt.Status = progress.QueryOK
			succeeded++
			merged = append(merged, rows...)
			r.rows += len(rows)
		}
		r.queries = append(r.queries, result)
		f.events.Emit(evt)
	}
	return merged, succeeded
}

func (f *Fetcher) fail(ctx context.Context, span trace.Span, r *run, logger *zap.Logger, cause error) error {
	span.SetStatus(codes.Error, cause.Error())
	if err := f.setStatus(ctx, r.link.ID, tracker.LinkError); err != nil {
		logger.Error("set link status failed", zap.Error(err))
	}
	f.emitEnd(r, progress.StageFetchError, string(tracker.LinkError), cause.Error())
	f.publish(ctx, r, string(tracker.LinkError), "", logger)
	metrics.ObserveJob(string(tracker.LinkError))
	return cause
}

// setStatus survives cancellation of ctx so a job cut short by shutdown or
// its timeout still leaves the link in a terminal state.
func (f *Fetcher) setStatus(ctx context.Context, linkID string, status tracker.LinkStatus) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeWait)
	defer cancel()
	return f.store.SetLinkStatus(ctx, linkID, status, f.now())
}

func (f *Fetcher) archive(ctx context.Context, r *run, logger *zap.Logger) string {
	if f.blobs == nil {
		return ""
	}
	body, err := json.Marshal(struct {
		RunID     string        `json:"run_id"`
		LinkID    string        `json:"link_id"`
		ClusterID string        `json:"cluster_id"`
		SiteURL   string        `json:"site_url"`
		PageURL   string        `json:"page_url"`
		Device    string        `json:"device"`
		StartDate string        `json:"start_date"`
		EndDate   string        `json:"end_date"`
		FetchedAt time.Time     `json:"fetched_at"`
		Queries   []queryResult `json:"queries"`
	}{
		RunID:     r.runUUID().String(),
		LinkID:    r.link.ID,
		ClusterID: r.cluster.ID,
		SiteURL:   r.cluster.Domain,
		PageURL:   r.link.URL,
		Device:    tracker.NormalizeFilter(r.cluster.DeviceFilter),
		StartDate: r.window.Start,
		EndDate:   r.window.End,
		FetchedAt: r.started,
		Queries:   r.queries,
	})
	if err != nil {
		logger.Warn("marshal raw archive failed", zap.Error(err))
		return ""
	}
	uri, err := f.blobs.PutObject(ctx, f.archivePath(r), archiveType, bytes.NewReader(body))
	if err != nil {
		logger.Warn("archive raw responses failed", zap.Error(err))
		return ""
	}
	return uri
}

func (f *Fetcher) archivePath(r *run) string {
	name := fmt.Sprintf("%s/%s.json", r.link.ID, r.runUUID())
	prefix := strings.Trim(f.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (f *Fetcher) publish(ctx context.Context, r *run, status, uri string, logger *zap.Logger) {
	if f.publisher == nil || f.cfg.Topic == "" {
		return
	}
	msg := Completion{
		RunID:      r.runUUID().String(),
		LinkID:     r.link.ID,
		ClusterID:  r.cluster.ID,
		SiteURL:    r.cluster.Domain,
		URL:        r.link.URL,
		Status:     status,
		StartDate:  r.window.Start,
		EndDate:    r.window.End,
		Dates:      r.dates,
		RawRows:    r.rows,
		ArchiveURI: uri,
		FinishedAt: f.now().Format(time.RFC3339),
	}
	id, err := f.publisher.Publish(ctx, f.cfg.Topic, msg)
	if err != nil {
		logger.Warn("publish completion failed", zap.Error(err))
		return
	}
	logger.Debug("completion published", zap.String("message_id", id))
}

func (f *Fetcher) emitEnd(r *run, stage progress.Stage, status, note string) {
	linkID := r.link.ID
	if linkID == "" {
		linkID = r.job.LinkID
	}
	now := f.now()
	f.events.Emit(progress.Event{
		RunID: r.id, TS: now, Stage: stage, LinkID: linkID, Site: r.cluster.Domain,
		Rows: int64(r.rows), Dates: int64(r.dates), Status: status,
		Dur: now.Sub(r.started), Note: note,
	})
}

func (f *Fetcher) now() time.Time {
	if f.clock == nil {
		return time.Now().UTC()
	}
	return f.clock.Now()
}

func (r *run) runUUID() uuid.UUID {
	return uuid.UUID(r.id)
}
