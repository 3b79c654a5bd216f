// Package retention purges trash older than the grace period.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

// TrashStore is what the sweeper needs from storage.
type TrashStore interface {
	ListClustersTrashedBefore(ctx context.Context, cutoff time.Time) ([]tracker.Cluster, error)
	PurgeCluster(ctx context.Context, id string) error
	ListLinksTrashedBefore(ctx context.Context, cutoff time.Time) ([]tracker.Link, error)
	PurgeLink(ctx context.Context, id string) error
}

// Result counts what a sweep removed.
type Result struct {
	Clusters int `json:"clusters"`
	Links    int `json:"links"`
}

// Sweeper physically deletes clusters and links trashed before a cutoff.
type Sweeper struct {
	store     TrashStore
	clock     tracker.Clock
	retention time.Duration
	logger    *zap.Logger
}

// New builds a Sweeper that keeps trash for retention.
func New(store TrashStore, clock tracker.Clock, retention time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, clock: clock, retention: retention, logger: logger}
}

// Sweep purges trash older than the retention period. Clusters go first so
// their links are removed by the cascade; a failure on one item is logged
// and the sweep continues.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	cutoff := s.clock.Now().Add(-s.retention)
	return s.PurgeTrashedBefore(ctx, cutoff)
}

// PurgeTrashedBefore purges everything trashed before cutoff.
func (s *Sweeper) PurgeTrashedBefore(ctx context.Context, cutoff time.Time) (Result, error) {
	var (
		res  Result
		errs []error
	)
	clusters, err := s.store.ListClustersTrashedBefore(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("list trashed clusters: %w", err)
	}
	for _, c := range clusters {
		err := s.store.PurgeCluster(ctx, c.ID)
		if errors.Is(err, tracker.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Warn("purge cluster failed", zap.String("cluster_id", c.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("purge cluster %s: %w", c.ID, err))
			continue
		}
		res.Clusters++
	}

	links, err := s.store.ListLinksTrashedBefore(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("list trashed links: %w", err)
	}
	for _, l := range links {
		err := s.store.PurgeLink(ctx, l.ID)
		if errors.Is(err, tracker.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Warn("purge link failed", zap.String("link_id", l.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("purge link %s: %w", l.ID, err))
			continue
		}
		res.Links++
	}

	s.logger.Info("trash sweep finished",
		zap.Time("cutoff", cutoff),
		zap.Int("clusters", res.Clusters),
		zap.Int("links", res.Links),
	)
	return res, errors.Join(errs...)
}
