package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gsc-tracker/internal/storage/memory"
	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestSweepPurgesOnlyExpiredTrash(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2024, time.July, 31, 0, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -45)
	recent := now.AddDate(0, 0, -5)
	s := memory.NewStore(nil)

	newCluster := func(name string) tracker.Cluster {
		c, err := s.CreateCluster(ctx, tracker.Cluster{UserID: "u", Domain: "sc-domain:example.com", Name: name})
		require.NoError(t, err)
		return c
	}
	newLink := func(clusterID, url string) tracker.Link {
		l, err := s.CreateLink(ctx, tracker.Link{ClusterID: clusterID, URL: url})
		require.NoError(t, err)
		return l
	}

	expired := newCluster("expired")
	expiredLink := newLink(expired.ID, "https://example.com/1")
	require.NoError(t, s.TrashCluster(ctx, expired.ID, old))

	fresh := newCluster("fresh")
	require.NoError(t, s.TrashCluster(ctx, fresh.ID, recent))

	active := newCluster("active")
	oldLink := newLink(active.ID, "https://example.com/2")
	keptLink := newLink(active.ID, "https://example.com/3")
	require.NoError(t, s.TrashLink(ctx, oldLink.ID, old))

	res, err := New(s, fixedClock{now}, 30*24*time.Hour, nil).Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{Clusters: 1, Links: 1}, res)

	_, err = s.GetCluster(ctx, expired.ID)
	require.ErrorIs(t, err, tracker.ErrNotFound)
	_, err = s.GetLink(ctx, expiredLink.ID)
	require.ErrorIs(t, err, tracker.ErrNotFound)
	_, err = s.GetLink(ctx, oldLink.ID)
	require.ErrorIs(t, err, tracker.ErrNotFound)

	_, err = s.GetCluster(ctx, fresh.ID)
	require.NoError(t, err)
	_, err = s.GetLink(ctx, keptLink.ID)
	require.NoError(t, err)
}

type brokenStore struct {
	listErr error
}

func (b brokenStore) ListClustersTrashedBefore(context.Context, time.Time) ([]tracker.Cluster, error) {
	return nil, b.listErr
}

func (brokenStore) PurgeCluster(context.Context, string) error { return nil }

func (brokenStore) ListLinksTrashedBefore(context.Context, time.Time) ([]tracker.Link, error) {
	return nil, nil
}

func (brokenStore) PurgeLink(context.Context, string) error { return nil }

func TestSweepListError(t *testing.T) {
	t.Parallel()

	store := brokenStore{listErr: errors.New("mongo down")}
	_, err := New(store, fixedClock{time.Now()}, time.Hour, nil).Sweep(context.Background())
	require.ErrorContains(t, err, "mongo down")
}
