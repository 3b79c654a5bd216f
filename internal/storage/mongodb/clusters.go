package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

// CreateCluster implements tracker.ClusterStore.
func (s *Store) CreateCluster(ctx context.Context, c tracker.Cluster) (tracker.Cluster, error) {
	uid, err := objectID(c.UserID)
	if err != nil {
		return tracker.Cluster{}, err
	}
	var existing clusterDoc
	err = s.clusters.FindOne(ctx, clusterNameFilter(uid, c.Domain, c.Name, nil)).Decode(&existing)
	switch {
	case err == nil && existing.Deleted:
		return tracker.Cluster{}, tracker.ErrTrashed
	case err == nil:
		return tracker.Cluster{}, tracker.ErrDuplicate
	case !errors.Is(err, mongo.ErrNoDocuments):
		return tracker.Cluster{}, fmt.Errorf("check cluster name: %w", err)
	}
	doc := clusterDoc{
		ID:            bson.NewObjectID(),
		UserID:        uid,
		Domain:        c.Domain,
		Name:          c.Name,
		DeviceFilter:  c.DeviceFilter,
		CountryFilter: c.CountryFilter,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
	if _, err := s.clusters.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return tracker.Cluster{}, tracker.ErrDuplicate
		}
		return tracker.Cluster{}, fmt.Errorf("insert cluster: %w", err)
	}
	return doc.cluster(), nil
}

// GetCluster implements tracker.ClusterStore.
func (s *Store) GetCluster(ctx context.Context, id string) (tracker.Cluster, error) {
	oid, err := objectID(id)
	if err != nil {
		return tracker.Cluster{}, err
	}
	var doc clusterDoc
	if err := s.clusters.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return tracker.Cluster{}, notFound(err)
	}
	return doc.cluster(), nil
}

// ListClusters implements tracker.ClusterStore.
func (s *Store) ListClusters(ctx context.Context, userID, domain string, deleted bool) ([]tracker.Cluster, error) {
	uid, err := objectID(userID)
	if err != nil {
		return nil, fmt.Errorf("list clusters: user %w", err)
	}
	return s.findClusters(ctx, clusterListFilter(uid, domain, deleted))
}

// ListClustersTrashedBefore implements tracker.ClusterStore.
func (s *Store) ListClustersTrashedBefore(ctx context.Context, cutoff time.Time) ([]tracker.Cluster, error) {
	return s.findClusters(ctx, trashedBeforeFilter(cutoff))
}

func (s *Store) findClusters(ctx context.Context, filter bson.M) ([]tracker.Cluster, error) {
	cursor, err := s.clusters.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find clusters: %w", err)
	}
	var docs []clusterDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode clusters: %w", err)
	}
	out := make([]tracker.Cluster, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.cluster())
	}
	return out, nil
}

// UpdateCluster implements tracker.ClusterStore.
func (s *Store) UpdateCluster(ctx context.Context, c tracker.Cluster, now time.Time) error {
	oid, err := objectID(c.ID)
	if err != nil {
		return err
	}
	current, err := s.GetCluster(ctx, c.ID)
	if err != nil {
		return err
	}
	uid, err := objectID(current.UserID)
	if err != nil {
		return err
	}
	n, err := s.clusters.CountDocuments(ctx, clusterNameFilter(uid, current.Domain, c.Name, &oid))
	if err != nil {
		return fmt.Errorf("check cluster name: %w", err)
	}
	if n > 0 {
		return tracker.ErrDuplicate
	}
	_, err = s.clusters.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{
		"clusterName":   c.Name,
		"deviceFilter":  c.DeviceFilter,
		"countryFilter": c.CountryFilter,
		"updatedAt":     now,
	}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return tracker.ErrDuplicate
		}
		return fmt.Errorf("update cluster: %w", err)
	}
	return nil
}

func (s *Store) clusterLinkIDs(ctx context.Context, clusterID bson.ObjectID) ([]bson.ObjectID, error) {
	cursor, err := s.links.Find(ctx, bson.M{"clusterId": clusterID}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("find cluster links: %w", err)
	}
	var docs []idDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode cluster links: %w", err)
	}
	ids := make([]bson.ObjectID, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// TrashCluster implements tracker.ClusterStore.
func (s *Store) TrashCluster(ctx context.Context, id string, now time.Time) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	res, err := s.clusters.UpdateOne(ctx, activeByID(oid), trashUpdate(now))
	if err != nil {
		return fmt.Errorf("trash cluster: %w", err)
	}
	if res.MatchedCount == 0 {
		return tracker.ErrNotFound
	}
	linkIDs, err := s.clusterLinkIDs(ctx, oid)
	if err != nil {
		return err
	}
	if _, err := s.links.UpdateMany(ctx, bson.M{"clusterId": oid, "deleted": notDeleted()}, trashUpdate(now)); err != nil {
		return fmt.Errorf("trash cluster links: %w", err)
	}
	return s.trashPerformance(ctx, linkIDs, now)
}

// RestoreCluster implements tracker.ClusterStore.
func (s *Store) RestoreCluster(ctx context.Context, id string, now time.Time) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	res, err := s.clusters.UpdateOne(ctx, trashedByID(oid), restoreUpdate(now))
	if err != nil {
		return fmt.Errorf("restore cluster: %w", err)
	}
	if res.MatchedCount == 0 {
		return tracker.ErrNotFound
	}
	linkIDs, err := s.clusterLinkIDs(ctx, oid)
	if err != nil {
		return err
	}
	if _, err := s.links.UpdateMany(ctx, bson.M{"clusterId": oid, "deleted": true}, restoreUpdate(now)); err != nil {
		return fmt.Errorf("restore cluster links: %w", err)
	}
	return s.restorePerformance(ctx, linkIDs, now)
}

// PurgeCluster implements tracker.ClusterStore.
func (s *Store) PurgeCluster(ctx context.Context, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	linkIDs, err := s.clusterLinkIDs(ctx, oid)
	if err != nil {
		return err
	}
	if len(linkIDs) > 0 {
		if _, err := s.performance.DeleteMany(ctx, bson.M{"linkId": bson.M{"$in": linkIDs}}); err != nil {
			return fmt.Errorf("purge cluster performance: %w", err)
		}
		if _, err := s.links.DeleteMany(ctx, bson.M{"clusterId": oid}); err != nil {
			return fmt.Errorf("purge cluster links: %w", err)
		}
	}
	res, err := s.clusters.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("purge cluster: %w", err)
	}
	if res.DeletedCount == 0 {
		return tracker.ErrNotFound
	}
	return nil
}
