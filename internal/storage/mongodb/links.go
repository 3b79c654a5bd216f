package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

// CreateLink implements tracker.LinkStore.
func (s *Store) CreateLink(ctx context.Context, l tracker.Link) (tracker.Link, error) {
	cid, err := objectID(l.ClusterID)
	if err != nil {
		return tracker.Link{}, err
	}
	n, err := s.links.CountDocuments(ctx, linkURLFilter(cid, l.URL, nil))
	if err != nil {
		return tracker.Link{}, fmt.Errorf("check link url: %w", err)
	}
	if n > 0 {
		return tracker.Link{}, tracker.ErrDuplicate
	}
	status := l.Status
	if status == "" {
		status = tracker.LinkProcessing
	}
	doc := linkDoc{
		ID:        bson.NewObjectID(),
		ClusterID: cid,
		URL:       l.URL,
		Status:    status,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
	if _, err := s.links.InsertOne(ctx, doc); err != nil {
		return tracker.Link{}, fmt.Errorf("insert link: %w", err)
	}
	return doc.link(), nil
}

// GetLink implements tracker.LinkStore.
func (s *Store) GetLink(ctx context.Context, id string) (tracker.Link, error) {
	oid, err := objectID(id)
	if err != nil {
		return tracker.Link{}, err
	}
	var doc linkDoc
	if err := s.links.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return tracker.Link{}, notFound(err)
	}
	return doc.link(), nil
}

// ListLinks implements tracker.LinkStore.
func (s *Store) ListLinks(ctx context.Context, clusterID string, deleted bool) ([]tracker.Link, error) {
	return s.ListLinksByClusters(ctx, []string{clusterID}, deleted)
}

// ListLinksByClusters implements tracker.LinkStore.
func (s *Store) ListLinksByClusters(ctx context.Context, clusterIDs []string, deleted bool) ([]tracker.Link, error) {
	ids := objectIDs(clusterIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	return s.findLinks(ctx, linkListFilter(ids, deleted))
}

// ListLinksTrashedBefore implements tracker.LinkStore.
func (s *Store) ListLinksTrashedBefore(ctx context.Context, cutoff time.Time) ([]tracker.Link, error) {
	return s.findLinks(ctx, trashedBeforeFilter(cutoff))
}

func (s *Store) findLinks(ctx context.Context, filter bson.M) ([]tracker.Link, error) {
	cursor, err := s.links.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find links: %w", err)
	}
	var docs []linkDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode links: %w", err)
	}
	out := make([]tracker.Link, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.link())
	}
	return out, nil
}

// UpdateLinkURL implements tracker.LinkStore.
func (s *Store) UpdateLinkURL(ctx context.Context, id, rawURL string, now time.Time) error {
	current, err := s.GetLink(ctx, id)
	if err != nil {
		return err
	}
	oid, _ := objectID(id)
	cid, err := objectID(current.ClusterID)
	if err != nil {
		return err
	}
	n, err := s.links.CountDocuments(ctx, linkURLFilter(cid, rawURL, &oid))
	if err != nil {
		return fmt.Errorf("check link url: %w", err)
	}
	if n > 0 {
		return tracker.ErrDuplicate
	}
	if _, err := s.links.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"url": rawURL, "updatedAt": now}}); err != nil {
		return fmt.Errorf("update link: %w", err)
	}
	return nil
}

// SetLinkStatus implements tracker.LinkStore.
func (s *Store) SetLinkStatus(ctx context.Context, id string, status tracker.LinkStatus, now time.Time) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	res, err := s.links.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"status": status, "updatedAt": now}})
	if err != nil {
		return fmt.Errorf("set link status: %w", err)
	}
	if res.MatchedCount == 0 {
		return tracker.ErrNotFound
	}
	return nil
}

// TrashLink implements tracker.LinkStore.
func (s *Store) TrashLink(ctx context.Context, id string, now time.Time) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	res, err := s.links.UpdateOne(ctx, activeByID(oid), trashUpdate(now))
	if err != nil {
		return fmt.Errorf("trash link: %w", err)
	}
	if res.MatchedCount == 0 {
		return tracker.ErrNotFound
	}
	return s.trashPerformance(ctx, []bson.ObjectID{oid}, now)
}

// RestoreLink implements tracker.LinkStore.
func (s *Store) RestoreLink(ctx context.Context, id string, now time.Time) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	res, err := s.links.UpdateOne(ctx, trashedByID(oid), restoreUpdate(now))
	if err != nil {
		return fmt.Errorf("restore link: %w", err)
	}
	if res.MatchedCount == 0 {
		return tracker.ErrNotFound
	}
	return s.restorePerformance(ctx, []bson.ObjectID{oid}, now)
}

// PurgeLink implements tracker.LinkStore.
func (s *Store) PurgeLink(ctx context.Context, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	if _, err := s.performance.DeleteMany(ctx, bson.M{"linkId": oid}); err != nil {
		return fmt.Errorf("purge link performance: %w", err)
	}
	res, err := s.links.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("purge link: %w", err)
	}
	if res.DeletedCount == 0 {
		return tracker.ErrNotFound
	}
	return nil
}
