package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

// UpsertPerformance implements tracker.PerformanceStore with one unordered
// bulk write.
func (s *Store) UpsertPerformance(
	ctx context.Context,
	linkID string,
	rows []tracker.PerformanceRow,
	now time.Time,
) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	lid, err := objectID(linkID)
	if err != nil {
		return 0, err
	}
	models := make([]mongo.WriteModel, 0, len(rows))
	for _, row := range rows {
		models = append(models, performanceUpsert(lid, row, now))
	}
	res, err := s.performance.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("bulk upsert performance: %w", err)
	}
	return int(res.UpsertedCount + res.ModifiedCount), nil
}

// ListPerformance implements tracker.PerformanceStore.
func (s *Store) ListPerformance(
	ctx context.Context,
	linkIDs []string,
	start, end string,
) ([]tracker.LinkPerformance, error) {
	ids := objectIDs(linkIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "linkId", Value: 1}})
	cursor, err := s.performance.Find(ctx, performanceRangeFilter(ids, start, end), opts)
	if err != nil {
		return nil, fmt.Errorf("find performance: %w", err)
	}
	var docs []performanceDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode performance: %w", err)
	}
	out := make([]tracker.LinkPerformance, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.performance())
	}
	return out, nil
}

func (s *Store) trashPerformance(ctx context.Context, linkIDs []bson.ObjectID, now time.Time) error {
	if len(linkIDs) == 0 {
		return nil
	}
	filter := bson.M{"linkId": bson.M{"$in": linkIDs}, "deleted": notDeleted()}
	if _, err := s.performance.UpdateMany(ctx, filter, trashUpdate(now)); err != nil {
		return fmt.Errorf("trash performance: %w", err)
	}
	return nil
}

func (s *Store) restorePerformance(ctx context.Context, linkIDs []bson.ObjectID, now time.Time) error {
	if len(linkIDs) == 0 {
		return nil
	}
	filter := bson.M{"linkId": bson.M{"$in": linkIDs}, "deleted": true}
	if _, err := s.performance.UpdateMany(ctx, filter, restoreUpdate(now)); err != nil {
		return fmt.Errorf("restore performance: %w", err)
	}
	return nil
}
