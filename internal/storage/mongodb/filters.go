package mongodb

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

// Documents without a deleted field count as live.
func notDeleted() bson.M {
	return bson.M{"$ne": true}
}

func activeByID(id bson.ObjectID) bson.M {
	return bson.M{"_id": id, "deleted": notDeleted()}
}

func trashedByID(id bson.ObjectID) bson.M {
	return bson.M{"_id": id, "deleted": true}
}

func trashUpdate(now time.Time) bson.M {
	return bson.M{"$set": bson.M{"deleted": true, "deletedAt": now, "updatedAt": now}}
}

func restoreUpdate(now time.Time) bson.M {
	return bson.M{
		"$set":   bson.M{"deleted": false, "updatedAt": now},
		"$unset": bson.M{"deletedAt": ""},
	}
}

// clusterNameFilter matches clusters of the user and domain with the given
// name in any state, skipping exclude when it is set.
func clusterNameFilter(userID bson.ObjectID, domain, name string, exclude *bson.ObjectID) bson.M {
	f := bson.M{"userId": userID, "domain": domain, "clusterName": name}
	if exclude != nil {
		f["_id"] = bson.M{"$ne": *exclude}
	}
	return f
}

func clusterListFilter(userID bson.ObjectID, domain string, deleted bool) bson.M {
	f := bson.M{"userId": userID, "domain": domain}
	if deleted {
		f["deleted"] = true
	} else {
		f["deleted"] = notDeleted()
	}
	return f
}

// linkURLFilter matches live links in the cluster with the given URL.
func linkURLFilter(clusterID bson.ObjectID, rawURL string, exclude *bson.ObjectID) bson.M {
	f := bson.M{"clusterId": clusterID, "url": rawURL, "deleted": notDeleted()}
	if exclude != nil {
		f["_id"] = bson.M{"$ne": *exclude}
	}
	return f
}

func linkListFilter(clusterIDs []bson.ObjectID, deleted bool) bson.M {
	f := bson.M{"clusterId": bson.M{"$in": clusterIDs}}
	if deleted {
		f["deleted"] = true
	} else {
		f["deleted"] = notDeleted()
	}
	return f
}

func trashedBeforeFilter(cutoff time.Time) bson.M {
	return bson.M{"deleted": true, "deletedAt": bson.M{"$lt": cutoff}}
}

func performanceRangeFilter(linkIDs []bson.ObjectID, start, end string) bson.M {
	return bson.M{
		"linkId":  bson.M{"$in": linkIDs},
		"date":    bson.M{"$gte": start, "$lte": end},
		"deleted": notDeleted(),
	}
}

// performanceUpsert writes one day keyed by (linkId, date), keeping the
// original createdAt.
func performanceUpsert(linkID bson.ObjectID, row tracker.PerformanceRow, now time.Time) *mongo.UpdateOneModel {
	return mongo.NewUpdateOneModel().
		SetFilter(bson.M{"linkId": linkID, "date": row.Date}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"clicks":      row.Clicks,
				"impressions": row.Impressions,
				"ctr":         row.CTR,
				"position":    row.Position,
				"updatedAt":   now,
			},
			"$setOnInsert": bson.M{"createdAt": now, "deleted": false},
		}).
		SetUpsert(true)
}
