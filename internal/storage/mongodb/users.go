package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

// UpsertUser implements tracker.UserStore.
func (s *Store) UpsertUser(ctx context.Context, email, name string, now time.Time) (tracker.User, error) {
	update := bson.M{
		"$set":         bson.M{"name": name, "updatedAt": now},
		"$setOnInsert": bson.M{"createdAt": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc userDoc
	if err := s.users.FindOneAndUpdate(ctx, bson.M{"email": email}, update, opts).Decode(&doc); err != nil {
		return tracker.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return doc.user(), nil
}

// SyncProperties implements tracker.PropertyStore.
func (s *Store) SyncProperties(
	ctx context.Context,
	userID string,
	sites []tracker.Site,
	now time.Time,
) ([]tracker.DomainProperty, error) {
	uid, err := objectID(userID)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(sites))
	for _, site := range sites {
		level := site.PermissionLevel
		if level == "" {
			level = tracker.PermissionUnknown
		}
		if err := s.upsertProperty(ctx, uid, site.URL, level, now); err != nil {
			return nil, err
		}
		urls = append(urls, site.URL)
	}
	_, err = s.properties.UpdateMany(ctx,
		bson.M{"userId": uid, "siteUrl": bson.M{"$nin": urls}},
		bson.M{"$set": bson.M{"active": false, "permissionLevel": tracker.PermissionUnknown, "updatedAt": now}},
	)
	if err != nil {
		return nil, fmt.Errorf("deactivate properties: %w", err)
	}
	cursor, err := s.properties.Find(ctx, bson.M{"userId": uid}, options.Find().SetSort(bson.D{{Key: "siteUrl", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	var docs []propertyDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	out := make([]tracker.DomainProperty, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.property())
	}
	return out, nil
}

// SelectProperty implements tracker.PropertyStore.
func (s *Store) SelectProperty(ctx context.Context, userID, siteURL string, now time.Time) error {
	uid, err := objectID(userID)
	if err != nil {
		return err
	}
	return s.upsertProperty(ctx, uid, siteURL, "", now)
}

func (s *Store) upsertProperty(ctx context.Context, uid bson.ObjectID, siteURL, level string, now time.Time) error {
	set := bson.M{"active": true, "updatedAt": now}
	if level != "" {
		set["permissionLevel"] = level
	}
	_, err := s.properties.UpdateOne(ctx,
		bson.M{"userId": uid, "siteUrl": siteURL},
		bson.M{"$set": set, "$setOnInsert": bson.M{"createdAt": now}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert property %s: %w", siteURL, err)
	}
	return nil
}
