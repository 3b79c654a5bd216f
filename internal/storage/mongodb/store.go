// Package mongodb implements the tracker stores on MongoDB.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/JakeFAU/gsc-tracker/internal/logging"
	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

// Collection names.
const (
	UsersCollection       = "users"
	PropertiesCollection  = "domain_properties"
	ClustersCollection    = "clusters"
	LinksCollection       = "links"
	PerformanceCollection = "link_performance"
	SessionsCollection    = "sessions"
)

var _ tracker.Store = (*Store)(nil)

// Config points at a MongoDB deployment.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// Store implements tracker.Store.
type Store struct {
	client      *mongo.Client
	db          *mongo.Database
	users       *mongo.Collection
	properties  *mongo.Collection
	clusters    *mongo.Collection
	links       *mongo.Collection
	performance *mongo.Collection
	sessions    *mongo.Collection
	logger      *zap.Logger
}

// Connect dials MongoDB, verifies the connection and returns a Store.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, errors.New("mongo uri and database are required")
	}
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, errors.Join(fmt.Errorf("ping mongo: %w", err), client.Disconnect(ctx))
	}
	return New(client, cfg.Database, logger), nil
}

// New wraps an existing client.
func New(client *mongo.Client, database string, logger *zap.Logger) *Store {
	db := client.Database(database)
	return &Store{
		client:      client,
		db:          db,
		users:       db.Collection(UsersCollection),
		properties:  db.Collection(PropertiesCollection),
		clusters:    db.Collection(ClustersCollection),
		links:       db.Collection(LinksCollection),
		performance: db.Collection(PerformanceCollection),
		sessions:    db.Collection(SessionsCollection),
		logger:      logging.OrNop(logger).Named("mongo"),
	}
}

// EnsureIndexes creates the indexes the stores rely on. It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	for coll, models := range indexModels() {
		names, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("create %s indexes: %w", coll, err)
		}
		s.logger.Debug("indexes ready", zap.String("collection", coll), zap.Strings("indexes", names))
	}
	return nil
}

func indexModels() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		UsersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		PropertiesCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "siteUrl", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		ClustersCollection: {
			{
				Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "domain", Value: 1}, {Key: "clusterName", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "deleted", Value: 1}, {Key: "deletedAt", Value: 1}}},
		},
		LinksCollection: {
			{Keys: bson.D{{Key: "clusterId", Value: 1}, {Key: "deleted", Value: 1}}},
		},
		PerformanceCollection: {
			{Keys: bson.D{{Key: "linkId", Value: 1}, {Key: "date", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "linkId", Value: 1}, {Key: "date", Value: 1}, {Key: "deleted", Value: 1}}},
		},
		SessionsCollection: {
			{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		},
	}
}

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

// objectID parses a hex id. Malformed ids are reported as not found.
func objectID(id string) (bson.ObjectID, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.ObjectID{}, fmt.Errorf("id %q: %w", id, tracker.ErrNotFound)
	}
	return oid, nil
}

func objectIDs(ids []string) []bson.ObjectID {
	out := make([]bson.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := bson.ObjectIDFromHex(id); err == nil {
			out = append(out, oid)
		}
	}
	return out
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return tracker.ErrNotFound
	}
	return err
}
