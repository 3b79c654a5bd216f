package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/JakeFAU/gsc-tracker/internal/session"
)

var _ session.Store = (*SessionStore)(nil)

type sessionDoc struct {
	ID        string       `bson:"_id"`
	Data      session.Data `bson:"data"`
	ExpiresAt time.Time    `bson:"expiresAt"`
}

// SessionStore keeps sessions in the sessions collection. A TTL index on
// expiresAt lets MongoDB reap abandoned sessions.
type SessionStore struct {
	coll *mongo.Collection
}

// Sessions returns the session store sharing s's database.
func (s *Store) Sessions() *SessionStore {
	return &SessionStore{coll: s.sessions}
}

// Load implements session.Store.
func (s *SessionStore) Load(ctx context.Context, id string) (session.Record, error) {
	var doc sessionDoc
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return session.Record{}, notFound(err)
	}
	return session.Record{ID: doc.ID, Data: doc.Data, ExpiresAt: doc.ExpiresAt}, nil
}

// Save implements session.Store.
func (s *SessionStore) Save(ctx context.Context, rec session.Record) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": rec.ID},
		bson.M{"$set": bson.M{"data": rec.Data, "expiresAt": rec.ExpiresAt}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Delete implements session.Store.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
