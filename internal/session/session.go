// Package session keeps per-browser state in a server-side store keyed by an
// opaque cookie.
package session

import (
	"context"
	"time"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

// Data is everything remembered for a browser between requests.
type Data struct {
	UserID       string                 `json:"user_id,omitempty" bson:"user_id,omitempty"`
	UserEmail    string                 `json:"user_email,omitempty" bson:"user_email,omitempty"`
	UserName     string                 `json:"user_name,omitempty" bson:"user_name,omitempty"`
	Credentials  *tracker.Credentials   `json:"credentials,omitempty" bson:"credentials,omitempty"`
	State        string                 `json:"state,omitempty" bson:"state,omitempty"`
	SelectedSite string                 `json:"selected_site,omitempty" bson:"selected_site,omitempty"`
	Flashes      []tracker.FlashMessage `json:"flash_messages,omitempty" bson:"flash_messages,omitempty"`
}

// Record is a stored session.
type Record struct {
	ID        string    `json:"id"`
	Data      Data      `json:"data"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists session records. Load returns tracker.ErrNotFound for
// unknown ids.
type Store interface {
	Load(ctx context.Context, id string) (Record, error)
	Save(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
}

// Session is the request-scoped view handlers mutate.
type Session struct {
	id   string
	Data Data
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Authenticated reports whether a user has signed in.
func (s *Session) Authenticated() bool {
	return s.Data.UserID != ""
}

// Flash queues a message for the next rendered page.
func (s *Session) Flash(message, category string) {
	s.Data.Flashes = append(s.Data.Flashes, tracker.FlashMessage{Message: message, Category: category})
}

// Flashes returns queued messages and clears the queue.
func (s *Session) Flashes() []tracker.FlashMessage {
	out := s.Data.Flashes
	s.Data.Flashes = nil
	return out
}

// Clear drops all data. The id is kept so the cookie stays valid.
func (s *Session) Clear() {
	s.Data = Data{}
}

type ctxKey struct{}

// FromContext returns the request session. Outside the middleware it returns
// a throwaway empty session.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(ctxKey{}).(*Session); ok {
		return s
	}
	return &Session{}
}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}
