package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gsc-tracker/internal/logging"
	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

// DefaultCookieName names the session cookie.
const DefaultCookieName = "session_id"

// DefaultLifetime is how long an idle session survives.
const DefaultLifetime = 7 * 24 * time.Hour

// Options configures a Manager.
type Options struct {
	CookieName string
	Lifetime   time.Duration
	Secure     bool
}

// Manager loads sessions before a request and saves them afterwards.
type Manager struct {
	store  Store
	ids    tracker.IDGenerator
	clock  tracker.Clock
	opts   Options
	logger *zap.Logger
}

// NewManager builds a Manager.
func NewManager(store Store, ids tracker.IDGenerator, clock tracker.Clock, opts Options, logger *zap.Logger) *Manager {
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.Lifetime <= 0 {
		opts.Lifetime = DefaultLifetime
	}
	return &Manager{store: store, ids: ids, clock: clock, opts: opts, logger: logging.OrNop(logger).Named("session")}
}

// Load resolves the session for id. Unknown or expired sessions yield a
// fresh one; expired records are deleted.
func (m *Manager) Load(ctx context.Context, id string) (*Session, bool, error) {
	if id != "" {
		rec, err := m.store.Load(ctx, id)
		switch {
		case err == nil && m.clock.Now().Before(rec.ExpiresAt):
			return &Session{id: rec.ID, Data: rec.Data}, false, nil
		case err == nil:
			if delErr := m.store.Delete(ctx, id); delErr != nil {
				m.logger.Warn("delete expired session failed", zap.Error(delErr))
			}
		case !errors.Is(err, tracker.ErrNotFound):
			return nil, false, err
		}
	}
	newID, err := m.ids.NewID()
	if err != nil {
		return nil, false, err
	}
	return &Session{id: newID}, true, nil
}

// Save persists s with a refreshed expiry.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	return m.store.Save(ctx, Record{ID: s.id, Data: s.Data, ExpiresAt: m.clock.Now().Add(m.opts.Lifetime)})
}

func (m *Manager) cookie(id string) *http.Cookie {
	return &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(m.opts.Lifetime / time.Second),
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Middleware attaches the session to the request context. The session is
// saved just before the response header goes out, and a cookie is set when
// the session is new.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(m.opts.CookieName); err == nil {
			id = c.Value
		}
		sess, fresh, err := m.Load(r.Context(), id)
		if err != nil {
			m.logger.Error("load session failed", zap.Error(err))
			http.Error(w, "session unavailable", http.StatusServiceUnavailable)
			return
		}
		sw := &committingWriter{ResponseWriter: w}
		sw.commit = func() {
			// Detached so a client disconnect does not lose the write.
			ctx := context.WithoutCancel(r.Context())
			if err := m.Save(ctx, sess); err != nil {
				m.logger.Error("save session failed", zap.String("path", r.URL.Path), zap.Error(err))
			}
			if fresh {
				http.SetCookie(w, m.cookie(sess.id))
			}
		}
		next.ServeHTTP(sw, r.WithContext(WithSession(r.Context(), sess)))
		sw.flush()
	})
}

// committingWriter runs commit once, before the header or body is written.
type committingWriter struct {
	http.ResponseWriter
	commit func()
	once   sync.Once
}

func (w *committingWriter) flush() {
	w.once.Do(w.commit)
}

func (w *committingWriter) WriteHeader(code int) {
	w.flush()
	w.ResponseWriter.WriteHeader(code)
}

func (w *committingWriter) Write(b []byte) (int, error) {
	w.flush()
	return w.ResponseWriter.Write(b)
}

func (w *committingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
