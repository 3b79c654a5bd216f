// Package web serves the tracker's HTML dashboard and its small JSON surface.
package web

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/gsc-tracker/internal/auth"
	"github.com/JakeFAU/gsc-tracker/internal/logging"
	"github.com/JakeFAU/gsc-tracker/internal/metrics"
	"github.com/JakeFAU/gsc-tracker/internal/session"
	"github.com/JakeFAU/gsc-tracker/internal/store"
	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

const callbackPath = "/auth/oauth2callback"

// OAuthProvider runs the Google sign-in flow.
type OAuthProvider interface {
	AuthCodeURL(state, redirectURL string) string
	Exchange(ctx context.Context, code, redirectURL string) (*tracker.Credentials, error)
	UserInfo(ctx context.Context, creds *tracker.Credentials) (auth.Profile, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators handlers call into. Runs and Checks are optional.
type Deps struct {
	Store    tracker.Store
	Sessions *session.Manager
	OAuth    OAuthProvider
	GSC      tracker.SearchAnalytics
	Jobs     tracker.JobSubmitter
	Runs     store.FetchRunRepository
	Checks   map[string]Pinger
	IDs      tracker.IDGenerator
	Clock    tracker.Clock
}

// Options tunes the HTTP surface.
type Options struct {
	// RequestTimeout bounds a handler; zero disables the limit.
	RequestTimeout time.Duration
	// RedirectURL pins the OAuth callback. When empty it is derived from
	// PublicURL, or from the request host and forwarded scheme.
	RedirectURL string
	PublicURL   string
	// EnqueueTimeout bounds handing a fetch job to the worker queue.
	EnqueueTimeout time.Duration
	// RetentionDays is shown on the trash page.
	RetentionDays int
}

// Server wires HTTP handlers to the store, sessions and fetch queue.
type Server struct {
	router chi.Router
	deps   Deps
	opts   Options
	pages  *renderer
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options, logger *zap.Logger) (*Server, error) {
	if deps.Store == nil || deps.Sessions == nil || deps.OAuth == nil || deps.GSC == nil || deps.Jobs == nil {
		return nil, errors.New("web: store, sessions, oauth, gsc and jobs are required")
	}
	if deps.IDs == nil || deps.Clock == nil {
		return nil, errors.New("web: id generator and clock are required")
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = 5 * time.Second
	}
	pages, err := newRenderer()
	if err != nil {
		return nil, err
	}
	s := &Server{
		deps:   deps,
		opts:   opts,
		pages:  pages,
		logger: logging.OrNop(logger).Named("web"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(forwardedProtoMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	if opts.RequestTimeout > 0 {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.Get("/health", s.health)
	r.Get("/healthz", s.health)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(deps.Sessions.Middleware)

		r.Get("/", s.index)

		r.Route("/auth", func(r chi.Router) {
			r.Get("/authorize", s.authorize)
			r.Get("/oauth2callback", s.oauthCallback)
			r.Get("/logout", s.logout)
		})

		r.Route("/dashboard/properties", func(r chi.Router) {
			r.Get("/", s.listProperties)
			r.Post("/select", s.selectProperty)
		})

		r.Route("/clusters", func(r chi.Router) {
			r.Get("/", s.listClusters)
			r.Get("/new", s.newClusterForm)
			r.Post("/new-json", s.createClustersJSON)
			r.Route("/{cluster_id}", func(r chi.Router) {
				r.Get("/", s.showCluster)
				r.Get("/edit", s.editClusterForm)
				r.Post("/edit", s.editCluster)
				r.Post("/delete", s.deleteCluster)
				r.Post("/trash", s.trashCluster)
				r.Post("/restore", s.restoreCluster)
				r.Post("/delete-permanently", s.purgeCluster)
				r.Get("/performance", s.clusterPerformance)
				r.Get("/links/add-json", s.addLinksForm)
				r.Post("/links/add-json", s.addLinksJSON)
				r.Post("/links/{link_id}/refresh", s.refreshLink)
			})
		})

		r.Route("/links/{link_id}", func(r chi.Router) {
			r.Get("/edit", s.editLinkForm)
			r.Post("/edit", s.editLink)
			r.Post("/delete", s.deleteLink)
			r.Post("/trash", s.trashLink)
			r.Post("/restore", s.restoreLink)
			r.Post("/delete-permanently", s.purgeLink)
			r.Get("/performance", s.linkPerformance)
			r.Get("/runs", s.listRuns)
		})

		r.Get("/trash/*", s.viewTrash)
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) now() time.Time {
	return s.deps.Clock.Now().UTC()
}

// redirect always answers 303 so POST handlers land on a GET.
func (s *Server) redirect(w http.ResponseWriter, r *http.Request, target string) {
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) session(r *http.Request) *session.Session {
	return session.FromContext(r.Context())
}

// requireUser returns the signed-in session, or flashes msg and sends the
// browser to sign in.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request, msg string) (*session.Session, bool) {
	sess := session.FromContext(r.Context())
	if sess.Authenticated() {
		return sess, true
	}
	if msg != "" {
		sess.Flash(msg, flashWarning)
	}
	s.redirect(w, r, "/auth/authorize")
	return nil, false
}

// callbackURL is the OAuth redirect URI for r.
func (s *Server) callbackURL(r *http.Request) string {
	if s.opts.RedirectURL != "" {
		return s.opts.RedirectURL
	}
	if s.opts.PublicURL != "" {
		return strings.TrimRight(s.opts.PublicURL, "/") + callbackPath
	}
	u := url.URL{Scheme: requestScheme(r), Host: r.Host, Path: callbackPath}
	return u.String()
}

func clusterPath(id string) string {
	return "/clusters/" + url.PathEscape(id)
}
