package web

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

type trashView struct {
	Domain        string
	Clusters      []tracker.Cluster
	Links         []tracker.Link
	RetentionDays int
}

// viewTrash lists the user's trashed clusters in a domain plus trashed links
// from any of the user's clusters there. The domain is the rest of the path
// since property URLs carry slashes.
func (s *Server) viewTrash(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireUser(w, r, "You need to log in to view trashed items.")
	if !ok {
		return
	}
	domain := chi.URLParam(r, "*")
	if unescaped, err := url.PathUnescape(domain); err == nil {
		domain = unescaped
	}
	domain = strings.TrimSpace(domain)
	if domain == "" {
		domain = sess.Data.SelectedSite
	}
	userID := sess.Data.UserID

	view, err := s.loadTrash(r, userID, domain)
	if err != nil {
		s.logger.Error("load trash failed", zap.String("domain", domain), zap.Error(err))
		sess.Flash("No trashed clusters or links found for this domain.", flashInfo)
		s.fail(w, r, http.StatusInternalServerError, "Error retrieving trash data")
		return
	}
	view.RetentionDays = s.opts.RetentionDays
	s.render(w, r, http.StatusOK, "trash", "Trash", view)
}

func (s *Server) loadTrash(r *http.Request, userID, domain string) (trashView, error) {
	view := trashView{Domain: domain}
	active, err := s.deps.Store.ListClusters(r.Context(), userID, domain, false)
	if err != nil {
		return view, err
	}
	trashed, err := s.deps.Store.ListClusters(r.Context(), userID, domain, true)
	if err != nil {
		return view, err
	}
	view.Clusters = trashed

	ids := make([]string, 0, len(active)+len(trashed))
	for _, c := range active {
		ids = append(ids, c.ID)
	}
	for _, c := range trashed {
		ids = append(ids, c.ID)
	}
	if len(ids) == 0 {
		return view, nil
	}
	view.Links, err = s.deps.Store.ListLinksByClusters(r.Context(), ids, true)
	return view, err
}
