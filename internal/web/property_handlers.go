package web

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

type propertiesView struct {
	Properties []tracker.DomainProperty
	Selected   string
}

// listProperties syncs the user's Search Console sites into the store and
// lists them.
func (s *Server) listProperties(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	if !sess.Authenticated() || sess.Data.Credentials == nil {
		sess.Flash("Authentication required. Please log in.", flashWarning)
		s.redirect(w, r, "/auth/authorize")
		return
	}
	sites, err := s.deps.GSC.ListSites(r.Context(), sess.Data.Credentials)
	if err != nil {
		s.logger.Error("list search console sites failed", zap.String("user_id", sess.Data.UserID), zap.Error(err))
		sess.Flash("Error fetching site list from Google.", flashDanger)
		s.fail(w, r, http.StatusBadGateway, "Error fetching site list from Google.")
		return
	}
	props, err := s.deps.Store.SyncProperties(r.Context(), sess.Data.UserID, sites, s.now())
	if err != nil {
		s.logger.Error("sync properties failed", zap.String("user_id", sess.Data.UserID), zap.Error(err))
		sess.Flash("Error accessing local domain properties.", flashDanger)
		s.fail(w, r, http.StatusInternalServerError, "Error accessing local domain properties.")
		return
	}
	s.render(w, r, http.StatusOK, "sites", "Properties", propertiesView{
		Properties: props,
		Selected:   sess.Data.SelectedSite,
	})
}

func (s *Server) selectProperty(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireUser(w, r, "Authentication required. Please log in.")
	if !ok {
		return
	}
	site := strings.TrimSpace(r.PostFormValue("site_url"))
	if site == "" {
		sess.Flash("Please select a site.", flashWarning)
		s.redirect(w, r, "/dashboard/properties")
		return
	}
	sess.Data.SelectedSite = site
	if err := s.deps.Store.SelectProperty(r.Context(), sess.Data.UserID, site, s.now()); err != nil {
		s.logger.Error("select property failed", zap.String("site", site), zap.Error(err))
		sess.Flash("Error updating domain information.", flashDanger)
		s.fail(w, r, http.StatusInternalServerError, "Error updating domain information.")
		return
	}
	s.logger.Info("property selected", zap.String("user_id", sess.Data.UserID), zap.String("site", site))
	sess.Flash("Site "+site+" selected successfully!", flashSuccess)
	s.redirect(w, r, "/clusters")
}
