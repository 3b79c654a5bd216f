package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/gsc-tracker/internal/aggregate"
	"github.com/JakeFAU/gsc-tracker/internal/session"
	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

type performanceView struct {
	Cluster tracker.Cluster
	Link    *tracker.Link
	Links   []tracker.Link
	Window  tracker.Window
	Rows    []tracker.PerformanceRow
	Summary aggregate.Summary
}

// window reads the start and end query parameters, falling back to the
// default display range when either is missing.
func (s *Server) window(w http.ResponseWriter, r *http.Request, sess *session.Session) (tracker.Window, bool) {
	q := r.URL.Query()
	win := tracker.WindowOrDefault(q.Get("start"), q.Get("end"), s.now())
	start, err1 := time.Parse(tracker.DateLayout, win.Start)
	end, err2 := time.Parse(tracker.DateLayout, win.End)
	if err1 != nil || err2 != nil || start.After(end) {
		sess.Flash("Invalid date range provided. Please select a valid range.", flashDanger)
		s.fail(w, r, http.StatusBadRequest, "Invalid date range parameters")
		return tracker.Window{}, false
	}
	return win, true
}

func (s *Server) linkPerformance(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireUser(w, r, "You need to log in to view link performance.")
	if !ok {
		return
	}
	win, ok := s.window(w, r, sess)
	if !ok {
		return
	}
	link, cluster, err := s.ownedLink(r, sess.Data.UserID, chi.URLParam(r, "link_id"))
	switch {
	case err == nil:
	case link.ID != "" && errors.Is(err, tracker.ErrNotFound):
		sess.Flash("No cluster found for this link. It may have been deleted.", flashDanger)
		s.fail(w, r, http.StatusNotFound, "Cluster not found for this link")
		return
	default:
		s.linkLoadFailed(w, r, sess, err, "The requested link was not found.", "Link not found",
			"You do not have permission to view this link.")
		return
	}

	docs, err := s.deps.Store.ListPerformance(r.Context(), []string{link.ID}, win.Start, win.End)
	if err != nil {
		s.logger.Error("list link performance failed", zap.String("link_id", link.ID), zap.Error(err))
		sess.Flash("An error occurred while displaying performance data.", flashDanger)
		s.fail(w, r, http.StatusInternalServerError, "Error retrieving performance data")
		return
	}
	rows := aggregate.Performance(docs)
	if len(rows) == 0 {
		sess.Flash("No performance data available for the selected date range.", flashInfo)
	}
	s.render(w, r, http.StatusOK, "link_performance", "Link performance", performanceView{
		Cluster: cluster,
		Link:    &link,
		Window:  win,
		Rows:    rows,
		Summary: aggregate.Summarize(rows),
	})
}

// clusterPerformance merges the stored rows of every active link in the
// cluster into one series.
func (s *Server) clusterPerformance(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireUser(w, r, "You need to log in to view cluster performance.")
	if !ok {
		return
	}
	win, ok := s.window(w, r, sess)
	if !ok {
		return
	}
	cluster, err := s.activeCluster(r, sess.Data.UserID)
	if err != nil {
		s.clusterLoadFailed(w, r, sess, err,
			"The requested cluster was not found or has been deleted.", "Cluster not found or deleted.")
		return
	}
	links, err := s.deps.Store.ListLinks(r.Context(), cluster.ID, false)
	if err != nil {
		s.logger.Error("list links failed", zap.String("cluster_id", cluster.ID), zap.Error(err))
		sess.Flash("An error occurred while retrieving cluster links.", flashDanger)
		s.fail(w, r, http.StatusInternalServerError, "Error retrieving links")
		return
	}
	view := performanceView{Cluster: cluster, Links: links, Window: win}
	if len(links) == 0 {
		sess.Flash("No links found in this cluster.", flashInfo)
		s.render(w, r, http.StatusOK, "cluster_performance", cluster.Name+" performance", view)
		return
	}
	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.ID)
	}
	docs, err := s.deps.Store.ListPerformance(r.Context(), ids, win.Start, win.End)
	if err != nil {
		s.logger.Error("list cluster performance failed", zap.String("cluster_id", cluster.ID), zap.Error(err))
		sess.Flash("An error occurred while retrieving performance data.", flashDanger)
		s.fail(w, r, http.StatusInternalServerError, "Error retrieving performance data")
		return
	}
	view.Rows = aggregate.Performance(docs)
	view.Summary = aggregate.Summarize(view.Rows)
	if len(view.Rows) == 0 {
		sess.Flash("No performance data available for the selected date range.", flashInfo)
	}
	s.render(w, r, http.StatusOK, "cluster_performance", cluster.Name+" performance", view)
}
