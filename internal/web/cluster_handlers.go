package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/gsc-tracker/internal/session"
	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

const forbiddenCluster = "This cluster does not belong to the current user."

type clusterInput struct {
	ClusterName   string `json:"clusterName"`
	DeviceFilter  string `json:"deviceFilter"`
	CountryFilter string `json:"countryFilter"`
}

type clustersPayload struct {
	Clusters []clusterInput `json:"clusters"`
}

type clustersView struct {
	Domain   string
	Clusters []tracker.Cluster
}

type clusterView struct {
	Cluster   tracker.Cluster
	Links     []tracker.Link
	Countries []string
}

// ownedCluster loads a cluster in any state and checks it belongs to userID.
func (s *Server) ownedCluster(r *http.Request, userID, id string) (tracker.Cluster, error) {
	c, err := s.deps.Store.GetCluster(r.Context(), id)
	if err != nil {
		return tracker.Cluster{}, err
	}
	if c.UserID != userID {
		return tracker.Cluster{}, tracker.ErrForbidden
	}
	return c, nil
}

// requireSite is requireUser plus a selected property.
func (s *Server) requireSite(w http.ResponseWriter, r *http.Request, msg string) (*session.Session, bool) {
	sess := s.session(r)
	if sess.Authenticated() && sess.Data.SelectedSite != "" {
		return sess, true
	}
	sess.Flash(msg, flashWarning)
	s.redirect(w, r, "/auth/authorize")
	return nil, false
}

func (s *Server) listClusters(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSite(w, r, "Session expired or invalid. Please log in again.")
	if !ok {
		return
	}
	domain := sess.Data.SelectedSite
	clusters, err := s.deps.Store.ListClusters(r.Context(), sess.Data.UserID, domain, false)
	if err != nil {
		s.logger.Error("list clusters failed", zap.String("domain", domain), zap.Error(err))
		sess.Flash("Unable to retrieve clusters. Please try again later.", flashDanger)
		s.fail(w, r, http.StatusInternalServerError, "Error retrieving clusters.")
		return
	}
	s.render(w, r, http.StatusOK, "clusters", "Clusters", clustersView{Domain: domain, Clusters: clusters})
}

func (s *Server) newClusterForm(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSite(w, r, "Your session has expired. Please log in again.")
	if !ok {
		return
	}
	s.render(w, r, http.StatusOK, "cluster_new", "New clusters", clustersView{Domain: sess.Data.SelectedSite})
}

// createClustersJSON creates clusters in order and stops at the first name
// clash; clusters created before the clash are kept.
func (s *Server) createClustersJSON(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	if !sess.Authenticated() || sess.Data.SelectedSite == "" {
		s.redirect(w, r, "/auth/authorize")
		return
	}
	var payload clustersPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeJSON(w, http.StatusBadRequest, detailBody{Detail: "Invalid JSON payload."})
		return
	}
	domain := sess.Data.SelectedSite
	now := s.now()
	created := 0
	for _, in := range payload.Clusters {
		name := strings.TrimSpace(in.ClusterName)
		if name == "" {
			continue
		}
		_, err := s.deps.Store.CreateCluster(r.Context(), tracker.Cluster{
			UserID:        sess.Data.UserID,
			Domain:        domain,
			Name:          name,
			DeviceFilter:  tracker.NormalizeFilter(in.DeviceFilter),
			CountryFilter: tracker.NormalizeFilter(in.CountryFilter),
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		switch {
		case errors.Is(err, tracker.ErrTrashed):
			s.writeJSON(w, http.StatusBadRequest, detailBody{
				Detail: fmt.Sprintf("Cluster '%s' is in trash. Please restore or choose a different name.", name),
			})
			return
		case errors.Is(err, tracker.ErrDuplicate):
			s.writeJSON(w, http.StatusBadRequest, detailBody{
				Detail: fmt.Sprintf("Cluster '%s' already exists for domain '%s'.", name, domain),
			})
			return
		case err != nil:
			s.logger.Error("create cluster failed", zap.String("name", name), zap.Error(err))
			s.writeJSON(w, http.StatusInternalServerError, detailBody{
				Detail: fmt.Sprintf("Error inserting cluster '%s'.", name),
			})
			return
		}
		created++
	}
	if created == 0 {
		s.writeJSON(w, http.StatusBadRequest, detailBody{Detail: "All cluster names were empty or invalid."})
		return
	}
	s.logger.Info("clusters created", zap.String("domain", domain), zap.Int("count", created))
	s.writeJSON(w, http.StatusCreated, detailBody{Detail: fmt.Sprintf("Created %d cluster(s).", created)})
}

func (s *Server) showCluster(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireUser(w, r, "Your session has expired. Please log in again.")
	if !ok {
		return
	}
	cluster, err := s.ownedCluster(r, sess.Data.UserID, chi.URLParam(r, "cluster_id"))
	if err == nil && cluster.Deleted {
		err = tracker.ErrNotFound
	}
	if err != nil {
		s.clusterLoadFailed(w, r, sess, err,
			"The requested cluster was not found or has been deleted.", "Cluster not found or deleted.")
		return
	}
	links, err := s.deps.Store.ListLinks(r.Context(), cluster.ID, false)
	if err != nil {
		s.logger.Error("list links failed", zap.String("cluster_id", cluster.ID), zap.Error(err))
		sess.Flash("There was an error retrieving associated links. Please try again.", flashDanger)
		s.fail(w, r, http.StatusInternalServerError, "Error retrieving cluster links.")
		return
	}
	s.render(w, r, http.StatusOK, "cluster_detail", cluster.Name, clusterView{
		Cluster:   cluster,
		Links:     links,
		Countries: tracker.ParseCountryFilter(cluster.CountryFilter),
	})
}

// clusterLoadFailed maps an ownedCluster error onto a response.
func (s *Server) clusterLoadFailed(
	w http.ResponseWriter,
	r *http.Request,
	sess *session.Session,
	err error,
	notFoundFlash, notFoundDetail string,
) {
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		sess.Flash(notFoundFlash, flashDanger)
		s.fail(w, r, http.StatusNotFound, notFoundDetail)
	case errors.Is(err, tracker.ErrForbidden):
		sess.Flash("You do not have permission to access this cluster.", flashDanger)
		s.fail(w, r, http.StatusForbidden, forbiddenCluster)
	default:
		s.logger.Error("load cluster failed", zap.Error(err))
		sess.Flash("There was an error retrieving cluster details. Please try again.", flashDanger)
		s.fail(w, r, http.StatusInternalServerError, "Error retrieving cluster.")
	}
}

func (s *Server) editClusterForm(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireUser(w, r, "Your session has expired. Please log in again.")
	if !ok {
		return
	}
	cluster, err := s.ownedCluster(r, sess.Data.UserID, chi.URLParam(r, "cluster_id"))
	if err != nil {
		s.clusterLoadFailed(w, r, sess, err, "The requested cluster was not found.", "Cluster not found")
		return
	}
	s.render(w, r, http.StatusOK, "cluster_edit", "Edit "+cluster.Name, clusterView{Cluster: cluster})
}

func (s *Server) editCluster(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireUser(w, r, "Your session has expired. Please log in again.")
	if !ok {
		return
	}
	cluster, err := s.ownedCluster(r, sess.Data.UserID, chi.URLParam(r, "cluster_id"))
	if err != nil {
		s.clusterLoadFailed(w, r, sess, err, "The requested cluster was not found.", "Cluster not found")
		return
	}
	name := strings.TrimSpace(r.PostFormValue("clusterName"))
	if name == "" {
		sess.Flash("Cluster name cannot be empty.", flashDanger)
		s.fail(w, r, http.StatusBadRequest, "Cluster name cannot be empty.")
		return
	}
	cluster.Name = name
	cluster.DeviceFilter = tracker.NormalizeFilter(r.PostFormValue("deviceFilter"))
	cluster.CountryFilter = tracker.NormalizeFilter(r.PostFormValue("countryFilter"))
	err = s.deps.Store.UpdateCluster(r.Context(), cluster, s.now())
	switch {
	case errors.Is(err, tracker.ErrDuplicate):
		msg := fmt.Sprintf("A cluster named '%s' already exists for this domain.", name)
		sess.Flash(msg, flashDanger)
		s.fail(w, r, http.StatusBadRequest, msg)
		return
	case err != nil:
		s.logger.Error("update cluster failed", zap.String("cluster_id", cluster.ID), zap.Error(err))
		sess.Flash("There was an error updating the cluster. Please try again.", flashDanger)
		s.fail(w, r, http.StatusInternalServerError, "Error updating cluster.")
		return
	}
	sess.Flash("Cluster updated successfully!", flashSuccess)
	s.redirect(w, r, clusterPath(cluster.ID))
}

// deleteCluster and trashCluster both soft-delete with cascade; they differ
// only in wording. Failures flash and return to the cluster list.
func (s *Server) deleteCluster(w http.ResponseWriter, r *http.Request) {
	s.softDeleteCluster(w, r, "",
		"Error deleting cluster.", "Cluster deleted successfully.")
}

func (s *Server) trashCluster(w http.ResponseWriter, r *http.Request) {
	s.softDeleteCluster(w, r, "You must be logged in to perform this action.",
		"Error trashing cluster and its related data.", "Cluster moved to trash successfully.")
}

func (s *Server) softDeleteCluster(w http.ResponseWriter, r *http.Request, loginMsg, failMsg, okMsg string) {
	sess, ok := s.requireUser(w, r, loginMsg)
	if !ok {
		return
	}
	cluster, err := s.ownedCluster(r, sess.Data.UserID, chi.URLParam(r, "cluster_id"))
	switch {
	case errors.Is(err, tracker.ErrForbidden):
		sess.Flash("You do not have permission to trash this cluster.", flashDanger)
		s.fail(w, r, http.StatusForbidden, forbiddenCluster)
		return
	case err == nil && cluster.Deleted, errors.Is(err, tracker.ErrNotFound):
		sess.Flash("Cluster not found or already trashed.", flashError)
		s.redirect(w, r, "/clusters")
		return
	case err != nil:
		s.logger.Error("load cluster for trash failed", zap.Error(err))
		sess.Flash("Error retrieving cluster.", flashError)
		s.redirect(w, r, "/clusters")
		return
	}
	if err := s.deps.Store.TrashCluster(r.Context(), cluster.ID, s.now()); err != nil {
		s.logger.Error("trash cluster failed", zap.String("cluster_id", cluster.ID), zap.Error(err))
		sess.Flash(failMsg, flashError)
		s.redirect(w, r, "/clusters")
		return
	}
	s.logger.Info("cluster trashed", zap.String("cluster_id", cluster.ID))
	sess.Flash(okMsg, flashSuccess)
	s.redirect(w, r, "/clusters")
}

// trashedCluster loads a cluster that must be in the trash and owned by the user.
func (s *Server) trashedCluster(w http.ResponseWriter, r *http.Request, sess *session.Session, notFound string) (tracker.Cluster, bool) {
	cluster, err := s.ownedCluster(r, sess.Data.UserID, chi.URLParam(r, "cluster_id"))
	if err == nil && !cluster.Deleted {
		err = tracker.ErrNotFound
	}
	switch {
	case err == nil:
		return cluster, true
	case errors.Is(err, tracker.ErrNotFound):
		sess.Flash("The cluster was not found or is not in the trash.", flashDanger)
		s.fail(w, r, http.StatusNotFound, notFound)
	case errors.Is(err, tracker.ErrForbidden):
		sess.Flash("You do not have permission to access this cluster.", flashDanger)
		s.fail(w, r, http.StatusForbidden, forbiddenCluster)
	default:
		s.logger.Error("load trashed cluster failed", zap.Error(err))
		sess.Flash("An error occurred while retrieving the trashed cluster.", flashDanger)
		s.fail(w, r, http.StatusInternalServerError, "Error retrieving trashed cluster")
	}
	return tracker.Cluster{}, false
}

func (s *Server) restoreCluster(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireUser(w, r, "You need to log in to restore a cluster.")
	if !ok {
		return
	}
	cluster, ok := s.trashedCluster(w, r, sess, "Cluster not found or not trashed.")
	if !ok {
		return
	}
	if err := s.deps.Store.RestoreCluster(r.Context(), cluster.ID, s.now()); err != nil {
		s.logger.Error("restore cluster failed", zap.String("cluster_id", cluster.ID), zap.Error(err))
		sess.Flash("An error occurred while restoring the cluster. Please try again.", flashDanger)
		s.fail(w, r, http.StatusInternalServerError, "Error restoring cluster")
		return
	}
	s.logger.Info("cluster restored", zap.String("cluster_id", cluster.ID))
	sess.Flash("Cluster and all associated data successfully restored!", flashSuccess)
	s.redirect(w, r, clusterPath(cluster.ID))
}

func (s *Server) purgeCluster(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireUser(w, r, "You need to log in to delete a cluster permanently.")
	if !ok {
		return
	}
	cluster, ok := s.trashedCluster(w, r, sess, "Cluster not found or not in trash.")
	if !ok {
		return
	}
	if err := s.deps.Store.PurgeCluster(r.Context(), cluster.ID); err != nil {
		s.logger.Error("purge cluster failed", zap.String("cluster_id", cluster.ID), zap.Error(err))
		sess.Flash("An error occurred while permanently deleting the cluster. Please try again.", flashDanger)
		s.fail(w, r, http.StatusInternalServerError, "Error deleting cluster permanently")
		return
	}
	s.logger.Info("cluster purged", zap.String("cluster_id", cluster.ID))
	sess.Flash("Cluster and all associated data have been permanently deleted.", flashSuccess)
	s.redirect(w, r, "/clusters")
}
