package web

import (
	"context"
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

const forbiddenLink = "This link's cluster does not belong to the current user."

type linksPayload struct {
	Links []string `json:"links"`
}

type linkView struct {
	Link    tracker.Link
	Cluster tracker.Cluster
}

// ownedLink loads a link in any state together with its cluster and checks
// the cluster belongs to userID.
func (s *Server) ownedLink(r *http.Request, userID, id string) (tracker.Link, tracker.Cluster, error) {
	link, err := s.deps.Store.GetLink(r.Context(), id)
	if err != nil {
		return tracker.Link{}, tracker.Cluster{}, err
	}
	cluster, err := s.ownedCluster(r, userID, link.ClusterID)
	if err != nil {
		return link, tracker.Cluster{}, fmt.Errorf("cluster of link %s: %w", id, err)
	}
	return link, cluster, nil
}

// enqueueFetch hands a link to the worker pool. The job carries a copy of the
// session credentials so later session changes do not leak into it.
func (s *Server) enqueueFetch(ctx context.Context, sess *session.Session, link tracker.Link, reason string) error {
	job := tracker.FetchJob{LinkID: link.ID, ClusterID: link.ClusterID, Reason: reason}
	if creds := sess.Data.Credentials; creds != nil {
		cp := *creds
		cp.Scopes = append([]string(nil), creds.Scopes...)
		job.Credentials = &cp
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.EnqueueTimeout)
	defer cancel()
	if err := s.deps.Jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue fetch for link %s: %w", link.ID, err)
	}
	return nil
}

// activeCluster loads the route's cluster, which must be owned and not trashed.
func (s *Server) activeCluster(r *http.Request, userID string) (tracker.Cluster, error) {
	cluster, err := s.ownedCluster(r, userID, chi.URLParam(r, "cluster_id"))
	if err == nil && cluster.Deleted {
		return tracker.Cluster{}, tracker.ErrNotFound
	}
	return cluster, err
}

func (s *Server) addLinksForm(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireUser(w, r, "Your session has expired. Please log in again.")
	if !ok {
		return
	}
	if sess.Data.Credentials == nil {
		sess.Flash("Google OAuth credentials not found. Please log in.", flashDanger)
		s.redirect(w, r, "/auth/authorize")
		return
	}
	cluster, err := s.activeCluster(r, sess.Data.UserID)
	if err != nil {
		s.clusterLoadFailed(w, r, sess, err,
			"The cluster you are trying to add links to does not exist or has been deleted.",
			"Cluster not found or deleted")
		return
	}
	s.render(w, r, http.StatusOK, "links_add", "Add links", clusterView{Cluster: cluster})
}

// addLinksJSON creates each valid link and schedules its first fetch. It
// answers 201 when every link was added and 207 with per-link errors otherwise.
func (s *Server) addLinksJSON(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	if !sess.Authenticated() {
		s.redirect(w, r, "/auth/authorize")
		return
	}
	cluster, err := s.activeCluster(r, sess.Data.UserID)
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		s.fail(w, r, http.StatusNotFound, "Cluster not found or deleted")
		return
	case errors.Is(err, tracker.ErrForbidden):
		s.fail(w, r, http.StatusForbidden, forbiddenCluster)
		return
	case err != nil:
		s.logger.Error("load cluster failed", zap.Error(err))
		s.fail(w, r, http.StatusInternalServerError, "Error retrieving cluster")
		return
	}
	var payload linksPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeJSON(w, http.StatusBadRequest, detailBody{Detail: "Invalid JSON payload."})
		return
	}
	if len(payload.Links) == 0 {
		s.writeJSON(w, http.StatusBadRequest, detailBody{Detail: "No links provided."})
		return
	}

	now := s.now()
	created := 0
	var problems []string
	for _, raw := range payload.Links {
		rawURL := strings.TrimSpace(raw)
		if rawURL == "" {
			continue
		}
		if !tracker.CheckDomainConsistency(cluster.Domain, rawURL) {
			problems = append(problems, fmt.Sprintf("Link '%s' does not match domain '%s'.", rawURL, cluster.Domain))
			continue
		}
		link, err := s.deps.Store.CreateLink(r.Context(), tracker.Link{
			ClusterID: cluster.ID,
			URL:       rawURL,
			Status:    tracker.LinkProcessing,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if errors.Is(err, tracker.ErrDuplicate) {
			problems = append(problems, fmt.Sprintf("Link '%s' already exists in this cluster.", rawURL))
			continue
		}
		if err != nil {
			s.logger.Error("create link failed", zap.String("url", rawURL), zap.Error(err))
			problems = append(problems, fmt.Sprintf("Error inserting link '%s' into database.", rawURL))
			continue
		}
		created++
		if err := s.enqueueFetch(r.Context(), sess, link, tracker.FetchReasonCreate); err != nil {
			s.logger.Error("schedule fetch failed", zap.String("link_id", link.ID), zap.Error(err))
			s.markLinkError(r.Context(), link.ID)
			problems = append(problems, fmt.Sprintf("Could not schedule data fetch for link '%s'.", rawURL))
		}
	}

	body := detailBody{Detail: fmt.Sprintf("Added %d link(s).", created)}
	s.logger.Info("links added", zap.String("cluster_id", cluster.ID), zap.Int("count", created), zap.Int("errors", len(problems)))
	if len(problems) > 0 {
		body.Errors = problems
		s.writeJSON(w, http.StatusMultiStatus, body)
		return
	}
	s.writeJSON(w, http.StatusCreated, body)
}

func (s *Server) markLinkError(ctx context.Context, linkID string) {
	if err := s.deps.Store.SetLinkStatus(context.WithoutCancel(ctx), linkID, tracker.LinkError, s.now()); err != nil {
		s.logger.Warn("mark link error failed", zap.String("link_id", linkID), zap.Error(err))
	}
}

func (s *Server) refreshLink(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireUser(w, r, "")
	if !ok {
		return
	}
	cluster, err := s.activeCluster(r, sess.Data.UserID)
	if err != nil {
		s.clusterLoadFailed(w, r, sess, err, "The requested cluster was not found or has been deleted.",
			"Cluster not found or deleted")
		return
	}
	link, err := s.deps.Store.GetLink(r.Context(), chi.URLParam(r, "link_id"))
	if err == nil && (link.Deleted || link.ClusterID != cluster.ID) {
		err = tracker.ErrNotFound
	}
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		sess.Flash("The requested link was not found or has been deleted.", flashDanger)
		s.fail(w, r, http.StatusNotFound, "Link not found or deleted")
		return
	case err != nil:
		s.logger.Error("load link failed", zap.Error(err))
		s.fail(w, r, http.StatusInternalServerError, "Error retrieving cluster or link")
		return
	}
	if err := s.deps.Store.SetLinkStatus(r.Context(), link.ID, tracker.LinkProcessing, s.now()); err != nil {
		s.logger.Error("mark link processing failed", zap.String("link_id", link.ID), zap.Error(err))
		s.fail(w, r, http.StatusInternalServerError, "Error updating link status")
		return
	}
	if err := s.enqueueFetch(r.Context(), sess, link, tracker.FetchReasonRefresh); err != nil {
		s.logger.Error("schedule refresh failed", zap.String("link_id", link.ID), zap.Error(err))
		s.markLinkError(r.Context(), link.ID)
		sess.Flash("Could not schedule the GSC data refresh. Please try again.", flashDanger)
		s.redirect(w, r, clusterPath(cluster.ID))
		return
	}
	sess.Flash("GSC data refresh initiated.", flashInfo)
	s.redirect(w, r, clusterPath(cluster.ID))
}

// linkLoadFailed maps an ownedLink error onto a response.
func (s *Server) linkLoadFailed(
	w http.ResponseWriter,
	r *http.Request,
	sess *session.Session,
	err error,
	notFoundFlash, notFoundDetail, forbiddenFlash string,
) {
	switch {
	case errors.Is(err, tracker.ErrForbidden):
		sess.Flash(forbiddenFlash, flashDanger)
		s.fail(w, r, http.StatusForbidden, forbiddenLink)
	case errors.Is(err, tracker.ErrNotFound):
		sess.Flash(notFoundFlash, flashDanger)
		s.fail(w, r, http.StatusNotFound, notFoundDetail)
	default:
		s.logger.Error("load link failed", zap.Error(err))
		sess.Flash("An error occurred while retrieving the link.", flashDanger)
		s.fail(w, r, http.StatusInternalServerError, "Error retrieving link")
	}
}

// editableLink loads a link whose cluster is still active.
func (s *Server) editableLink(w http.ResponseWriter, r *http.Request, sess *session.Session) (linkView, bool) {
	link, cluster, err := s.ownedLink(r, sess.Data.UserID, chi.URLParam(r, "link_id"))
	if err != nil {
		if link.ID != "" && errors.Is(err, tracker.ErrNotFound) {
			sess.Flash("The associated cluster for this link was deleted.", flashDanger)
			s.fail(w, r, http.StatusNotFound, "Cluster not found or deleted for this link")
			return linkView{}, false
		}
		s.linkLoadFailed(w, r, sess, err, "The requested link does not exist.", "Link not found",
			"You do not have permission to edit this link.")
		return linkView{}, false
	}
	if cluster.Deleted {
		sess.Flash("The associated cluster for this link was deleted.", flashDanger)
		s.fail(w, r, http.StatusNotFound, "Cluster not found or deleted for this link")
		return linkView{}, false
	}
	return linkView{Link: link, Cluster: cluster}, true
}

func (s *Server) editLinkForm(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireUser(w, r, "You need to log in to edit a link.")
	if !ok {
		return
	}
	view, ok := s.editableLink(w, r, sess)
	if !ok {
		return
	}
	s.render(w, r, http.StatusOK, "link_edit", "Edit link", view)
}

func (s *Server) editLink(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireUser(w, r, "You need to log in to edit a link.")
	if !ok {
		return
	}
	view, ok := s.editableLink(w, r, sess)
	if !ok {
		return
	}
	newURL := strings.TrimSpace(r.PostFormValue("url"))
	if newURL == "" {
		sess.Flash("The link URL cannot be empty.", flashDanger)
		s.fail(w, r, http.StatusBadRequest, "Link URL cannot be empty")
		return
	}
	domain := view.Cluster.Domain
	if !tracker.CheckDomainConsistency(domain, newURL) {
		sess.Flash(fmt.Sprintf("Link '%s' does not match the cluster domain '%s'.", newURL, domain), flashDanger)
		s.fail(w, r, http.StatusBadRequest, fmt.Sprintf("Link '%s' does not match domain '%s'", newURL, domain))
		return
	}
	err := s.deps.Store.UpdateLinkURL(r.Context(), view.Link.ID, newURL, s.now())
	switch {
	case errors.Is(err, tracker.ErrDuplicate):
		msg := fmt.Sprintf("Link '%s' already exists in this cluster.", newURL)
		sess.Flash(msg, flashDanger)
		s.fail(w, r, http.StatusBadRequest, msg)
		return
	case err != nil:
		s.logger.Error("update link failed", zap.String("link_id", view.Link.ID), zap.Error(err))
		sess.Flash("An error occurred while updating the link. Please try again.", flashDanger)
		s.fail(w, r, http.StatusInternalServerError, "Error updating link URL")
		return
	}
	sess.Flash("Link updated successfully!", flashSuccess)
	s.redirect(w, r, clusterPath(view.Cluster.ID))
}

func (s *Server) deleteLink(w http.ResponseWriter, r *http.Request) {
	s.softDeleteLink(w, r, "You need to log in to delete a link.",
		"The requested link was not found or has already been deleted.",
		"You do not have permission to delete this link.",
		"An error occurred while deleting the link. Please try again.", "Error deleting link",
		"Link deleted successfully!")
}

func (s *Server) trashLink(w http.ResponseWriter, r *http.Request) {
	s.softDeleteLink(w, r, "You need to log in to trash a link.",
		"The link was not found or is already trashed.",
		"You do not have permission to trash this link.",
		"An error occurred while trashing the link.", "Error trashing link",
		"The link has been moved to trash.")
}

func (s *Server) softDeleteLink(
	w http.ResponseWriter,
	r *http.Request,
	loginMsg, notFoundMsg, forbiddenMsg, failMsg, failDetail, okMsg string,
) {
	sess, ok := s.requireUser(w, r, loginMsg)
	if !ok {
		return
	}
	link, _, err := s.ownedLink(r, sess.Data.UserID, chi.URLParam(r, "link_id"))
	if err == nil && link.Deleted {
		err = tracker.ErrNotFound
	}
	if err != nil {
		s.linkLoadFailed(w, r, sess, err, notFoundMsg, "Link not found or already trashed.", forbiddenMsg)
		return
	}
	if err := s.deps.Store.TrashLink(r.Context(), link.ID, s.now()); err != nil {
		s.logger.Error("trash link failed", zap.String("link_id", link.ID), zap.Error(err))
		sess.Flash(failMsg, flashDanger)
		s.fail(w, r, http.StatusInternalServerError, failDetail)
		return
	}
	s.logger.Info("link trashed", zap.String("link_id", link.ID))
	sess.Flash(okMsg, flashSuccess)
	s.redirect(w, r, clusterPath(link.ClusterID))
}

// trashedLink loads an owned link that must be in the trash.
func (s *Server) trashedLink(w http.ResponseWriter, r *http.Request, sess *session.Session, forbiddenMsg string) (tracker.Link, bool) {
	link, _, err := s.ownedLink(r, sess.Data.UserID, chi.URLParam(r, "link_id"))
	if err == nil && !link.Deleted {
		err = tracker.ErrNotFound
	}
	if err != nil {
		s.linkLoadFailed(w, r, sess, err,
			"The link was not found or is not in trash.", "Link not found or not in trash.", forbiddenMsg)
		return tracker.Link{}, false
	}
	return link, true
}

func (s *Server) restoreLink(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireUser(w, r, "You need to log in to restore a link.")
	if !ok {
		return
	}
	link, ok := s.trashedLink(w, r, sess, "You do not have permission to restore this link.")
	if !ok {
		return
	}
	if err := s.deps.Store.RestoreLink(r.Context(), link.ID, s.now()); err != nil {
		s.logger.Error("restore link failed", zap.String("link_id", link.ID), zap.Error(err))
		sess.Flash("An error occurred while restoring the link.", flashDanger)
		s.fail(w, r, http.StatusInternalServerError, "Error restoring link")
		return
	}
	s.logger.Info("link restored", zap.String("link_id", link.ID))
	sess.Flash("The link has been restored.", flashSuccess)
	s.redirect(w, r, clusterPath(link.ClusterID))
}

func (s *Server) purgeLink(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireUser(w, r, "You need to log in to delete a link permanently.")
	if !ok {
		return
	}
	link, ok := s.trashedLink(w, r, sess, "You do not have permission to delete this link permanently.")
	if !ok {
		return
	}
	if err := s.deps.Store.PurgeLink(r.Context(), link.ID); err != nil {
		s.logger.Error("purge link failed", zap.String("link_id", link.ID), zap.Error(err))
		sess.Flash("An error occurred while deleting the link permanently.", flashDanger)
		s.fail(w, r, http.StatusInternalServerError, "Error deleting link permanently")
		return
	}
	s.logger.Info("link purged", zap.String("link_id", link.ID))
	sess.Flash("The link has been permanently deleted.", flashSuccess)
	s.redirect(w, r, "/clusters")
}
