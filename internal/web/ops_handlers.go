package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/gsc-tracker/internal/store"
	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

const (
	readyTimeout    = 2 * time.Second
	runsTimeout     = 3 * time.Second
	defaultRunLimit = 20
	maxRunLimit     = 200
)

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readyBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// readyz pings every registered dependency and answers 503 if any fails.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	body := readyBody{Status: "ready", Checks: make(map[string]string, len(s.deps.Checks))}
	status := http.StatusOK
	for name, p := range s.deps.Checks {
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			body.Checks[name] = err.Error()
			body.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		body.Checks[name] = "ok"
	}
	s.writeJSON(w, status, body)
}

type runsBody struct {
	Runs []store.FetchRun `json:"runs"`
}

// listRuns handles GET /links/{link_id}/runs?limit=&offset= with the link's
// fetch history, newest first.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Message: "An error occurred.", Detail: "fetch run store unavailable"})
		return
	}
	sess := s.session(r)
	if !sess.Authenticated() {
		s.writeJSON(w, http.StatusUnauthorized, errorBody{Message: "An error occurred.", Detail: "authentication required"})
		return
	}
	link, _, err := s.ownedLink(r, sess.Data.UserID, chi.URLParam(r, "link_id"))
	switch {
	case errors.Is(err, tracker.ErrForbidden):
		s.writeJSON(w, http.StatusForbidden, errorBody{Message: "An error occurred.", Detail: forbiddenLink})
		return
	case errors.Is(err, tracker.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorBody{Message: "An error occurred.", Detail: "Link not found"})
		return
	case err != nil:
		s.logger.Error("load link failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Message: "An error occurred.", Detail: "Error retrieving link"})
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Message: "An error occurred.", Detail: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), runsTimeout)
	defer cancel()
	runs, err := s.deps.Runs.ListRuns(ctx, link.ID, limit, offset)
	if err != nil {
		s.logger.Error("list fetch runs failed", zap.String("link_id", link.ID), zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Message: "An error occurred.", Detail: "failed to list fetch runs"})
		return
	}
	if runs == nil {
		runs = []store.FetchRun{}
	}
	s.writeJSON(w, http.StatusOK, runsBody{Runs: runs})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
