package web

import (
	"net/http"

	"go.uber.org/zap"
)

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "index", "GSC Tracker", nil)
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	state, err := s.deps.IDs.NewID()
	if err != nil {
		s.logger.Error("generate oauth state failed", zap.Error(err))
		sess.Flash("An error occurred during authentication. Please try again.", flashDanger)
		s.fail(w, r, http.StatusInternalServerError, "Error during authorization.")
		return
	}
	sess.Data.State = state
	sess.Flash("Redirecting to Google for authentication...", flashInfo)
	s.logger.Info("redirecting to google consent screen")
	s.redirect(w, r, s.deps.OAuth.AuthCodeURL(state, s.callbackURL(r)))
}

func (s *Server) oauthCallback(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	q := r.URL.Query()
	state := sess.Data.State
	if state == "" || q.Get("state") != state {
		s.logger.Warn("oauth callback state mismatch", zap.Bool("missing", state == ""))
		sess.Flash("Session expired or invalid. Please try again.", flashDanger)
		s.fail(w, r, http.StatusBadRequest, "Session state missing. Please try again.")
		return
	}
	sess.Data.State = ""

	if reason := q.Get("error"); reason != "" {
		s.logger.Warn("oauth consent refused", zap.String("error", reason))
		sess.Flash("Authentication failed. Please try again.", flashDanger)
		s.redirect(w, r, "/")
		return
	}
	creds, err := s.deps.OAuth.Exchange(r.Context(), q.Get("code"), s.callbackURL(r))
	if err != nil {
		s.logger.Error("oauth code exchange failed", zap.Error(err))
		sess.Flash("Authentication failed. Please try again.", flashDanger)
		s.redirect(w, r, "/")
		return
	}
	sess.Data.Credentials = creds

	profile, err := s.deps.OAuth.UserInfo(r.Context(), creds)
	if err != nil || profile.Email == "" {
		s.logger.Error("fetch google profile failed", zap.Error(err))
		sess.Flash("Failed to retrieve your Google profile. Please try again.", flashWarning)
		s.redirect(w, r, "/dashboard/properties")
		return
	}
	sess.Data.UserEmail = profile.Email
	sess.Data.UserName = profile.Name

	user, err := s.deps.Store.UpsertUser(r.Context(), profile.Email, profile.Name, s.now())
	if err != nil {
		s.logger.Error("upsert user failed", zap.String("email", profile.Email), zap.Error(err))
		sess.Flash("User authentication failed. Please try again.", flashDanger)
		s.redirect(w, r, "/dashboard/properties")
		return
	}
	sess.Data.UserID = user.ID
	s.logger.Info("user signed in", zap.String("user_id", user.ID))
	sess.Flash("Login successful! Welcome back.", flashSuccess)
	s.redirect(w, r, "/dashboard/properties")
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	sess.Clear()
	s.logger.Info("user signed out")
	sess.Flash("You have been logged out successfully.", flashSuccess)
	s.redirect(w, r, "/")
}
