package web

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gsc-tracker/internal/session"
	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

// Flash categories understood by the layout.
const (
	flashInfo    = "info"
	flashSuccess = "success"
	flashWarning = "warning"
	flashDanger  = "danger"
	flashError   = "error"
)

//go:embed templates/*.html
var templateFS embed.FS

const layoutFile = "templates/layout.html"

// page is the data every template receives.
type page struct {
	Title        string
	UserName     string
	UserEmail    string
	SignedIn     bool
	SelectedSite string
	Flashes      []tracker.FlashMessage
	Data         any
}

type renderer struct {
	pages map[string]*template.Template
}

var templateFuncs = template.FuncMap{
	"percent": func(v float64) string {
		return strconv.FormatFloat(v*100, 'f', 2, 64) + "%"
	},
	"fixed": func(v float64) string {
		return strconv.FormatFloat(v, 'f', 2, 64)
	},
	"count": func(v float64) string {
		return strconv.FormatFloat(v, 'f', 0, 64)
	},
	"stamp": func(t any) string {
		switch v := t.(type) {
		case time.Time:
			if v.IsZero() {
				return ""
			}
			return v.UTC().Format("2006-01-02 15:04")
		case *time.Time:
			if v == nil || v.IsZero() {
				return ""
			}
			return v.UTC().Format("2006-01-02 15:04")
		}
		return ""
	},
	"pathEscape": url.PathEscape,
}

func newRenderer() (*renderer, error) {
	files, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	rd := &renderer{pages: make(map[string]*template.Template, len(files))}
	for _, file := range files {
		if file == layoutFile {
			continue
		}
		name := strings.TrimSuffix(path.Base(file), ".html")
		tmpl, err := template.New(name).Funcs(templateFuncs).ParseFS(templateFS, layoutFile, file)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		rd.pages[name] = tmpl
	}
	return rd, nil
}

func (rd *renderer) execute(buf *bytes.Buffer, name string, data page) error {
	tmpl, ok := rd.pages[name]
	if !ok {
		return fmt.Errorf("unknown template %q", name)
	}
	return tmpl.ExecuteTemplate(buf, "layout", data)
}

// render writes a full page and drains the session's flash queue into it.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	sess := session.FromContext(r.Context())
	p := page{
		Title:        title,
		UserName:     sess.Data.UserName,
		UserEmail:    sess.Data.UserEmail,
		SignedIn:     sess.Authenticated(),
		SelectedSite: sess.Data.SelectedSite,
		Data:         data,
	}
	flashes := sess.Flashes()
	p.Flashes = flashes

	var buf bytes.Buffer
	if err := s.pages.execute(&buf, name, p); err != nil {
		sess.Data.Flashes = append(flashes, sess.Data.Flashes...)
		s.logger.Error("render template failed", zap.String("template", name), zap.Error(err))
		s.fail(w, r, http.StatusInternalServerError, "Error rendering page.")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Debug("write page failed", zap.Error(err))
	}
}

type errorView struct {
	Message string
	Status  int
	Detail  string
}

// errorBody is the JSON error shape for API clients.
type errorBody struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// fail ends the request with an error page for browsers and JSON for
// everyone else. Queued flashes are kept for the next full page.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, detail string) {
	s.logger.Error("request failed",
		zap.String("request_id", RequestID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("detail", detail),
	)
	if !strings.Contains(r.Header.Get("Accept"), "text/html") {
		s.writeJSON(w, status, errorBody{Message: "An error occurred.", Detail: detail})
		return
	}
	sess := session.FromContext(r.Context())
	var buf bytes.Buffer
	err := s.pages.execute(&buf, "error", page{
		Title:    "Error",
		SignedIn: sess.Authenticated(),
		UserName: sess.Data.UserName,
		Data:     errorView{Message: "Oops! Something went wrong.", Status: status, Detail: detail},
	})
	if err != nil {
		s.logger.Error("render error page failed", zap.Error(err))
		http.Error(w, detail, status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Debug("write error page failed", zap.Error(err))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("write JSON failed", zap.Error(err))
	}
}

// detailBody is the {"detail": ...} body used by the JSON form endpoints.
type detailBody struct {
	Detail string   `json:"detail"`
	Errors []string `json:"errors,omitempty"`
}
