package httpserver

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/skip2/go-qrcode"

	"pasteit/internal/highlight"
	"pasteit/internal/metrics"
	"pasteit/internal/paste"
	"pasteit/internal/security"
)

const siteName = "PasteIt"

type option struct {
	Value    string
	Label    string
	Selected bool
}

type indexPageData struct {
	LanguageOptions []option
	Content         string
	Author          string
	Temporary       bool
	Retention       string
	Error           string
	MaxBytes        int
}

type viewPageData struct {
	ID          string
	Author      string
	Created     string
	Language    string
	Highlighted template.HTML
	Size        int
	Temporary   bool
	ExpiresIn   string
	Canonical   string
	Owner       bool
}

type passwordPageData struct {
	ID     string
	Action string
	Error  string
}

type errorPageData struct {
	Message string
}

type titled interface {
	PageTitle() string
}

func (d indexPageData) PageTitle() string {
	return "New Paste · " + siteName
}

func (d viewPageData) PageTitle() string {
	if d.ID != "" {
		return fmt.Sprintf("%s · %s", d.ID, siteName)
	}
	return "View Paste · " + siteName
}

func (d passwordPageData) PageTitle() string {
	if d.ID == "" {
		return "Password Required · " + siteName
	}
	return "Protected Paste · " + siteName
}

func (d errorPageData) PageTitle() string {
	if d.Message == "" {
		return siteName
	}
	return d.Message + " · " + siteName
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "index", s.indexData(paste.CreateParams{}, ""))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	maxBody := int64(s.maxBytes) + 4096
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseForm(); err != nil {
		s.render(w, r, http.StatusBadRequest, "index", s.indexData(paste.CreateParams{}, "Unable to parse form"))
		return
	}

	params := paste.CreateParams{
		Content:   r.FormValue("content"),
		Password:  r.FormValue("password"),
		Author:    r.FormValue("author"),
		Language:  r.FormValue("language"),
		Temporary: isChecked(r.FormValue("temporary")),
	}
	if len(params.Content) > s.maxBytes {
		s.render(w, r, http.StatusBadRequest, "index", s.indexData(params, fmt.Sprintf("Content exceeds %d byte limit", s.maxBytes)))
		return
	}

	id, err := s.repo.Create(r.Context(), params)
	if err != nil {
		var ve *paste.ValidationError
		if errors.As(err, &ve) {
			s.render(w, r, http.StatusBadRequest, "index", s.indexData(params, ve.Message))
			return
		}
		s.serverError(w, r, err)
		return
	}

	if params.Password != "" {
		var expires time.Time
		if params.Temporary {
			expires = s.nowTime().Add(s.repo.Retention())
		}
		s.setAuthCookie(w, r, id, expires)
	}
	s.setOwnerCookie(w, r, id)
	http.Redirect(w, r, "/p/"+id, http.StatusSeeOther)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if p.IsPasswordProtected() && !s.hasAuth(r, p.ID()) {
		s.render(w, r, http.StatusOK, "password", passwordPageData{ID: p.ID(), Action: "/p/" + p.ID()})
		return
	}

	content := p.Content()
	res, err := s.highlighter.Render(p.Language()+":"+etagFor(content), content, p.Language())
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	language := p.Language()
	if language == highlight.Guess {
		language = res.Language
	}

	expiresIn := "Never"
	if deadline, temporary := p.ExpiresAt(); temporary {
		expiresIn = remaining(deadline, s.nowTime())
	}
	data := viewPageData{
		ID:          p.ID(),
		Author:      p.Author(),
		Created:     p.CreatedAt(),
		Language:    language,
		Highlighted: res.HTML,
		Size:        len(content),
		Temporary:   p.Temporary(),
		ExpiresIn:   expiresIn,
		Canonical:   s.canonicalURL(r, p.ID()),
		Owner:       s.isOwner(r, p.ID()),
	}
	s.render(w, r, http.StatusOK, "view", data)
}

func (s *Server) handlePassword(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := r.ParseForm(); err != nil {
		s.render(w, r, http.StatusBadRequest, "password", passwordPageData{ID: id, Action: "/p/" + id, Error: "Unable to parse form"})
		return
	}
	p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if !p.IsPasswordProtected() {
		http.Redirect(w, r, "/p/"+id, http.StatusSeeOther)
		return
	}
	if !p.CheckPassword(r.FormValue("password")) {
		metrics.PasswordFailures.Inc()
		s.render(w, r, http.StatusUnauthorized, "password", passwordPageData{ID: id, Action: "/p/" + id, Error: "Incorrect password"})
		return
	}

	deadline, _ := p.ExpiresAt()
	s.setAuthCookie(w, r, id, deadline)
	http.Redirect(w, r, "/p/"+id, http.StatusSeeOther)
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if p.IsPasswordProtected() && !s.hasAuth(r, p.ID()) {
		http.Redirect(w, r, "/p/"+p.ID(), http.StatusSeeOther)
		return
	}

	content := p.Content()
	etag := etagFor(content)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.Header().Set("ETag", etag)
	_, _ = io.WriteString(w, content)
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if p.IsPasswordProtected() && !s.hasAuth(r, p.ID()) {
		http.Redirect(w, r, "/p/"+p.ID(), http.StatusSeeOther)
		return
	}

	png, err := qrcode.Encode(s.canonicalURL(r, p.ID()), qrcode.Medium, 256)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupOwned(w, r)
	if !ok {
		return
	}
	if err := p.ToggleTemporary(r.Context()); err != nil {
		s.pasteError(w, r, err)
		return
	}
	http.Redirect(w, r, "/p/"+p.ID(), http.StatusSeeOther)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupOwned(w, r)
	if !ok {
		return
	}
	if err := p.Delete(r.Context()); err != nil {
		s.pasteError(w, r, err)
		return
	}
	s.clearPasteCookies(w, p.ID())
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleSitePasswordForm(w http.ResponseWriter, r *http.Request) {
	if s.sitePassword == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.render(w, r, http.StatusOK, "password", passwordPageData{Action: "/password"})
}

func (s *Server) handleSitePassword(w http.ResponseWriter, r *http.Request) {
	if s.sitePassword == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.render(w, r, http.StatusBadRequest, "password", passwordPageData{Action: "/password", Error: "Unable to parse form"})
		return
	}
	if !security.Equal(r.FormValue("password"), s.sitePassword) {
		metrics.PasswordFailures.Inc()
		s.render(w, r, http.StatusUnauthorized, "password", passwordPageData{Action: "/password", Error: "Incorrect password"})
		return
	}
	s.setSiteCookie(w, r)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleHighlightCSS(w http.ResponseWriter, r *http.Request) {
	css, err := s.highlighter.CSS()
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = io.WriteString(w, css)
}

// lookup resolves the {id} URL parameter, writing the error page itself when
// the paste is missing or the store fails.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*paste.Paste, bool) {
	p, err := s.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.pasteError(w, r, err)
		return nil, false
	}
	return p, true
}

func (s *Server) lookupOwned(w http.ResponseWriter, r *http.Request) (*paste.Paste, bool) {
	p, ok := s.lookup(w, r)
	if !ok {
		return nil, false
	}
	if !s.isOwner(r, p.ID()) {
		s.render(w, r, http.StatusForbidden, "error", errorPageData{Message: "Only the author can change this paste"})
		return nil, false
	}
	return p, true
}

func (s *Server) pasteError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, paste.ErrNotFound) {
		s.notFound(w, r)
		return
	}
	s.serverError(w, r, err)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	title := siteName
	if t, ok := data.(titled); ok {
		if pt := t.PageTitle(); pt != "" {
			title = pt
		}
	}
	body := &bytes.Buffer{}
	bodyTemplate := name + "-body"
	if err := s.templates.ExecuteTemplate(body, bodyTemplate, data); err != nil {
		s.handleTemplateError(w, status, bodyTemplate, err)
		return
	}
	layoutBuf := &bytes.Buffer{}
	layoutData := struct {
		Title string
		Body  template.HTML
	}{
		Title: title,
		Body:  template.HTML(body.String()),
	}
	if err := s.templates.ExecuteTemplate(layoutBuf, "layout", layoutData); err != nil {
		s.handleTemplateError(w, status, "layout", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = layoutBuf.WriteTo(w)
}

func (s *Server) handleTemplateError(w http.ResponseWriter, status int, name string, err error) {
	s.logger.Error().Err(err).Str("template", name).Msg("render template")
	http.Error(w, "Template error", status)
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error().Err(err).
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("path", r.URL.Path).
		Msg("internal error")
	s.render(w, r, http.StatusInternalServerError, "error", errorPageData{Message: "Internal server error"})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusNotFound, "error", errorPageData{Message: "Not found or expired"})
}

func (s *Server) indexData(params paste.CreateParams, errMsg string) indexPageData {
	selected := strings.ToLower(strings.TrimSpace(params.Language))
	if selected == "" {
		selected = highlight.Guess
	}
	opts := make([]option, 0, len(s.languages))
	for _, v := range s.languages {
		opts = append(opts, option{
			Value:    v,
			Label:    languageLabel(v),
			Selected: v == selected,
		})
	}
	return indexPageData{
		LanguageOptions: opts,
		Content:         params.Content,
		Author:          params.Author,
		Temporary:       params.Temporary,
		Retention:       humanDuration(s.repo.Retention()),
		Error:           errMsg,
		MaxBytes:        s.maxBytes,
	}
}

func isChecked(v string) bool {
	switch strings.ToLower(v) {
	case "on", "1", "true", "yes":
		return true
	}
	return false
}

func languageLabel(v string) string {
	if v == highlight.Guess {
		return "Guess from content"
	}
	if v == "" {
		return "Plain Text"
	}
	return strings.ToUpper(v[:1]) + v[1:]
}

func remaining(expires time.Time, now time.Time) string {
	if expires.IsZero() {
		return "Never"
	}
	if now.After(expires) {
		return "Expired"
	}
	dur := expires.Sub(now)
	if dur < time.Second {
		return "Less than a second"
	}
	return humanDuration(dur)
}

func humanDuration(dur time.Duration) string {
	units := []struct {
		d    time.Duration
		name string
	}{
		{time.Hour * 24, "day"},
		{time.Hour, "hour"},
		{time.Minute, "minute"},
	}
	parts := make([]string, 0, len(units))
	for _, u := range units {
		if dur >= u.d {
			count := dur / u.d
			parts = append(parts, plural(int(count), u.name))
			dur -= count * u.d
		}
	}
	if len(parts) == 0 {
		seconds := int(dur.Seconds())
		if seconds <= 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", seconds)
	}
	return strings.Join(parts, ", ")
}

func plural(count int, singular string) string {
	if count == 1 {
		return fmt.Sprintf("1 %s", singular)
	}
	return fmt.Sprintf("%d %ss", count, singular)
}

func formatSize(size int) string {
	if size < 1024 {
		return fmt.Sprintf("%d B", size)
	}
	const unit = 1024.0
	kb := float64(size)
	for _, suffix := range []string{"KB", "MB", "GB"} {
		kb /= unit
		if kb < unit {
			return fmt.Sprintf("%.1f %s", kb, suffix)
		}
	}
	return fmt.Sprintf("%d B", size)
}

func etagFor(content string) string {
	sum := sha256.Sum256([]byte(content))
	return `"` + hex.EncodeToString(sum[:]) + `"`
}
