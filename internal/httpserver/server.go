package httpserver

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pasteit/internal/highlight"
	"pasteit/internal/paste"
	"pasteit/web"
)

const siteCookieName = "pasteit_site"

// Config captures server configuration.
type Config struct {
	Repo         *paste.Repository
	Highlighter  *highlight.Highlighter
	MaxBytes     int
	SitePassword string
	TrustProxy   bool
	BaseURL      string
	Logger       zerolog.Logger
	CookieSecret []byte
}

// Server wraps HTTP handling logic.
type Server struct {
	repo         *paste.Repository
	highlighter  *highlight.Highlighter
	router       chi.Router
	templates    *template.Template
	languages    []string
	maxBytes     int
	sitePassword string
	trustProxy   bool
	baseURL      *url.URL
	logger       zerolog.Logger
	cookieSecret []byte
	now          func() time.Time
}

// New constructs a new Server instance.
func New(cfg Config) (*Server, error) {
	if cfg.Repo == nil {
		return nil, errors.New("repository required")
	}
	if cfg.Highlighter == nil {
		h, err := highlight.New("github", 0)
		if err != nil {
			return nil, err
		}
		cfg.Highlighter = h
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 1_048_576
	}
	tmpl, err := template.New("layout").Funcs(template.FuncMap{
		"formatSize": formatSize,
	}).ParseFS(web.Templates, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	var parsedBase *url.URL
	if cfg.BaseURL != "" {
		parsedBase, err = url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
		if parsedBase.Scheme == "" || parsedBase.Host == "" {
			return nil, errors.New("base url must include scheme and host")
		}
		parsedBase.Path = strings.TrimSuffix(parsedBase.Path, "/")
	}

	secret := cfg.CookieSecret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate cookie secret: %w", err)
		}
	}

	srv := &Server{
		repo:         cfg.Repo,
		highlighter:  cfg.Highlighter,
		router:       chi.NewRouter(),
		templates:    tmpl,
		languages:    highlight.Languages(),
		maxBytes:     cfg.MaxBytes,
		sitePassword: cfg.SitePassword,
		trustProxy:   cfg.TrustProxy,
		baseURL:      parsedBase,
		logger:       cfg.Logger,
		cookieSecret: secret,
		now:          time.Now,
	}
	srv.routes()
	return srv, nil
}

// Handler returns the underlying router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.Compress(5, "text/html", "text/plain", "text/css"))
	r.Use(RequestLogger(s.logger, s.trustProxy))
	r.Use(middleware.Recoverer)

	fileServer := http.FileServer(http.FS(web.Static))
	r.Handle("/static/*", fileServer)
	r.Get("/highlight.css", s.handleHighlightCSS)

	r.Get("/password", s.handleSitePasswordForm)
	r.Post("/password", s.handleSitePassword)

	r.Group(func(gr chi.Router) {
		gr.Use(s.requireSitePassword)
		gr.Get("/", s.handleIndex)
		gr.Post("/pastes", s.handleCreate)
	})

	r.Route("/p/{id}", func(pr chi.Router) {
		pr.Get("/", s.handleView)
		pr.Post("/", s.handlePassword)
		pr.Get("/raw", s.handleRaw)
		pr.Get("/qr", s.handleQR)
		pr.Post("/toggle", s.handleToggle)
		pr.Post("/delete", s.handleDelete)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
}

// requireSitePassword redirects to the site password form until the visitor
// has entered it. Without a configured site password it is a pass-through.
func (s *Server) requireSitePassword(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.sitePassword != "" && !s.hasSignedCookie(r, siteCookieName, "site", "") {
			http.Redirect(w, r, "/password", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authCookieName(id string) string  { return "auth_" + id }
func ownerCookieName(id string) string { return "own_" + id }

func (s *Server) signValue(scope, id string) string {
	mac := hmac.New(sha256.New, s.cookieSecret)
	mac.Write([]byte(scope))
	mac.Write([]byte{0})
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Server) verifySignature(scope, id, sig string) bool {
	expected := s.signValue(scope, id)
	if len(expected) != len(sig) {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(sig))
}

func (s *Server) setSignedCookie(w http.ResponseWriter, r *http.Request, name, scope, id, path string, expires time.Time) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    s.signValue(scope, id),
		Path:     path,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.isSecureRequest(r),
	}
	if !expires.IsZero() {
		cookie.Expires = expires
		if remaining := expires.Sub(s.nowTime()); remaining > 0 {
			cookie.MaxAge = int(remaining.Seconds())
		}
	}
	http.SetCookie(w, cookie)
}

func (s *Server) hasSignedCookie(r *http.Request, name, scope, id string) bool {
	cookie, err := r.Cookie(name)
	if err != nil {
		return false
	}
	return s.verifySignature(scope, id, cookie.Value)
}

func (s *Server) setSiteCookie(w http.ResponseWriter, r *http.Request) {
	s.setSignedCookie(w, r, siteCookieName, "site", "", "/", time.Time{})
}

func (s *Server) setAuthCookie(w http.ResponseWriter, r *http.Request, id string, expires time.Time) {
	s.setSignedCookie(w, r, authCookieName(id), "auth", id, "/p/"+id, expires)
}

func (s *Server) hasAuth(r *http.Request, id string) bool {
	return s.hasSignedCookie(r, authCookieName(id), "auth", id)
}

func (s *Server) setOwnerCookie(w http.ResponseWriter, r *http.Request, id string) {
	s.setSignedCookie(w, r, ownerCookieName(id), "owner", id, "/p/"+id, time.Time{})
}

func (s *Server) isOwner(r *http.Request, id string) bool {
	return s.hasSignedCookie(r, ownerCookieName(id), "owner", id)
}

func (s *Server) clearPasteCookies(w http.ResponseWriter, id string) {
	for _, name := range []string{authCookieName(id), ownerCookieName(id)} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/p/" + id,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func (s *Server) isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if s.baseURL != nil && s.baseURL.Scheme == "https" {
		return true
	}
	if s.trustProxy {
		proto := strings.ToLower(r.Header.Get("X-Forwarded-Proto"))
		if proto == "https" {
			return true
		}
	}
	return false
}

func (s *Server) canonicalURL(r *http.Request, id string) string {
	if s.baseURL != nil {
		u := *s.baseURL
		if id != "" {
			u.Path = strings.TrimSuffix(u.Path, "/") + "/p/" + id
		}
		return u.String()
	}

	scheme := "http"
	if s.isSecureRequest(r) {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	path := "/"
	if id != "" {
		path = "/p/" + id
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}

func (s *Server) nowTime() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
