package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/andrebq/authopenid/consumer"
	"github.com/andrebq/authopenid/internal/logutil"
	"github.com/andrebq/authopenid/web"
	"github.com/julienschmidt/httprouter"
)

type (
	Handler struct {
		consumer  *consumer.Consumer
		base      web.Href
		prefix    string
		templates *template.Template
	}

	loginForm struct {
		Action     string
		Identifier string
		Username   string
		Message    string
		Providers  []providerChoice
	}

	providerChoice struct {
		Name     string
		Username bool
		Small    bool
		Selected bool
	}
)

const (
	DefaultPrefix = "/openid"

	loginTemplate = "login.html"

	// session attributes filled after a successful login
	NameKey  = "name"
	EmailKey = "email"

	// ProviderKey remembers the last provider picked on the login page
	ProviderKey = "openid_provider"
)

//go:embed templates/*.html
var templateFS embed.FS

// New returns the handler serving the login endpoints under prefix,
// base is the absolute url of the project.
func New(c *consumer.Consumer, base web.Href, prefix string) (*Handler, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("unable to parse templates, cause %w", err)
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Handler{
		consumer:  c,
		base:      base,
		prefix:    "/" + strings.Trim(prefix, "/"),
		templates: tmpl,
	}, nil
}

func (h *Handler) Router() http.Handler {
	router := httprouter.New()
	router.HandlerFunc("GET", h.prefix+"/login", h.login)
	router.HandlerFunc("POST", h.prefix+"/login", h.login)
	router.HandlerFunc("GET", h.prefix+"/response", h.response)
	router.HandlerFunc("POST", h.prefix+"/response", h.response)
	router.HandlerFunc("POST", h.prefix+"/logout", h.logout)
	router.HandlerFunc("GET", h.prefix+"/whoami", h.whoami)
	return router
}

// Protect only calls sensitive when the visitor is authenticated.
func Protect(sensitive http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := web.SessionFromContext(r.Context())
		if sess == nil {
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		if v, ok := sess.Get(web.AuthnameKey); !ok || v == "" {
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		sensitive.ServeHTTP(w, r)
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	identifier := r.FormValue("openid_identifier")
	provider := r.FormValue("openid_provider")
	username := r.FormValue("openid_username")
	if r.Method == http.MethodGet && identifier == "" && provider == "" {
		h.renderLogin(w, r, http.StatusOK, "", "", "")
		return
	}
	ctx := r.Context()
	req := web.NewRequest(r, h.base)
	var page *consumer.Page
	var err error
	if provider != "" {
		identifier, err = h.consumer.ProviderIdentifier(provider, username)
		if err == nil {
			req.Session.Set(ProviderKey, provider)
		}
	}
	if err == nil {
		page, err = h.consumer.Begin(ctx, req, identifier, h.base.Join(h.prefix, "response"))
	}
	if web.Respond(w, r, err) {
		return
	}
	var loginErr consumer.LoginError
	switch {
	case errors.As(err, &loginErr):
		if provider != "" {
			identifier = ""
		}
		h.renderLogin(w, r, http.StatusBadRequest, identifier, username, loginErr.Message)
		return
	case err != nil:
		log := logutil.GetOrDefault(ctx)
		log.Error().Err(err).Str("identifier", identifier).Msg("Unable to start OpenID authentication")
		http.Error(w, "unable to start authentication, check logs for more information", http.StatusInternalServerError)
		return
	}
	h.render(w, r, http.StatusOK, page.Template, page.ContentType, page.Data)
}

func (h *Handler) response(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logutil.GetOrDefault(ctx)
	req := web.NewRequest(r, h.base)
	identity, data, err := h.consumer.Complete(ctx, req)
	var loginErr consumer.LoginError
	switch {
	case errors.As(err, &loginErr):
		log.Info().Err(err).Msg("OpenID authentication rejected")
		h.renderLogin(w, r, http.StatusUnauthorized, "", "", loginErr.Message)
		return
	case err != nil:
		log.Error().Err(err).Msg("Unable to complete OpenID authentication")
		http.Error(w, "unable to complete authentication, check logs for more information", http.StatusInternalServerError)
		return
	}
	// the visitor gets a new session id along with the identity
	req.Session.Regenerate()
	req.Session.Set(web.AuthnameKey, identity)
	name := data["fullname"]
	if name == "" {
		name = data["nickname"]
	}
	if name != "" {
		req.Session.Set(NameKey, name)
	}
	if email := data["email"]; email != "" {
		req.Session.Set(EmailKey, email)
	}
	log.Info().Str("authname", identity).Msg("OpenID authentication completed")
	web.Respond(w, r, req.Redirect(h.base.Join()+"/"))
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	req := web.NewRequest(r, h.base)
	for _, k := range []string{web.AuthnameKey, NameKey, EmailKey} {
		req.Session.Delete(k)
	}
	web.Respond(w, r, req.Redirect(h.base.Join()+"/"))
}

func (h *Handler) whoami(w http.ResponseWriter, r *http.Request) {
	req := web.NewRequest(r, h.base)
	buf, err := json.Marshal(map[string]string{"authname": req.Authname})
	if err != nil {
		http.Error(w, "unable to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Header().Add("Content-Length", strconv.Itoa(len(buf)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf)
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, status int, identifier, username, message string) {
	var last string
	if sess := web.SessionFromContext(r.Context()); sess != nil {
		last, _ = sess.Get(ProviderKey)
	}
	form := loginForm{
		Action:     h.base.Join(h.prefix, "login"),
		Identifier: identifier,
		Username:   username,
		Message:    message,
	}
	for _, p := range h.consumer.Providers() {
		form.Providers = append(form.Providers, providerChoice{
			Name:     p.Name,
			Username: consumer.NeedsUsername(p),
			Small:    p.Small,
			Selected: p.Name == last,
		})
	}
	h.render(w, r, status, loginTemplate, "text/html", form)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, contentType string, data interface{}) {
	var buf bytes.Buffer
	err := h.templates.ExecuteTemplate(&buf, name, data)
	if err != nil {
		log := logutil.GetOrDefault(r.Context())
		log.Error().Err(err).Str("template", name).Msg("Unable to render template")
		http.Error(w, "unable to render page, check logs for more information", http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", fmt.Sprintf("%v; charset=utf-8", contentType))
	w.Header().Add("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
