// Package web is the small host layer the OpenID consumer is plugged into:
// a request carrying a mutable session, the absolute href of the project
// and a redirect operation that stops normal request processing.
package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type (
	// Href builds absolute urls under the project base url
	Href string

	Request struct {
		*http.Request
		Session  *Session
		AbsHref  Href
		Authname string
	}

	// RedirectError is returned by Request.Redirect, handlers must return it
	// unchanged so Respond can write the redirect.
	RedirectError struct {
		URL string
	}
)

const (
	Anonymous = "anonymous"
	// AuthnameKey is the session attribute holding the authenticated user
	AuthnameKey = "authname"
)

func (h Href) String() string {
	return string(h)
}

// Join appends the given path segments to the base url, Join() returns
// the base url itself.
func (h Href) Join(parts ...string) string {
	base := strings.TrimRight(string(h), "/")
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		base = base + "/" + p
	}
	return base
}

// Root returns scheme://host/ of the base url.
func (h Href) Root() (string, error) {
	u, err := url.Parse(string(h))
	if err != nil {
		return "", fmt.Errorf("invalid base url %v, cause %w", string(h), err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base url %v must be absolute", string(h))
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}).String(), nil
}

// NewRequest wraps r using the session attached to its context by the
// session Manager. A detached session is used if none is found.
func NewRequest(r *http.Request, base Href) *Request {
	sess := SessionFromContext(r.Context())
	if sess == nil {
		sess = NewSession("")
	}
	authname := Anonymous
	if v, ok := sess.Get(AuthnameKey); ok && v != "" {
		authname = v
	}
	return &Request{
		Request:  r,
		Session:  sess,
		AbsHref:  base,
		Authname: authname,
	}
}

// CurrentURL returns the absolute url used to reach this request, as
// seen from the outside (ie.: under AbsHref). Paths not starting with the
// base path are assumed to be relative to it.
func (r *Request) CurrentURL() (string, error) {
	if _, err := r.AbsHref.Root(); err != nil {
		return "", err
	}
	u, err := url.Parse(r.AbsHref.Join())
	if err != nil {
		return "", err
	}
	path := r.URL.Path
	if u.Path != "" && path != u.Path && !strings.HasPrefix(path, u.Path+"/") {
		path = u.Path + path
	}
	u.Path = path
	u.RawQuery = r.URL.RawQuery
	return u.String(), nil
}

// Redirect always returns a non-nil error that stops the current handler.
func (r *Request) Redirect(url string) error {
	return &RedirectError{URL: url}
}

func (r *RedirectError) Error() string {
	return fmt.Sprintf("redirect to %v", r.URL)
}

// Respond writes the redirect carried by err, returns false if err
// is not a redirect.
func Respond(w http.ResponseWriter, r *http.Request, err error) bool {
	var redirect *RedirectError
	if !errors.As(err, &redirect) {
		return false
	}
	http.Redirect(w, r, redirect.URL, http.StatusSeeOther)
	return true
}
