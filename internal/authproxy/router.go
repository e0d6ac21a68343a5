// Package authproxy puts the login endpoints in front of the tracker,
// every other request is forwarded upstream with the authenticated user.
package authproxy

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/andrebq/authopenid/consumer/api"
	"github.com/andrebq/authopenid/web"
	"github.com/julienschmidt/httprouter"
)

const (
	// RemoteUserHeader carries the authname to the upstream, it is always
	// overwritten so clients cannot forge it.
	RemoteUserHeader = "X-Remote-User"
)

var (
	methods = []string{
		"GET", "POST",
	}
)

// AsHandler serves login under prefix and proxies everything else to
// upstream. When protect is true only authenticated visitors reach the
// upstream. Requests must go through the session middleware.
func AsHandler(login http.Handler, prefix string, upstream *url.URL, protect bool) http.Handler {
	router := httprouter.New()
	for _, m := range methods {
		router.Handler(m, prefix+"/*rest", login)
	}

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Header.Del(RemoteUserHeader)
		if sess := web.SessionFromContext(r.Context()); sess != nil {
			if v, ok := sess.Get(web.AuthnameKey); ok && v != "" {
				r.Header.Set(RemoteUserHeader, v)
			}
		}
	}
	var fallback http.Handler = proxy
	if protect {
		fallback = api.Protect(proxy)
	}
	// delegate to the upstream if not found
	router.NotFound = fallback
	router.HandleMethodNotAllowed = false
	return router
}
