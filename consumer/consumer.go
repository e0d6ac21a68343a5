// Package consumer plugs an OpenID relying party into the host
// environment.
//
// The protocol itself (discovery, signature and nonce verification) is done
// by the Library, by default github.com/yohcop/openid-go. This package
// only adapts the host request, session and database to it: the state kept
// between Begin and Complete lives in the visitor session, associations
// and used nonces live in two tables of the environment database.
package consumer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/andrebq/authopenid/env"
	"github.com/andrebq/authopenid/internal/config"
	"github.com/andrebq/authopenid/internal/logutil"
	"github.com/andrebq/authopenid/web"
)

type (
	Consumer struct {
		env        *env.Environment
		store      *SQLStore
		cfg        config.OpenIDConfig
		providers  []ExtensionProvider
		newLibrary LibraryFactory
		cache      *DiscoveryCache
	}

	Option func(*Consumer)

	// Page is something the host should render: a template name,
	// the data passed to it and the response content type.
	Page struct {
		Template    string
		Data        interface{}
		ContentType string
	}

	AutoSubmitForm struct {
		Action string
		Fields []FormField
	}

	FormField struct {
		Name  string
		Value string
	}
)

const (
	AutoSubmitTemplate = "autosubmitform.html"
)

func WithExtensionProviders(p ...ExtensionProvider) Option {
	return func(c *Consumer) {
		c.providers = append(c.providers, p...)
	}
}

func WithLibrary(f LibraryFactory) Option {
	return func(c *Consumer) {
		c.newLibrary = f
	}
}

// New creates a consumer for e and registers it as a setup participant.
func New(e *env.Environment, opts ...Option) (*Consumer, error) {
	cfg := e.Config().OpenID
	c := &Consumer{
		env:   e,
		store: NewSQLStore(e, cfg.NonceSkew),
		cfg:   cfg,
	}
	for _, o := range opts {
		o(c)
	}
	if c.newLibrary == nil {
		cache, err := NewDiscoveryCache(cfg.DiscoveryCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("unable to create discovery cache, cause %w", err)
		}
		c.cache = cache
		c.newLibrary = OpenIDGo(cache, cfg.PreferRedirect)
	}
	e.Register(c)
	return c, nil
}

func (c *Consumer) Store() *SQLStore { return c.store }

func (c *Consumer) Close() error {
	return c.cache.Close()
}

func (c *Consumer) library(ctx context.Context, req *web.Request) Library {
	return c.newLibrary(NewSession(ctx, req.Session, c.cfg.SessionKey), c.store)
}

// Begin starts the authentication of identifier. The returned error is a
// *web.RedirectError when the visitor should be redirected to the provider,
// otherwise the page with a form that posts to the provider is returned.
func (c *Consumer) Begin(ctx context.Context, req *web.Request, identifier, returnTo string) (*Page, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, LoginError{Message: "Enter an OpenID identifier"}
	}
	trustRoot, err := c.TrustRoot(req)
	if err != nil {
		return nil, err
	}
	log := logutil.GetOrDefault(ctx).With().Str("identifier", identifier).Logger()
	var authReq AuthRequest
	err = LoggingTo(ctx, log, func(ctx context.Context) error {
		var err error
		authReq, err = c.library(ctx, req).Begin(ctx, identifier, trustRoot, returnTo)
		return err
	})
	if err != nil {
		var discovery DiscoveryFailure
		if errors.As(err, &discovery) {
			return nil, LoginError{Message: fmt.Sprintf("Unable to find an OpenID provider for %v", identifier), Err: err}
		}
		return nil, err
	}

	for _, p := range c.providers {
		p.AddToAuthRequest(req, authReq)
	}

	if authReq.ShouldSendRedirect() {
		target, err := authReq.RedirectURL()
		if err != nil {
			return nil, fmt.Errorf("unable to build redirect to OpenID provider, cause %w", err)
		}
		log.Debug().Str("endpoint", authReq.Endpoint().OPEndpoint).Msg("Redirecting to OpenID provider")
		return nil, req.Redirect(target)
	}

	action, fields, err := authReq.FormFields()
	if err != nil {
		return nil, fmt.Errorf("unable to build form for OpenID provider, cause %w", err)
	}
	return &Page{
		Template:    AutoSubmitTemplate,
		Data:        AutoSubmitForm{Action: action, Fields: formFields(fields)},
		ContentType: "text/html",
	}, nil
}

// Complete verifies the response sent by the provider and returns the
// authenticated identity and the data collected by extension providers.
func (c *Consumer) Complete(ctx context.Context, req *web.Request) (string, map[string]string, error) {
	if err := req.ParseForm(); err != nil {
		return "", nil, LoginError{Message: "Invalid OpenID response", Err: err}
	}
	current, err := req.CurrentURL()
	if err != nil {
		return "", nil, err
	}
	current = withQuery(current, req.Form)

	var resp *Response
	err = LoggingTo(ctx, logutil.GetOrDefault(ctx), func(ctx context.Context) error {
		var err error
		resp, err = c.library(ctx, req).Complete(ctx, req.Form, current)
		return err
	})
	if err != nil {
		return "", nil, err
	}

	switch resp.Status {
	case StatusSuccess:
		identity := resp.IdentityURL
		if resp.Endpoint.CanonicalID != "" {
			identity = resp.Endpoint.CanonicalID
		}
		data := map[string]string{}
		for _, p := range c.providers {
			for k, v := range p.ParseResponse(resp) {
				data[k] = v
			}
		}
		return identity, data, nil
	case StatusFailure:
		return "", nil, AuthenticationFailed{Reason: resp.Message}
	case StatusCancel:
		return "", nil, AuthenticationCancelled{}
	case StatusSetupNeeded:
		return "", nil, SetupNeeded{SetupURL: resp.SetupURL}
	}
	return "", nil, UnhandledStatus{Status: resp.Status}
}

// TrustRoot is the server root url when absolute_trust_root is set,
// otherwise the project base url.
func (c *Consumer) TrustRoot(req *web.Request) (string, error) {
	if c.cfg.AbsoluteTrustRoot {
		return req.AbsHref.Root()
	}
	return req.AbsHref.Join() + "/", nil
}

func (c *Consumer) EnvironmentCreated(ctx context.Context) error {
	return c.env.Transaction(ctx, func(tx *sql.Tx) error {
		return c.store.CreateTables(ctx, tx)
	})
}

func (c *Consumer) EnvironmentNeedsUpgrade(ctx context.Context, db env.Querier) (bool, error) {
	missing, err := c.store.MissingTables(ctx, db)
	if err != nil {
		return false, err
	}
	return len(missing) > 0, nil
}

func (c *Consumer) UpgradeEnvironment(ctx context.Context, tx *sql.Tx) error {
	return c.store.CreateTables(ctx, tx)
}

func formFields(v url.Values) []FormField {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []FormField
	for _, k := range keys {
		for _, val := range v[k] {
			out = append(out, FormField{Name: k, Value: val})
		}
	}
	return out
}

func withQuery(current string, form url.Values) string {
	u, err := url.Parse(current)
	if err != nil || len(form) == 0 {
		return current
	}
	u.RawQuery = form.Encode()
	return u.String()
}
