package consumer

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/yohcop/openid-go"
)

type (
	// protocol groups the openid-go entry points used by the adapter
	protocol struct {
		discover         func(id string) (opEndpoint, opLocalID, claimedID string, err error)
		buildRedirectURL func(opEndpoint, opLocalID, claimedID, returnTo, realm string) (string, error)
		verify           func(uri string, cache openid.DiscoveryCache, nonceStore openid.NonceStore) (string, error)
	}

	openIDLibrary struct {
		proto          protocol
		session        *Session
		store          *SQLStore
		shared         *DiscoveryCache
		preferRedirect bool
	}

	authRequest struct {
		proto          protocol
		endpoint       Endpoint
		realm          string
		returnTo       string
		preferRedirect bool
		aliases        map[string]string
		args           url.Values
	}
)

const (
	// OpenID1URLLimit is the longest url that is sent as a redirect
	OpenID1URLLimit = 2047

	nsSReg = "http://openid.net/extensions/sreg/1.1"
	nsAX   = "http://openid.net/srv/ax/1.0"
)

var (
	openidGo = protocol{
		discover:         openid.Discover,
		buildRedirectURL: openid.BuildRedirectURL,
		verify:           openid.Verify,
	}

	wellKnownAliases = map[string]string{
		nsSReg: "sreg",
		nsAX:   "ax",
	}
)

// OpenIDGo returns the factory of the default library, backed by
// github.com/yohcop/openid-go.
func OpenIDGo(shared *DiscoveryCache, preferRedirect bool) LibraryFactory {
	return newOpenIDGo(openidGo, shared, preferRedirect)
}

func newOpenIDGo(proto protocol, shared *DiscoveryCache, preferRedirect bool) LibraryFactory {
	return func(sess *Session, store *SQLStore) Library {
		return &openIDLibrary{
			proto:          proto,
			session:        sess,
			store:          store,
			shared:         shared,
			preferRedirect: preferRedirect,
		}
	}
}

func (l *openIDLibrary) discoveryCache(ctx context.Context) openid.DiscoveryCache {
	return sessionDiscoveryCache{ctx: ctx, session: l.session, shared: l.shared}
}

func (l *openIDLibrary) Begin(ctx context.Context, identifier, realm, returnTo string) (AuthRequest, error) {
	opEndpoint, opLocalID, claimedID, err := l.proto.discover(identifier)
	if err != nil {
		libraryLog(ctx, fmt.Sprintf("discovery failed for %v: %v", identifier, err))
		return nil, DiscoveryFailure{Identifier: identifier, Err: err}
	}
	if opEndpoint == "" {
		libraryLog(ctx, fmt.Sprintf("no OpenID endpoint found for %v", identifier))
		return nil, DiscoveryFailure{Identifier: identifier, Err: fmt.Errorf("no endpoint found")}
	}
	info := discoveredInfo{Endpoint: opEndpoint, LocalID: opLocalID, Claimed: claimedID}
	l.discoveryCache(ctx).Put(claimedID, info)
	if err := l.session.Set(sessIdentifier, identifier); err != nil {
		return nil, err
	}
	return &authRequest{
		proto: l.proto,
		endpoint: Endpoint{
			OPEndpoint: opEndpoint,
			ClaimedID:  claimedID,
			LocalID:    opLocalID,
		},
		realm:          realm,
		returnTo:       returnTo,
		preferRedirect: l.preferRedirect,
		aliases:        map[string]string{},
		args:           url.Values{},
	}, nil
}

func (l *openIDLibrary) Complete(ctx context.Context, query url.Values, currentURL string) (*Response, error) {
	resp := &Response{
		Endpoint: Endpoint{
			OPEndpoint: query.Get("openid.op_endpoint"),
			ClaimedID:  query.Get("openid.claimed_id"),
			LocalID:    query.Get("openid.identity"),
		},
	}
	switch mode := query.Get("openid.mode"); mode {
	case "cancel":
		resp.Status = StatusCancel
	case "setup_needed":
		resp.Status = StatusSetupNeeded
		resp.SetupURL = query.Get("openid.user_setup_url")
	case "error":
		resp.Status = StatusFailure
		resp.Message = query.Get("openid.error")
		libraryLog(ctx, fmt.Sprintf("provider returned an error: %v", resp.Message))
	case "id_res":
		if setup := query.Get("openid.user_setup_url"); setup != "" {
			resp.Status = StatusSetupNeeded
			resp.SetupURL = setup
			break
		}
		id, err := l.proto.verify(currentURL, l.discoveryCache(ctx), l.store.NonceStore(ctx))
		if err != nil {
			libraryLog(ctx, fmt.Sprintf("verification of %v failed: %v", resp.Endpoint.ClaimedID, err))
			resp.Status = StatusFailure
			resp.Message = err.Error()
			break
		}
		l.invalidateHandle(ctx, query)
		resp.Status = StatusSuccess
		resp.IdentityURL = id
		resp.Signed = signedArgs(query)
	case "":
		resp.Status = StatusFailure
		resp.Message = "missing openid.mode"
	default:
		resp.Status = StatusFailure
		resp.Message = fmt.Sprintf("unexpected openid.mode %q", mode)
	}
	if resp.Status != StatusSetupNeeded {
		l.session.Clear()
	}
	return resp, nil
}

func (l *openIDLibrary) invalidateHandle(ctx context.Context, query url.Values) {
	handle := query.Get("openid.invalidate_handle")
	server := query.Get("openid.op_endpoint")
	if handle == "" || server == "" {
		return
	}
	if _, err := l.store.RemoveAssociation(ctx, server, handle); err != nil {
		libraryLog(ctx, fmt.Sprintf("unable to remove association %v: %v", handle, err))
	}
}

// signedArgs returns the openid.* arguments listed in openid.signed
func signedArgs(query url.Values) url.Values {
	out := url.Values{}
	for _, k := range strings.Split(query.Get("openid.signed"), ",") {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		key := "openid." + k
		if v, ok := query[key]; ok {
			out[key] = v
		}
	}
	return out
}

func (r *authRequest) Endpoint() Endpoint { return r.endpoint }

func (r *authRequest) alias(namespace string) string {
	if a, ok := r.aliases[namespace]; ok {
		return a
	}
	a, ok := wellKnownAliases[namespace]
	if !ok {
		a = fmt.Sprintf("ext%d", len(r.aliases))
	}
	r.aliases[namespace] = a
	r.args.Set("openid.ns."+a, namespace)
	return a
}

func (r *authRequest) AddExtensionArg(namespace, key, value string) {
	r.args.Set(fmt.Sprintf("openid.%v.%v", r.alias(namespace), key), value)
}

func (r *authRequest) RedirectURL() (string, error) {
	base, err := r.proto.buildRedirectURL(r.endpoint.OPEndpoint, r.endpoint.LocalID, r.endpoint.ClaimedID, r.returnTo, r.realm)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range r.args {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (r *authRequest) ShouldSendRedirect() bool {
	if !r.preferRedirect {
		return false
	}
	u, err := r.RedirectURL()
	if err != nil {
		return false
	}
	return len(u) <= OpenID1URLLimit
}

func (r *authRequest) FormFields() (string, url.Values, error) {
	full, err := r.RedirectURL()
	if err != nil {
		return "", nil, err
	}
	u, err := url.Parse(full)
	if err != nil {
		return "", nil, err
	}
	fields := u.Query()
	u.RawQuery = ""
	return u.String(), fields, nil
}
