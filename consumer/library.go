package consumer

import (
	"context"
	"net/url"
	"strings"

	"github.com/andrebq/authopenid/web"
)

type (
	Status int

	Endpoint struct {
		OPEndpoint  string
		ClaimedID   string
		LocalID     string
		CanonicalID string
	}

	// AuthRequest is the outgoing half of an authentication, built by
	// Library.Begin.
	AuthRequest interface {
		Endpoint() Endpoint
		// AddExtensionArg adds openid.<alias>.<key>=value, the alias is
		// chosen by the request and declared with openid.ns.<alias>=namespace
		AddExtensionArg(namespace, key, value string)
		ShouldSendRedirect() bool
		RedirectURL() (string, error)
		FormFields() (action string, fields url.Values, err error)
	}

	Response struct {
		Status      Status
		IdentityURL string
		Endpoint    Endpoint
		Message     string
		SetupURL    string
		// Signed holds the openid.* arguments covered by the signature
		Signed url.Values
	}

	// Library is the OpenID relying party implementation doing the protocol
	// work. Begin returns a DiscoveryFailure if identifier cannot be
	// resolved to an endpoint.
	Library interface {
		Begin(ctx context.Context, identifier, realm, returnTo string) (AuthRequest, error)
		Complete(ctx context.Context, query url.Values, currentURL string) (*Response, error)
	}

	// LibraryFactory builds the library used by a single request.
	LibraryFactory func(sess *Session, store *SQLStore) Library

	ExtensionProvider interface {
		AddToAuthRequest(req *web.Request, authReq AuthRequest)
		ParseResponse(resp *Response) map[string]string
	}
)

const (
	StatusUnknown Status = iota
	StatusSuccess
	StatusFailure
	StatusCancel
	StatusSetupNeeded
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusCancel:
		return "cancel"
	case StatusSetupNeeded:
		return "setup_needed"
	}
	return "unknown"
}

// ExtensionArgs returns the signed arguments of the extension identified
// by namespace, keyed without the openid.<alias>. prefix.
func (r *Response) ExtensionArgs(namespace string) map[string]string {
	out := map[string]string{}
	var alias string
	for k, v := range r.Signed {
		if strings.HasPrefix(k, "openid.ns.") && len(v) > 0 && v[0] == namespace {
			alias = strings.TrimPrefix(k, "openid.ns.")
			break
		}
	}
	if alias == "" {
		return out
	}
	prefix := "openid." + alias + "."
	for k, v := range r.Signed {
		if strings.HasPrefix(k, prefix) && len(v) > 0 {
			out[strings.TrimPrefix(k, prefix)] = v[0]
		}
	}
	return out
}
