package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/andrebq/authopenid/consumer"
	"github.com/andrebq/authopenid/consumer/extension"
	"github.com/andrebq/authopenid/internal/config"
	"github.com/andrebq/authopenid/internal/testutil"
	"github.com/andrebq/authopenid/web"
	"github.com/steinfletcher/apitest"
	jsonpath "github.com/steinfletcher/apitest-jsonpath"
)

type (
	fakeLibrary struct {
		redirect    bool
		resp        *consumer.Response
		session     *consumer.Session
		identifiers []string
	}

	fakeAuthRequest struct {
		redirect bool
	}
)

func (f *fakeLibrary) Begin(ctx context.Context, identifier, realm, returnTo string) (consumer.AuthRequest, error) {
	f.identifiers = append(f.identifiers, identifier)
	if strings.Contains(identifier, "nobody") {
		return nil, consumer.DiscoveryFailure{Identifier: identifier, Err: fmt.Errorf("no such host")}
	}
	if strings.Contains(identifier, "broken") {
		return nil, errors.New("library is broken")
	}
	if err := f.session.Set("identifier", identifier); err != nil {
		return nil, err
	}
	return &fakeAuthRequest{redirect: f.redirect}, nil
}

func (f *fakeLibrary) Complete(ctx context.Context, query url.Values, currentURL string) (*consumer.Response, error) {
	return f.resp, nil
}

func (a *fakeAuthRequest) Endpoint() consumer.Endpoint {
	return consumer.Endpoint{OPEndpoint: "http://op.example.com/auth"}
}

func (a *fakeAuthRequest) AddExtensionArg(namespace, key, value string) {}

func (a *fakeAuthRequest) ShouldSendRedirect() bool { return a.redirect }

func (a *fakeAuthRequest) RedirectURL() (string, error) {
	return "http://op.example.com/auth?openid.mode=checkid_setup", nil
}

func (a *fakeAuthRequest) FormFields() (string, url.Values, error) {
	return "http://op.example.com/auth", url.Values{"openid.mode": {"checkid_setup"}}, nil
}

func acquireHandler(ctx context.Context, t *testing.T, lib *fakeLibrary) (http.Handler, func()) {
	return acquireHandlerWithConfig(ctx, t, testutil.TestConfig(), lib)
}

func acquireHandlerWithConfig(ctx context.Context, t *testing.T, cfg config.Config, lib *fakeLibrary) (http.Handler, func()) {
	e, cleanup := testutil.AcquireEnvironment(ctx, t, "test", cfg)
	sessions := web.NewSQLStore(e)
	e.Register(sessions)
	c, err := consumer.New(e,
		consumer.WithLibrary(func(s *consumer.Session, _ *consumer.SQLStore) consumer.Library {
			lib.session = s
			return lib
		}),
		consumer.WithExtensionProviders(extension.SReg{Required: []string{"email"}}))
	if err != nil {
		cleanup()
		t.Fatal(err)
	}
	if err := e.Create(ctx); err != nil {
		cleanup()
		t.Fatal(err)
	}
	h, err := New(c, web.Href(cfg.Server.BaseURL), "")
	if err != nil {
		cleanup()
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	mux.Handle(DefaultPrefix+"/", h.Router())
	mux.Handle("/private", Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "OK", http.StatusOK)
	})))
	return web.NewManager(sessions, []byte(testutil.SessionSecret), true).Middleware(mux), cleanup
}

func sessionCookie(t *testing.T, res apitest.Result) string {
	for _, c := range res.Response.Cookies() {
		if c.Name == web.DefaultCookieName {
			return c.Value
		}
	}
	t.Fatal("session cookie was not set")
	return ""
}

func bodyContains(s string) apitest.Assert {
	return func(res *http.Response, req *http.Request) error {
		buf, err := io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		if !strings.Contains(string(buf), s) {
			return fmt.Errorf("expecting body to contain %q got %v", s, string(buf))
		}
		return nil
	}
}

func bodyLacks(s string) apitest.Assert {
	return func(res *http.Response, req *http.Request) error {
		buf, err := io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		if strings.Contains(string(buf), s) {
			return fmt.Errorf("expecting body without %q got %v", s, string(buf))
		}
		return nil
	}
}

func TestLoginForm(t *testing.T) {
	handler, cleanup := acquireHandler(context.Background(), t, &fakeLibrary{})
	defer cleanup()

	apitest.New().Handler(handler).
		Get("/openid/login").
		Expect(t).
		Status(http.StatusOK).
		Assert(bodyContains(`name="openid_identifier"`)).
		End()

	apitest.New().Handler(handler).
		Post("/openid/login").
		FormData("openid_identifier", "  ").
		Expect(t).
		Status(http.StatusBadRequest).
		Assert(bodyContains("Enter an OpenID identifier")).
		End()

	apitest.New().Handler(handler).
		Post("/openid/login").
		FormData("openid_identifier", "nobody.example.com").
		Expect(t).
		Status(http.StatusBadRequest).
		Assert(bodyContains("Unable to find an OpenID provider")).
		End()

	apitest.New().Handler(handler).
		Post("/openid/login").
		FormData("openid_identifier", "broken.example.com").
		Expect(t).
		Status(http.StatusInternalServerError).
		Assert(bodyContains("unable to start authentication")).
		End()
}

func TestLoginRedirect(t *testing.T) {
	handler, cleanup := acquireHandler(context.Background(), t, &fakeLibrary{redirect: true})
	defer cleanup()

	apitest.New().Handler(handler).
		Get("/openid/login").
		Query("openid_identifier", "bob.example.com").
		Expect(t).
		Status(http.StatusSeeOther).
		Header("Location", "http://op.example.com/auth?openid.mode=checkid_setup").
		End()
}

func TestLoginAutoSubmit(t *testing.T) {
	handler, cleanup := acquireHandler(context.Background(), t, &fakeLibrary{})
	defer cleanup()

	apitest.New().Handler(handler).
		Post("/openid/login").
		FormData("openid_identifier", "bob.example.com").
		Expect(t).
		Status(http.StatusOK).
		Assert(bodyContains(`action="http://op.example.com/auth"`)).
		Assert(bodyContains(`name="openid.mode" value="checkid_setup"`)).
		End()
}

func TestResponseSuccess(t *testing.T) {
	lib := &fakeLibrary{redirect: true, resp: &consumer.Response{
		Status:      consumer.StatusSuccess,
		IdentityURL: "http://bob.example.com/",
		Signed: url.Values{
			"openid.ns.sreg":       {extension.SRegNamespace},
			"openid.sreg.email":    {"bob@example.com"},
			"openid.sreg.nickname": {"bob"},
		},
	}}
	handler, cleanup := acquireHandler(context.Background(), t, lib)
	defer cleanup()

	res := apitest.New().Handler(handler).
		Post("/openid/login").
		FormData("openid_identifier", "bob.example.com").
		Expect(t).
		Status(http.StatusSeeOther).
		End()
	anonymous := sessionCookie(t, res)

	apitest.New().Handler(handler).
		Get("/private").
		Cookie(web.DefaultCookieName, anonymous).
		Expect(t).
		Status(http.StatusUnauthorized).
		End()

	res = apitest.New().Handler(handler).
		Get("/openid/response").
		Query("openid.mode", "id_res").
		Cookie(web.DefaultCookieName, anonymous).
		Expect(t).
		Status(http.StatusSeeOther).
		Header("Location", "http://example.net/trac/").
		End()
	authenticated := sessionCookie(t, res)
	if authenticated == anonymous {
		t.Fatal("login should issue a new session cookie")
	}

	apitest.New().Handler(handler).
		Get("/openid/whoami").
		Cookie(web.DefaultCookieName, authenticated).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.authname", "http://bob.example.com/")).
		End()

	apitest.New().Handler(handler).
		Get("/openid/whoami").
		Cookie(web.DefaultCookieName, anonymous).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.authname", web.Anonymous)).
		End()

	apitest.New().Handler(handler).
		Get("/private").
		Cookie(web.DefaultCookieName, authenticated).
		Expect(t).
		Status(http.StatusOK).
		End()

	apitest.New().Handler(handler).
		Post("/openid/logout").
		Cookie(web.DefaultCookieName, authenticated).
		Expect(t).
		Status(http.StatusSeeOther).
		End()

	apitest.New().Handler(handler).
		Get("/openid/whoami").
		Cookie(web.DefaultCookieName, authenticated).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.authname", web.Anonymous)).
		End()
}

func TestLoginProviders(t *testing.T) {
	cfg := testutil.TestConfig()
	cfg.OpenID.Providers = []config.ProviderConfig{
		{Name: "Launchpad", URL: "https://launchpad.net/~{username}"},
		{Name: "Example", URL: "http://op.example.com/", Small: true},
		{Name: "Hidden", URL: "http://hidden.example.com/"},
	}
	cfg.OpenID.ShowProviders = []string{"Launchpad", "Example"}
	lib := &fakeLibrary{redirect: true}
	handler, cleanup := acquireHandlerWithConfig(context.Background(), t, cfg, lib)
	defer cleanup()

	apitest.New().Handler(handler).
		Get("/openid/login").
		Expect(t).
		Status(http.StatusOK).
		Assert(bodyContains(`value="Launchpad" class="openid_large_btn" data-username="true"`)).
		Assert(bodyContains(`value="Example" class="openid_small_btn"`)).
		Assert(bodyLacks("Hidden")).
		Assert(bodyLacks("openid_highlight")).
		End()

	apitest.New().Handler(handler).
		Post("/openid/login").
		FormData("openid_provider", "Launchpad").
		Expect(t).
		Status(http.StatusBadRequest).
		Assert(bodyContains("Enter your Launchpad username")).
		End()

	apitest.New().Handler(handler).
		Post("/openid/login").
		FormData("openid_provider", "Hidden").
		Expect(t).
		Status(http.StatusBadRequest).
		Assert(bodyContains("Unknown OpenID provider")).
		End()

	res := apitest.New().Handler(handler).
		Post("/openid/login").
		FormData("openid_provider", "Launchpad").
		FormData("openid_username", "bob").
		Expect(t).
		Status(http.StatusSeeOther).
		End()
	if got := lib.identifiers[len(lib.identifiers)-1]; got != "https://launchpad.net/~bob" {
		t.Fatalf("Expecting the provider url with the username got %v", got)
	}

	apitest.New().Handler(handler).
		Get("/openid/login").
		Cookie(web.DefaultCookieName, sessionCookie(t, res)).
		Expect(t).
		Status(http.StatusOK).
		Assert(bodyContains(`value="Launchpad" class="openid_large_btn openid_highlight"`)).
		End()
}

func TestResponseErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		resp   *consumer.Response
		status int
		body   string
	}{
		{name: "failure", resp: &consumer.Response{Status: consumer.StatusFailure, Message: "bad signature"}, status: http.StatusUnauthorized, body: "bad signature"},
		{name: "cancel", resp: &consumer.Response{Status: consumer.StatusCancel}, status: http.StatusUnauthorized, body: "cancelled"},
		{name: "setup needed", resp: &consumer.Response{Status: consumer.StatusSetupNeeded}, status: http.StatusUnauthorized, body: "setup"},
		{name: "unhandled", resp: &consumer.Response{Status: consumer.Status(42)}, status: http.StatusInternalServerError, body: "unable to complete authentication"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			handler, cleanup := acquireHandler(context.Background(), t, &fakeLibrary{resp: tc.resp})
			defer cleanup()
			apitest.New().Handler(handler).
				Get("/openid/response").
				Expect(t).
				Status(tc.status).
				Assert(bodyContains(tc.body)).
				End()
		})
	}
}
