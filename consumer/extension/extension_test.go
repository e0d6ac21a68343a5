package extension

import (
	"net/url"
	"testing"

	"github.com/andrebq/authopenid/consumer"
	"github.com/andrebq/authopenid/internal/config"
	"github.com/stretchr/testify/require"
)

type (
	recordingRequest struct {
		args []string
	}
)

func (r *recordingRequest) Endpoint() consumer.Endpoint { return consumer.Endpoint{} }

func (r *recordingRequest) AddExtensionArg(namespace, key, value string) {
	r.args = append(r.args, namespace+" "+key+"="+value)
}

func (r *recordingRequest) ShouldSendRedirect() bool { return true }

func (r *recordingRequest) RedirectURL() (string, error) { return "", nil }

func (r *recordingRequest) FormFields() (string, url.Values, error) { return "", nil, nil }

func TestFromNames(t *testing.T) {
	cfg := config.Default().OpenID
	providers, err := FromNames(cfg, []string{"ax", "SReg"})
	require.NoError(t, err)
	require.Len(t, providers, 2)
	require.IsType(t, AX{}, providers[0])
	require.Equal(t, SReg{Required: []string{"email", "nickname"}, Optional: []string{"fullname"}}, providers[1])

	_, err = FromNames(cfg, []string{"sreg", "pape"})
	var unknown UnknownProvider
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "pape", unknown.Name)
}

func TestSReg(t *testing.T) {
	var req recordingRequest
	SReg{Required: []string{"email", "nickname"}, Optional: []string{"fullname"}}.AddToAuthRequest(nil, &req)
	require.Equal(t, []string{
		SRegNamespace + " required=email,nickname",
		SRegNamespace + " optional=fullname",
	}, req.args)

	req = recordingRequest{}
	SReg{}.AddToAuthRequest(nil, &req)
	require.Empty(t, req.args)

	resp := &consumer.Response{Signed: url.Values{
		"openid.ns.sreg":       {SRegNamespace},
		"openid.sreg.email":    {"bob@example.com"},
		"openid.sreg.nickname": {"bob"},
		"openid.sreg.country":  {"BR"},
	}}
	require.Equal(t, map[string]string{"email": "bob@example.com", "nickname": "bob"}, SReg{}.ParseResponse(resp))
	require.Empty(t, SReg{}.ParseResponse(&consumer.Response{}))
}

func TestAX(t *testing.T) {
	var req recordingRequest
	AX{Attributes: DefaultAXAttributes}.AddToAuthRequest(nil, &req)
	require.Equal(t, []string{
		AXNamespace + " mode=fetch_request",
		AXNamespace + " type.email=http://axschema.org/contact/email",
		AXNamespace + " type.nickname=http://axschema.org/namePerson/friendly",
		AXNamespace + " type.fullname=http://axschema.org/namePerson",
		AXNamespace + " type.first=http://axschema.org/namePerson/first",
		AXNamespace + " type.last=http://axschema.org/namePerson/last",
		AXNamespace + " required=email,nickname",
		AXNamespace + " if_available=fullname,first,last",
	}, req.args)
}

func TestAXParseResponse(t *testing.T) {
	ax := AX{Attributes: DefaultAXAttributes}
	resp := &consumer.Response{Signed: url.Values{
		"openid.ns.ext1":             {AXNamespace},
		"openid.ext1.mode":           {"fetch_response"},
		"openid.ext1.type.mail":      {"http://axschema.org/contact/email"},
		"openid.ext1.value.mail":     {"bob@example.com"},
		"openid.ext1.type.given":     {"http://axschema.org/namePerson/first"},
		"openid.ext1.value.given":    {"Bob"},
		"openid.ext1.type.family":    {"http://axschema.org/namePerson/last"},
		"openid.ext1.count.family":   {"1"},
		"openid.ext1.value.family.1": {"Builder"},
		"openid.ext1.type.other":     {"http://example.com/unknown"},
		"openid.ext1.value.other":    {"ignored"},
	}}
	require.Equal(t, map[string]string{
		"email":    "bob@example.com",
		"fullname": "Bob Builder",
	}, ax.ParseResponse(resp))

	resp.Signed.Set("openid.ext1.type.name", "http://axschema.org/namePerson")
	resp.Signed.Set("openid.ext1.value.name", "Robert Builder")
	require.Equal(t, "Robert Builder", ax.ParseResponse(resp)["fullname"])

	resp.Signed.Set("openid.ext1.mode", "store_response_success")
	require.Empty(t, ax.ParseResponse(resp))
}
