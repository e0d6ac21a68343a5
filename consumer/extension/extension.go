// Package extension contains the OpenID extensions used to ask the
// provider for profile data: Simple Registration (sreg) and Attribute
// Exchange (ax).
package extension

import (
	"fmt"
	"strings"

	"github.com/andrebq/authopenid/consumer"
	"github.com/andrebq/authopenid/internal/config"
	"github.com/andrebq/authopenid/web"
)

type (
	SReg struct {
		Required []string
		Optional []string
	}

	// AX requests Attributes, keyed by the name returned from ParseResponse
	AX struct {
		Attributes []Attribute
	}

	Attribute struct {
		Name     string
		TypeURI  string
		Required bool
	}

	UnknownProvider struct {
		Name string
	}
)

const (
	SRegNamespace = "http://openid.net/extensions/sreg/1.1"
	AXNamespace   = "http://openid.net/srv/ax/1.0"
)

var (
	sregFields = []string{"nickname", "email", "fullname"}

	DefaultAXAttributes = []Attribute{
		{Name: "email", TypeURI: "http://axschema.org/contact/email", Required: true},
		{Name: "nickname", TypeURI: "http://axschema.org/namePerson/friendly", Required: true},
		{Name: "fullname", TypeURI: "http://axschema.org/namePerson"},
		{Name: "first", TypeURI: "http://axschema.org/namePerson/first"},
		{Name: "last", TypeURI: "http://axschema.org/namePerson/last"},
	}
)

func (u UnknownProvider) Error() string {
	return fmt.Sprintf("unknown extension provider %q", u.Name)
}

// FromNames builds the providers listed in names, keeping their order.
func FromNames(cfg config.OpenIDConfig, names []string) ([]consumer.ExtensionProvider, error) {
	var out []consumer.ExtensionProvider
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "sreg":
			out = append(out, SReg{Required: cfg.SRegRequired, Optional: cfg.SRegOptional})
		case "ax":
			out = append(out, AX{Attributes: DefaultAXAttributes})
		default:
			return nil, UnknownProvider{Name: n}
		}
	}
	return out, nil
}

func (s SReg) AddToAuthRequest(req *web.Request, authReq consumer.AuthRequest) {
	if len(s.Required) > 0 {
		authReq.AddExtensionArg(SRegNamespace, "required", strings.Join(s.Required, ","))
	}
	if len(s.Optional) > 0 {
		authReq.AddExtensionArg(SRegNamespace, "optional", strings.Join(s.Optional, ","))
	}
}

func (s SReg) ParseResponse(resp *consumer.Response) map[string]string {
	args := resp.ExtensionArgs(SRegNamespace)
	out := map[string]string{}
	for _, f := range sregFields {
		if v, ok := args[f]; ok && v != "" {
			out[f] = v
		}
	}
	return out
}

func (a AX) AddToAuthRequest(req *web.Request, authReq consumer.AuthRequest) {
	authReq.AddExtensionArg(AXNamespace, "mode", "fetch_request")
	var required, optional []string
	for _, attr := range a.Attributes {
		authReq.AddExtensionArg(AXNamespace, "type."+attr.Name, attr.TypeURI)
		if attr.Required {
			required = append(required, attr.Name)
		} else {
			optional = append(optional, attr.Name)
		}
	}
	if len(required) > 0 {
		authReq.AddExtensionArg(AXNamespace, "required", strings.Join(required, ","))
	}
	if len(optional) > 0 {
		authReq.AddExtensionArg(AXNamespace, "if_available", strings.Join(optional, ","))
	}
}

// ParseResponse maps the values in a fetch_response back to attribute
// names. The provider may use its own aliases, so they are resolved
// through the type.<alias> arguments.
func (a AX) ParseResponse(resp *consumer.Response) map[string]string {
	args := resp.ExtensionArgs(AXNamespace)
	out := map[string]string{}
	if args["mode"] != "fetch_response" {
		return out
	}
	byURI := map[string]string{}
	for _, attr := range a.Attributes {
		byURI[attr.TypeURI] = attr.Name
	}
	for k, uri := range args {
		if !strings.HasPrefix(k, "type.") {
			continue
		}
		name, ok := byURI[uri]
		if !ok {
			continue
		}
		alias := strings.TrimPrefix(k, "type.")
		v, ok := args["value."+alias]
		if !ok {
			v = args["value."+alias+".1"]
		}
		if v != "" {
			out[name] = v
		}
	}
	if _, ok := out["fullname"]; !ok {
		full := strings.TrimSpace(out["first"] + " " + out["last"])
		if full != "" {
			out["fullname"] = full
		}
	}
	delete(out, "first")
	delete(out, "last")
	return out
}
