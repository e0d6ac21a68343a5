package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type (
	Config struct {
		Server ServerConfig `yaml:"server"`
		OpenID OpenIDConfig `yaml:"openid"`
	}

	ServerConfig struct {
		// BaseURL is the absolute URL of the project, ie.: http://example.net/trac
		BaseURL        string `yaml:"base_url" validate:"required,url"`
		Bind           string `yaml:"bind" validate:"required"`
		InsecureCookie bool   `yaml:"insecure_cookie"`

		// SessionSecret signs the session cookie, a random one is used
		// for the lifetime of the process when empty.
		SessionSecret string `yaml:"session_secret" validate:"omitempty,min=32"`

		// Upstream receives every request outside the login endpoints
		Upstream        string `yaml:"upstream" validate:"omitempty,url"`
		ProtectUpstream bool   `yaml:"protect_upstream"`
	}

	OpenIDConfig struct {
		// AbsoluteTrustRoot announces the server root as trust root instead
		// of the project base url.
		AbsoluteTrustRoot  bool          `yaml:"absolute_trust_root"`
		PreferRedirect     bool          `yaml:"prefer_redirect"`
		ExtensionProviders []string      `yaml:"extension_providers" validate:"dive,oneof=sreg ax"`
		SRegRequired       []string      `yaml:"sreg_required" validate:"dive,oneof=nickname email fullname dob gender postcode country language timezone"`
		SRegOptional       []string      `yaml:"sreg_optional" validate:"dive,oneof=nickname email fullname dob gender postcode country language timezone"`
		DiscoveryCacheTTL  time.Duration `yaml:"discovery_cache_ttl" validate:"min=0"`
		NonceSkew          time.Duration `yaml:"nonce_skew" validate:"gt=0"`
		SessionKey         string        `yaml:"session_key" validate:"required"`

		// Providers are offered as buttons on the login page, ShowProviders
		// restricts them to the listed names when not empty.
		Providers     []ProviderConfig `yaml:"providers" validate:"dive"`
		ShowProviders []string         `yaml:"show_providers"`
	}

	// ProviderConfig is a well known OpenID provider. A {username} in URL
	// is replaced by the name the visitor types.
	ProviderConfig struct {
		Name  string `yaml:"name" validate:"required"`
		URL   string `yaml:"url" validate:"required,startswith=http"`
		Small bool   `yaml:"small"`
	}
)

// Default returns the configuration used when no file is given
// and the base values a config file overrides.
func Default() Config {
	return Config{
		Server: ServerConfig{
			BaseURL: "http://localhost:7011",
			Bind:    "localhost:7011",
		},
		OpenID: OpenIDConfig{
			AbsoluteTrustRoot:  true,
			PreferRedirect:     true,
			ExtensionProviders: []string{"sreg", "ax"},
			SRegRequired:       []string{"email", "nickname"},
			SRegOptional:       []string{"fullname"},
			DiscoveryCacheTTL:  time.Hour,
			NonceSkew:          5 * time.Hour,
			SessionKey:         "openid_session_data",
		},
	}
}

// Load reads the yaml file at path on top of Default, expanding
// environment variables before decoding.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read config file %v, cause %w", path, err)
	}
	return Parse([]byte(os.ExpandEnv(string(content))))
}

// Parse decodes content on top of Default and validates the result.
func Parse(content []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config, cause %w", err)
	}
	cfg.Server.BaseURL = strings.TrimRight(cfg.Server.BaseURL, "/")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
	})
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config, cause %w", err)
	}
	return nil
}
