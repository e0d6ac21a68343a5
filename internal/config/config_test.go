package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  base_url: http://example.net/trac/
openid:
  absolute_trust_root: false
  extension_providers: [ax]
  nonce_skew: 1h
`))
	require.NoError(t, err)
	require.Equal(t, "http://example.net/trac", cfg.Server.BaseURL)
	require.Equal(t, "localhost:7011", cfg.Server.Bind, "missing options keep their defaults")
	require.False(t, cfg.OpenID.AbsoluteTrustRoot)
	require.True(t, cfg.OpenID.PreferRedirect)
	require.Equal(t, []string{"ax"}, cfg.OpenID.ExtensionProviders)
	require.Equal(t, time.Hour, cfg.OpenID.NonceSkew)
	require.Equal(t, time.Hour, cfg.OpenID.DiscoveryCacheTTL)
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.True(t, cfg.OpenID.AbsoluteTrustRoot)
	require.NoError(t, cfg.Validate())
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	for name, content := range map[string]string{
		"relative base url": "server: {base_url: /trac}",
		"unknown provider":  "openid: {extension_providers: [pape]}",
		"unknown sreg":      "openid: {sreg_required: [shoe_size]}",
		"zero skew":         "openid: {nonce_skew: 0s}",
		"empty session key": `openid: {session_key: ""}`,
		"short secret":      "server: {session_secret: abc}",
		"nameless provider": "openid: {providers: [{url: 'http://op.example.com/'}]}",
		"provider url":      "openid: {providers: [{name: x, url: 'ftp://op.example.com/'}]}",
	} {
		_, err := Parse([]byte(content))
		require.Error(t, err, name)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(file, []byte("server:\n  base_url: ${AUTHOPENID_TEST_BASE}\n"), 0644)
	require.NoError(t, err)
	t.Setenv("AUTHOPENID_TEST_BASE", "https://tracker.example.org")
	cfg, err := Load(file)
	require.NoError(t, err)
	require.Equal(t, "https://tracker.example.org", cfg.Server.BaseURL)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestUpstream(t *testing.T) {
	cfg, err := Parse([]byte("server: {upstream: 'http://localhost:8000', protect_upstream: true}"))
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8000", cfg.Server.Upstream)
	require.True(t, cfg.Server.ProtectUpstream)

	_, err = Parse([]byte("server: {upstream: 'not a url'}"))
	require.Error(t, err)
}

func TestProviders(t *testing.T) {
	cfg, err := Parse([]byte(`
openid:
  providers:
    - {name: Launchpad, url: 'https://launchpad.net/~{username}'}
    - {name: Example, url: 'http://op.example.com/', small: true}
  show_providers: [Example]
`))
	require.NoError(t, err)
	require.Equal(t, []ProviderConfig{
		{Name: "Launchpad", URL: "https://launchpad.net/~{username}"},
		{Name: "Example", URL: "http://op.example.com/", Small: true},
	}, cfg.OpenID.Providers)
	require.Equal(t, []string{"Example"}, cfg.OpenID.ShowProviders)
}
