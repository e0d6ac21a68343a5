package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/andrebq/authopenid/internal/config"
	"github.com/andrebq/authopenid/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestProviders(t *testing.T) {
	ctx := context.Background()
	cfg := testutil.TestConfig()
	cfg.OpenID.Providers = []config.ProviderConfig{
		{Name: "Example", URL: "http://op.example.com/", Small: true},
		{Name: "Launchpad", URL: "https://launchpad.net/~{username}"},
		{Name: "Hidden", URL: "http://hidden.example.com/"},
	}
	cfg.OpenID.ShowProviders = []string{"Example", "Launchpad"}
	c, _, cleanup := acquireConsumer(ctx, t, cfg, &fakeLibrary{})
	defer cleanup()

	var names []string
	for _, p := range c.Providers() {
		names = append(names, p.Name)
	}
	require.Equal(t, []string{"Launchpad", "Example"}, names, "large providers come first")

	id, err := c.ProviderIdentifier("Launchpad", " bob ")
	require.NoError(t, err)
	require.Equal(t, "https://launchpad.net/~bob", id)

	id, err = c.ProviderIdentifier("Example", "ignored")
	require.NoError(t, err)
	require.Equal(t, "http://op.example.com/", id)

	for name, username := range map[string]string{"Launchpad": "", "Hidden": "", "Nope": "bob"} {
		_, err = c.ProviderIdentifier(name, username)
		var loginErr LoginError
		require.True(t, errors.As(err, &loginErr), name)
	}
}
