package consumer

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/andrebq/authopenid/internal/config"
)

const usernamePlaceholder = "{username}"

// Providers lists the configured providers offered to visitors, large
// buttons first.
func (c *Consumer) Providers() []config.ProviderConfig {
	var large, small []config.ProviderConfig
	for _, p := range c.cfg.Providers {
		if !c.showProvider(p.Name) {
			continue
		}
		if p.Small {
			small = append(small, p)
		} else {
			large = append(large, p)
		}
	}
	return append(large, small...)
}

func (c *Consumer) showProvider(name string) bool {
	if len(c.cfg.ShowProviders) == 0 {
		return true
	}
	for _, n := range c.cfg.ShowProviders {
		if n == name {
			return true
		}
	}
	return false
}

// ProviderIdentifier turns the provider picked by the visitor into the
// identifier passed to Begin.
func (c *Consumer) ProviderIdentifier(name, username string) (string, error) {
	for _, p := range c.Providers() {
		if p.Name != name {
			continue
		}
		if !NeedsUsername(p) {
			return p.URL, nil
		}
		username = strings.TrimSpace(username)
		if username == "" {
			return "", LoginError{Message: fmt.Sprintf("Enter your %v username", p.Name)}
		}
		return strings.ReplaceAll(p.URL, usernamePlaceholder, url.PathEscape(username)), nil
	}
	return "", LoginError{Message: fmt.Sprintf("Unknown OpenID provider %v", name)}
}

func NeedsUsername(p config.ProviderConfig) bool {
	return strings.Contains(p.URL, usernamePlaceholder)
}
